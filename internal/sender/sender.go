// Package sender runs send batches: one template load fanned out over the
// subscriber list, one merge and one delivery per recipient.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/shineum/newsletter-lite/internal/events"
	"github.com/shineum/newsletter-lite/internal/merge"
	"github.com/shineum/newsletter-lite/internal/provider"
	"github.com/shineum/newsletter-lite/internal/subscriber"
	"github.com/shineum/newsletter-lite/internal/template"
	"github.com/shineum/newsletter-lite/internal/track"
)

// TemplateLoader materializes the draft into a reusable template.
type TemplateLoader interface {
	Load(ctx context.Context, draftID string) (*template.Template, error)
}

// Batch sends one newsletter campaign to every subscribed recipient.
type Batch struct {
	Loader     TemplateLoader
	Store      subscriber.Store
	Events     events.Log
	Provider   provider.Provider
	DraftID    string
	CampaignID string

	// HookURL is the hook endpoint base that unsubscribe links and
	// tracking pixels point at.
	HookURL string
}

// Result summarizes a completed batch run.
type Result struct {
	Sent    int
	Skipped int
	Failed  int
}

// Run loads the template once and sends one merged newsletter per
// subscribed recipient. A failed delivery is logged and skipped; it never
// aborts the rest of the batch. Template load failures abort before any
// send happens.
func (b *Batch) Run(ctx context.Context) (*Result, error) {
	tpl, err := b.Loader.Load(ctx, b.DraftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	recipients, err := b.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}

	slog.Info("starting send batch",
		"campaign_id", b.CampaignID,
		"recipients", len(recipients),
		"provider", b.Provider.Name(),
	)

	res := &Result{}
	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("batch interrupted: %w", err)
		}

		if r.Status != subscriber.StatusSubscribed || r.Email == "" {
			res.Skipped++
			continue
		}

		msg := merge.Merge(tpl, merge.Data{
			Email:      r.Email,
			FirstName:  r.FirstName,
			UnsubLink:  track.UnsubscribeURL(b.HookURL, r.Token),
			CampaignID: b.CampaignID,
		})

		if err := b.Provider.Send(ctx, msg); err != nil {
			slog.Error("failed to send newsletter",
				"to", r.Email,
				"error", err,
			)
			res.Failed++
			continue
		}

		b.Events.Append(ctx, events.KindSent, r.Token, b.CampaignID, "")
		res.Sent++
	}

	slog.Info("send batch finished",
		"campaign_id", b.CampaignID,
		"sent", res.Sent,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// Schedule runs the batch on the given cron schedule until the context is
// cancelled. Overlapping runs are skipped so at most one batch is in
// flight at a time.
func (b *Batch) Schedule(ctx context.Context, spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := c.AddFunc(spec, func() {
		if _, err := b.Run(ctx); err != nil {
			slog.Error("scheduled batch failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}

	slog.Info("batch scheduler started", "schedule", spec)
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	slog.Info("batch scheduler stopped")
	return nil
}
