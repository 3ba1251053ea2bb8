// Package assets resolves inline image parts of a draft MIME tree into an
// alias table mapping content-identifier spellings to decoded binary blobs.
package assets

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shineum/newsletter-lite/internal/message"
	"github.com/shineum/newsletter-lite/internal/mimetree"
	"github.com/shineum/newsletter-lite/internal/wirecodec"
)

// maxAttempts is the number of fetch attempts per attachment body.
const maxAttempts = 3

// baseRetryDelay is multiplied by the attempt number for linear backoff.
const baseRetryDelay = 250 * time.Millisecond

// defaultFilename names assets whose MIME part carries no filename.
const defaultFilename = "inline"

// cidRef matches a cid: reference inside HTML attribute values.
var cidRef = regexp.MustCompile(`cid:([^"'\s>]+)`)

// Fetcher retrieves one attachment's body in whatever wire shape the
// provider chooses. Transient failures are retried by the resolver.
type Fetcher interface {
	FetchAttachment(ctx context.Context, messageID, attachmentID string) (any, error)
}

// Resolver builds alias tables for draft messages.
type Resolver struct {
	fetcher Fetcher
}

// NewResolver creates a Resolver backed by the given attachment fetcher.
func NewResolver(f Fetcher) *Resolver {
	return &Resolver{fetcher: f}
}

// Resolve walks the MIME tree and returns an alias table covering every
// image part that can be correlated to a cid: reference. Parts without a
// Content-ID or X-Attachment-Id header are ordinary attachments and are
// skipped. A failed fetch after all retries fails the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, root *mimetree.Node, messageID string) (message.AliasTable, error) {
	table := make(message.AliasTable)

	var candidates []*mimetree.Node
	mimetree.Walk(root, func(n *mimetree.Node) {
		if !strings.HasPrefix(n.MediaType, "image/") || n.AttachmentID == "" {
			return
		}
		if n.Header("Content-ID") == "" && n.Header("X-Attachment-Id") == "" {
			return
		}
		candidates = append(candidates, n)
	})

	for _, node := range candidates {
		payload, err := r.fetchWithRetry(ctx, messageID, node)
		if err != nil {
			return nil, err
		}

		content, err := wirecodec.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attachment %q: %w", node.Filename, err)
		}

		filename := node.Filename
		if filename == "" {
			filename = defaultFilename
		}
		asset := &message.InlineAsset{
			Filename:    filename,
			ContentType: node.MediaType,
			Content:     content,
		}

		for _, key := range AliasKeys(node.Header("Content-ID"), node.Header("X-Attachment-Id")) {
			table[key] = asset
		}
	}

	return table, nil
}

// fetchWithRetry fetches one attachment body with linear backoff, treating
// empty responses the same as failures.
func (r *Resolver) fetchWithRetry(ctx context.Context, messageID string, node *mimetree.Node) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, time.Duration(attempt-1)*baseRetryDelay); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			slog.Debug("retrying attachment fetch",
				"attachment_id", node.AttachmentID,
				"attempt", attempt,
			)
		}

		payload, err := r.fetcher.FetchAttachment(ctx, messageID, node.AttachmentID)
		if err == nil && !emptyPayload(payload) {
			return payload, nil
		}
		if err == nil {
			err = fmt.Errorf("empty attachment response")
		}
		lastErr = err
	}

	return nil, fmt.Errorf("failed to fetch attachment %q after %d attempts: %w",
		node.Filename, maxAttempts, lastErr)
}

// AliasKeys derives every alias a cid: reference might use for a part:
// the bracket-stripped Content-ID, its local part before any @, the
// re-bracketed form, and the trimmed X-Attachment-Id. HTML producers
// disagree on which spelling they emit, so all are registered.
func AliasKeys(contentID, attachmentHeaderID string) []string {
	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	if contentID != "" {
		stripped := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(contentID), "<"), ">")
		add(stripped)
		if at := strings.Index(stripped, "@"); at > 0 {
			add(stripped[:at])
		}
		add("<" + stripped + ">")
	}
	add(strings.TrimSpace(attachmentHeaderID))

	return keys
}

// References returns the unique cid: references in html, in order of first
// appearance. These are the aliases the transport must resolve at send time.
func References(html string) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, m := range cidRef.FindAllStringSubmatch(html, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	return refs
}

// Unresolved returns the cid: references in html that have no entry in the
// alias table. A non-empty result means the newsletter will render with
// broken images; callers log it as a warning, not an error.
func Unresolved(html string, table message.AliasTable) []string {
	var missing []string
	for _, ref := range References(html) {
		if _, ok := table[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	return missing
}

// sleepWithContext waits for the specified duration or until the context is
// cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// emptyPayload reports whether a fetch response carries no usable body.
func emptyPayload(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case string:
		return p == ""
	case []byte:
		return len(p) == 0
	case []any:
		return len(p) == 0
	default:
		return false
	}
}
