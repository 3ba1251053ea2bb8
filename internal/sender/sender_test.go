package sender

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/newsletter-lite/internal/events"
	"github.com/shineum/newsletter-lite/internal/message"
	"github.com/shineum/newsletter-lite/internal/subscriber"
	"github.com/shineum/newsletter-lite/internal/template"
)

type fakeLoader struct {
	tpl *template.Template
	err error
}

func (f *fakeLoader) Load(context.Context, string) (*template.Template, error) {
	return f.tpl, f.err
}

type fakeStore struct {
	recipients []subscriber.Recipient
	err        error
}

func (f *fakeStore) List(context.Context) ([]subscriber.Recipient, error) {
	return f.recipients, f.err
}

func (f *fakeStore) Unsubscribe(context.Context, string) (bool, error) {
	return false, nil
}

type fakeProvider struct {
	sendFn func(msg *message.Rendered) error
	sent   []*message.Rendered
}

func (f *fakeProvider) Send(_ context.Context, msg *message.Rendered) error {
	if f.sendFn != nil {
		if err := f.sendFn(msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeProvider) Name() string { return "fake" }

type recordingLog struct {
	kinds  []events.Kind
	tokens []string
}

func (l *recordingLog) Append(_ context.Context, kind events.Kind, token, _, _ string) {
	l.kinds = append(l.kinds, kind)
	l.tokens = append(l.tokens, token)
}

func testTemplate() *template.Template {
	return &template.Template{
		Subject: "Weekly News",
		HTML:    "<p>Hi {{first_name}}</p><a href=\"{{unsub_link}}\">unsubscribe</a>",
		Mode:    template.UnsubModeToken,
	}
}

func testBatch(loader TemplateLoader, store subscriber.Store, prov *fakeProvider, log events.Log) *Batch {
	return &Batch{
		Loader:     loader,
		Store:      store,
		Events:     log,
		Provider:   prov,
		DraftID:    "draft-1",
		CampaignID: "newsletter",
		HookURL:    "https://news.example.com/hook",
	}
}

func TestRun_SendsToSubscribedRecipients(t *testing.T) {
	t.Parallel()

	store := &fakeStore{recipients: []subscriber.Recipient{
		{Email: "ann@example.com", FirstName: "Ann", Token: "tok-ann", Status: subscriber.StatusSubscribed},
		{Email: "bob@example.com", FirstName: "Bob", Token: "tok-bob", Status: subscriber.StatusUnsubscribed},
		{Email: "", FirstName: "Ghost", Token: "tok-ghost", Status: subscriber.StatusSubscribed},
	}}
	prov := &fakeProvider{}
	log := &recordingLog{}

	res, err := testBatch(&fakeLoader{tpl: testTemplate()}, store, prov, log).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Sent != 1 || res.Skipped != 2 || res.Failed != 0 {
		t.Errorf("result: got %+v, want 1 sent, 2 skipped", *res)
	}
	if len(prov.sent) != 1 {
		t.Fatalf("provider calls: got %d, want 1", len(prov.sent))
	}

	msg := prov.sent[0]
	if msg.To != "ann@example.com" {
		t.Errorf("to: got %q", msg.To)
	}
	if !strings.Contains(msg.HTML, "Hi Ann") {
		t.Errorf("merged body missing first name: %q", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "mode=unsub") || !strings.Contains(msg.HTML, "t=tok-ann") {
		t.Errorf("merged body missing unsubscribe link: %q", msg.HTML)
	}

	if len(log.kinds) != 1 || log.kinds[0] != events.KindSent {
		t.Errorf("events: got %v, want one sent", log.kinds)
	}
	if log.tokens[0] != "tok-ann" {
		t.Errorf("event token: got %q, want %q", log.tokens[0], "tok-ann")
	}
}

func TestRun_FailedDeliveryDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	store := &fakeStore{recipients: []subscriber.Recipient{
		{Email: "ann@example.com", FirstName: "Ann", Token: "tok-ann", Status: subscriber.StatusSubscribed},
		{Email: "bob@example.com", FirstName: "Bob", Token: "tok-bob", Status: subscriber.StatusSubscribed},
	}}
	prov := &fakeProvider{
		sendFn: func(msg *message.Rendered) error {
			if msg.To == "ann@example.com" {
				return errors.New("mailbox full")
			}
			return nil
		},
	}
	log := &recordingLog{}

	res, err := testBatch(&fakeLoader{tpl: testTemplate()}, store, prov, log).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Sent != 1 || res.Failed != 1 {
		t.Errorf("result: got %+v, want 1 sent, 1 failed", *res)
	}
	if len(log.kinds) != 1 {
		t.Errorf("only the successful delivery should record an event, got %v", log.kinds)
	}
}

func TestRun_TemplateLoadFailureAbortsBeforeSending(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{}
	store := &fakeStore{recipients: []subscriber.Recipient{
		{Email: "ann@example.com", Token: "tok-ann", Status: subscriber.StatusSubscribed},
	}}

	_, err := testBatch(&fakeLoader{err: errors.New("draft gone")}, store, prov, &recordingLog{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "draft gone") {
		t.Errorf("error should wrap load failure: %v", err)
	}
	if len(prov.sent) != 0 {
		t.Errorf("no sends should happen after load failure, got %d", len(prov.sent))
	}
}

func TestRun_ListFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{err: errors.New("db down")}
	_, err := testBatch(&fakeLoader{tpl: testTemplate()}, store, &fakeProvider{}, &recordingLog{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "db down") {
		t.Errorf("error should wrap list failure: %v", err)
	}
}

func TestRun_ContextCancelledMidBatch(t *testing.T) {
	t.Parallel()

	store := &fakeStore{recipients: []subscriber.Recipient{
		{Email: "ann@example.com", Token: "tok-ann", Status: subscriber.StatusSubscribed},
		{Email: "bob@example.com", Token: "tok-bob", Status: subscriber.StatusSubscribed},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	prov := &fakeProvider{
		sendFn: func(*message.Rendered) error {
			cancel()
			return nil
		},
	}

	res, err := testBatch(&fakeLoader{tpl: testTemplate()}, store, prov, &recordingLog{}).Run(ctx)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if res.Sent != 1 {
		t.Errorf("sent before cancellation: got %d, want 1", res.Sent)
	}
}

func TestSchedule_InvalidSpec(t *testing.T) {
	t.Parallel()

	b := testBatch(&fakeLoader{tpl: testTemplate()}, &fakeStore{}, &fakeProvider{}, &recordingLog{})
	err := b.Schedule(context.Background(), "not a cron spec")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "invalid cron schedule") {
		t.Errorf("error: got %v", err)
	}
}
