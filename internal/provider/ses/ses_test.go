package ses

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/newsletter-lite/internal/message"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func plainMessage() *message.Rendered {
	return &message.Rendered{
		To:      "ann@example.com",
		Subject: "Weekly News",
		HTML:    "<p>Hi Ann</p>",
	}
}

func inlineMessage() *message.Rendered {
	return &message.Rendered{
		To:      "ann@example.com",
		Subject: "Weekly News",
		HTML:    `<p>Hi Ann</p><img src="cid:logo@x">`,
		Assets: message.AliasTable{
			"logo@x": &message.InlineAsset{
				Filename:    "logo.png",
				ContentType: "image/png",
				Content:     []byte{0x89, 0x50, 0x4e, 0x47},
			},
		},
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("news@example.com", &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimplePathWithoutAssets(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("news@example.com", mock)

	if err := p.Send(context.Background(), plainMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
	if mock.lastInput.Content.Simple == nil {
		t.Fatal("expected simple content")
	}
	if got := aws.ToString(mock.lastInput.Content.Simple.Body.Html.Data); got != "<p>Hi Ann</p>" {
		t.Errorf("html body: got %q", got)
	}
	if got := mock.lastInput.Destination.ToAddresses; len(got) != 1 || got[0] != "ann@example.com" {
		t.Errorf("to addresses: got %v", got)
	}
}

func TestSend_RawPathWithInlineAssets(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("news@example.com", mock)

	if err := p.Send(context.Background(), inlineMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.lastInput.Content.Raw == nil {
		t.Fatal("expected raw content")
	}
	raw := string(mock.lastInput.Content.Raw.Data)

	if !strings.Contains(raw, "Content-Type: multipart/related") {
		t.Errorf("raw message missing multipart/related content type:\n%s", raw)
	}
	if !strings.Contains(raw, "<logo@x>") {
		t.Errorf("raw message missing Content-ID for inline part:\n%s", raw)
	}
	if !strings.Contains(raw, `src="cid:logo@x"`) {
		t.Errorf("html part lost cid reference:\n%s", raw)
	}
	if !strings.Contains(raw, "Content-Transfer-Encoding: base64") {
		t.Errorf("inline part not base64 encoded:\n%s", raw)
	}
	if !strings.Contains(raw, "iVBORw==") {
		t.Errorf("inline part content missing:\n%s", raw)
	}
}

func TestSend_UnresolvedReferencesUseSimplePath(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("news@example.com", mock)

	msg := &message.Rendered{
		To:      "ann@example.com",
		Subject: "Weekly News",
		HTML:    `<img src="cid:missing">`,
		Assets:  message.AliasTable{},
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.lastInput.Content.Simple == nil {
		t.Error("expected simple content when no reference resolves")
	}
}

func TestSend_RetryOnError(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	mock.sendFn = func(_ context.Context, _ *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
		if mock.callCount < 2 {
			return nil, errors.New("throttled")
		}
		return &sesv2.SendEmailOutput{}, nil
	}
	p := NewWithClient("news@example.com", mock)

	if err := p.Send(context.Background(), plainMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount != 2 {
		t.Errorf("call count: got %d, want 2", mock.callCount)
	}
}

func TestSend_AllRetriesExhausted(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	mock.sendFn = func(_ context.Context, _ *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
		return nil, errors.New("permanent failure")
	}
	p := NewWithClient("news@example.com", mock)

	err := p.Send(context.Background(), plainMessage())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "permanent failure") {
		t.Errorf("error should wrap last failure: %v", err)
	}
	if mock.callCount != maxRetries+1 {
		t.Errorf("call count: got %d, want %d", mock.callCount, maxRetries+1)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	mock.sendFn = func(_ context.Context, _ *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
		return nil, errors.New("transient")
	}
	p := NewWithClient("news@example.com", mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Send(ctx, plainMessage())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "context cancelled") {
		t.Errorf("error: got %v, want context cancellation", err)
	}
}

func TestBuildSimpleInput(t *testing.T) {
	t.Parallel()

	input := buildSimpleInput("news@example.com", plainMessage())

	if got := aws.ToString(input.FromEmailAddress); got != "news@example.com" {
		t.Errorf("from: got %q", got)
	}
	if got := aws.ToString(input.Content.Simple.Subject.Data); got != "Weekly News" {
		t.Errorf("subject: got %q", got)
	}
	if input.Content.Simple.Body.Html == nil {
		t.Error("expected html body")
	}
}

func TestBuildRelatedMessage(t *testing.T) {
	t.Parallel()

	raw, err := buildRelatedMessage("news@example.com", inlineMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := string(raw)
	for _, want := range []string{
		"From: news@example.com",
		"To: ann@example.com",
		"Subject: ",
		"MIME-Version: 1.0",
		"Content-Type: multipart/related",
		"Content-Type: text/html; charset=UTF-8",
		"Content-Type: image/png",
		"filename=logo.png",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("raw message missing %q:\n%s", want, s)
		}
	}
}
