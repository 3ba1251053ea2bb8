// Package draft fetches stored draft messages from Microsoft Graph using
// OAuth2 client credentials. It is the system's only source of template
// material: subject, HTML body, MIME structure, and attachment bodies.
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/newsletter-lite/internal/mimetree"
	"github.com/shineum/newsletter-lite/internal/template"
)

// maxRetries is the retry budget for rate-limited or unauthorized requests.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// GraphSourceConfig holds the configuration for creating a GraphSource.
type GraphSourceConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Mailbox      string
}

// GraphSource reads drafts and attachment bodies from the Microsoft Graph
// API. It implements template.Source and assets.Fetcher.
type GraphSource struct {
	mailbox    string
	baseURL    string
	httpClient *http.Client
	token      *tokenCache
}

// NewGraphSource creates a GraphSource with the given configuration.
func NewGraphSource(cfg GraphSourceConfig) *GraphSource {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		cfg.TenantID,
	)

	client := &http.Client{Timeout: 30 * time.Second}

	return &GraphSource{
		mailbox:    cfg.Mailbox,
		baseURL:    "https://graph.microsoft.com/v1.0",
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// newWithOverrides creates a GraphSource with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphSourceConfig, baseURL, tokenURL string, client *http.Client) *GraphSource {
	return &GraphSource{
		mailbox:    cfg.Mailbox,
		baseURL:    baseURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// FetchDraft retrieves the draft's subject, best-effort HTML body, and a
// MIME tree whose image leaves reference their attachment ids. When the
// message body accessor returns nothing usable, the raw RFC 5322 message is
// fetched and grafted into the tree so the loader's fallback extraction
// can find the text/html part.
func (g *GraphSource) FetchDraft(ctx context.Context, draftID string) (*template.Draft, error) {
	if draftID == "" {
		return nil, fmt.Errorf("draft id is not set")
	}

	var msg graphMessage
	msgPath := fmt.Sprintf("/users/%s/messages/%s?$select=subject,body",
		url.PathEscape(g.mailbox), url.PathEscape(draftID))
	if err := g.getJSON(ctx, msgPath, &msg); err != nil {
		return nil, fmt.Errorf("failed to fetch draft %s: %w", draftID, err)
	}

	var listing attachmentListing
	attPath := fmt.Sprintf("/users/%s/messages/%s/attachments?$select=id,name,contentType,contentId,isInline",
		url.PathEscape(g.mailbox), url.PathEscape(draftID))
	if err := g.getJSON(ctx, attPath, &listing); err != nil {
		return nil, fmt.Errorf("failed to list attachments for draft %s: %w", draftID, err)
	}

	root := &mimetree.Node{MediaType: "multipart/related"}
	for _, att := range listing.Value {
		node := &mimetree.Node{
			MediaType:    att.ContentType,
			Filename:     att.Name,
			AttachmentID: att.ID,
		}
		if att.ContentID != "" {
			node.Headers = append(node.Headers, mimetree.Header{
				Name:  "Content-ID",
				Value: att.ContentID,
			})
		}
		root.Children = append(root.Children, node)
	}

	html := ""
	if msg.Body.ContentType == "html" {
		html = msg.Body.Content
	}
	if html == "" {
		// The body accessor is the reliable path; falling back to the raw
		// message is lossier but better than failing the whole load.
		raw, err := g.fetchRawMessage(ctx, draftID)
		if err != nil {
			return nil, fmt.Errorf("draft %s has no html body and raw fetch failed: %w", draftID, err)
		}
		tree, err := mimetree.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse raw draft %s: %w", draftID, err)
		}
		root.Children = append(root.Children, tree)
		slog.Debug("draft body accessor empty, using raw MIME fallback", "draft_id", draftID)
	}

	return &template.Draft{
		Subject:   msg.Subject,
		HTML:      html,
		Root:      root,
		MessageID: draftID,
	}, nil
}

// FetchAttachment retrieves one attachment's body. The payload is returned
// in whatever shape the API produced it; the wire codec sorts it out.
func (g *GraphSource) FetchAttachment(ctx context.Context, messageID, attachmentID string) (any, error) {
	var att map[string]any
	path := fmt.Sprintf("/users/%s/messages/%s/attachments/%s",
		url.PathEscape(g.mailbox), url.PathEscape(messageID), url.PathEscape(attachmentID))
	if err := g.getJSON(ctx, path, &att); err != nil {
		return nil, fmt.Errorf("failed to fetch attachment %s: %w", attachmentID, err)
	}
	return att["contentBytes"], nil
}

// fetchRawMessage retrieves the draft as raw RFC 5322 bytes.
func (g *GraphSource) fetchRawMessage(ctx context.Context, draftID string) ([]byte, error) {
	path := fmt.Sprintf("/users/%s/messages/%s/$value",
		url.PathEscape(g.mailbox), url.PathEscape(draftID))
	body, err := g.get(ctx, path, "")
	if err != nil {
		return nil, err
	}
	return body, nil
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (g *GraphSource) getJSON(ctx context.Context, path string, out any) error {
	body, err := g.get(ctx, path, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// get performs an authenticated GET request against the Graph API.
// A 401 response refreshes the token once and retries immediately; a 429
// response waits out the Retry-After header (or backs off) and retries
// until the attempt budget is spent.
func (g *GraphSource) get(ctx context.Context, path, accept string) ([]byte, error) {
	tokenRefreshed := false
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		body, status, retryAfter, err := g.doGet(ctx, path, accept)
		if err != nil {
			return nil, err
		}
		if status == http.StatusOK {
			return body, nil
		}

		lastErr = graphAPIError(status, body)

		switch {
		case status == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := g.token.ForceRefresh(); refreshErr != nil {
				return nil, fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
		case status == http.StatusTooManyRequests:
			delay := retryAfterDelay(retryAfter, attempt)
			slog.Info("rate limited by Graph API", "retry_after", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return nil, lastErr
		}
	}

	return nil, lastErr
}

// doGet performs one authenticated GET request and returns the body,
// status code, and Retry-After header.
func (g *GraphSource) doGet(ctx context.Context, path, accept string) ([]byte, int, string, error) {
	token, err := g.token.Token()
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to read response: %w", err)
	}

	return body, resp.StatusCode, resp.Header.Get("Retry-After"), nil
}

// graphAPIError builds an error from a non-200 Graph response, surfacing
// the API's own message when the body parses as a Graph error envelope.
func graphAPIError(status int, body []byte) error {
	var errResp graphErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("Graph API error (HTTP %d): %s", status, errResp.Error.Message)
	}
	return fmt.Errorf("Graph API error (HTTP %d): %s", status, string(body))
}

// retryAfterDelay parses the Retry-After header value and returns the
// appropriate delay. Falls back to exponential backoff if the header is
// missing or unparseable.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter == "" {
		return backoffDelay(attempt)
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return backoffDelay(attempt)
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
