// Package template materializes a stored draft message into an immutable,
// reusable Template: subject, HTML body with placeholders, and the resolved
// inline asset table. One Template serves a whole send batch; it is never
// mutated after Load returns.
package template

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/shineum/newsletter-lite/internal/assets"
	"github.com/shineum/newsletter-lite/internal/message"
	"github.com/shineum/newsletter-lite/internal/mimetree"
	"github.com/shineum/newsletter-lite/internal/wirecodec"
)

// PlaceholderFirstName is replaced per recipient with the escaped first name.
const PlaceholderFirstName = "{{first_name}}"

// PlaceholderUnsubLink is replaced per recipient with the unsubscribe URL.
const PlaceholderUnsubLink = "{{unsub_link}}"

// maxReplacementRunes is the threshold above which a UTF-8 decode of the
// HTML body is assumed to have guessed the wrong charset.
const maxReplacementRunes = 5

// UnsubMode selects how the unsubscribe link is substituted into the body.
// It is decided once per template, never per occurrence.
type UnsubMode int

const (
	// UnsubModeToken replaces the literal {{unsub_link}} placeholder.
	UnsubModeToken UnsubMode = iota
	// UnsubModeLiteralURL replaces a configured literal placeholder URL.
	UnsubModeLiteralURL
)

// Draft is the raw draft representation returned by a Source.
type Draft struct {
	Subject   string
	HTML      string // best-effort decoded body; empty if only the tree is usable
	Root      *mimetree.Node
	MessageID string
}

// Source fetches the stored draft a Template is built from.
type Source interface {
	FetchDraft(ctx context.Context, draftID string) (*Draft, error)
}

// Template is the immutable per-batch artifact the merge engine consumes.
type Template struct {
	Subject string
	HTML    string
	Assets  message.AliasTable

	// Mode and PlaceholderURL record the unsubscribe substitution decision
	// made at load time.
	Mode           UnsubMode
	PlaceholderURL string
}

// Loader builds Templates from a draft source.
type Loader struct {
	source         Source
	resolver       *assets.Resolver
	placeholderURL string
}

// NewLoader creates a Loader. placeholderURL is the configured literal URL
// that stands in for {{unsub_link}} in drafts authored without the
// placeholder syntax; it may be empty.
func NewLoader(source Source, resolver *assets.Resolver, placeholderURL string) *Loader {
	return &Loader{
		source:         source,
		resolver:       resolver,
		placeholderURL: placeholderURL,
	}
}

// Load fetches the draft, extracts and validates its HTML body, and
// resolves inline assets. Validation failures abort with an error naming
// every missing requirement; asset resolution failures degrade to an empty
// table because a newsletter without images is still sendable.
func (l *Loader) Load(ctx context.Context, draftID string) (*Template, error) {
	if draftID == "" {
		return nil, fmt.Errorf("draft id is not set")
	}

	draft, err := l.source.FetchDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch draft: %w", err)
	}

	html := draft.HTML
	if html == "" {
		// Naive MIME body decoding is lossy for non-ASCII text, so the
		// dedicated accessor is preferred; this path only runs when the
		// source could not provide it.
		html, err = extractHTML(draft.Root)
		if err != nil {
			return nil, err
		}
	}

	mode, err := l.validate(html)
	if err != nil {
		return nil, err
	}

	table, err := l.resolver.Resolve(ctx, draft.Root, draft.MessageID)
	if err != nil {
		slog.Warn("inline asset resolution failed, sending without images", "error", err)
		table = make(message.AliasTable)
	}

	if missing := assets.Unresolved(html, table); len(missing) > 0 {
		slog.Warn("cid references without resolved assets, images will render broken",
			"references", missing,
		)
	}

	return &Template{
		Subject:        draft.Subject,
		HTML:           html,
		Assets:         table,
		Mode:           mode,
		PlaceholderURL: l.placeholderURL,
	}, nil
}

// validate checks the template body and decides the unsubscribe
// substitution mode. All problems are reported together.
func (l *Loader) validate(html string) (UnsubMode, error) {
	var problems []string

	if html == "" {
		problems = append(problems, "body is empty")
	}
	if !strings.Contains(html, PlaceholderFirstName) {
		problems = append(problems, fmt.Sprintf("missing %s placeholder", PlaceholderFirstName))
	}

	mode := UnsubModeToken
	switch {
	case strings.Contains(html, PlaceholderUnsubLink):
		mode = UnsubModeToken
	case l.placeholderURL != "" && strings.Contains(html, l.placeholderURL):
		mode = UnsubModeLiteralURL
	default:
		problems = append(problems, fmt.Sprintf("missing %s placeholder or placeholder URL %q",
			PlaceholderUnsubLink, l.placeholderURL))
	}

	if len(problems) > 0 {
		return 0, fmt.Errorf("draft template invalid: %s", strings.Join(problems, "; "))
	}
	return mode, nil
}

// extractHTML finds the first text/html node by depth-first search and
// decodes its body as text.
func extractHTML(root *mimetree.Node) (string, error) {
	node := mimetree.FindFirst(root, func(n *mimetree.Node) bool {
		return n.MediaType == "text/html"
	})
	if node == nil {
		return "", fmt.Errorf("draft has no text/html part")
	}

	raw, err := wirecodec.Decode(node.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode html part: %w", err)
	}
	return decodeText(raw), nil
}

// decodeText interprets bytes as UTF-8, retrying as ISO-8859-1 when the
// result carries enough replacement runes to indicate a wrong charset
// guess. Whichever decoding has fewer replacement runes wins.
func decodeText(b []byte) string {
	utf := string(b)
	utfBad := replacementCount(utf)
	if utfBad <= maxReplacementRunes {
		return strings.ToValidUTF8(utf, "�")
	}

	latin, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err == nil && replacementCount(string(latin)) < utfBad {
		return string(latin)
	}
	return strings.ToValidUTF8(utf, "�")
}

// replacementCount counts the replacement runes a UTF-8 decode of s
// produces: every byte that is not part of a valid sequence counts once,
// as does any literal U+FFFD already present.
func replacementCount(s string) int {
	count := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError {
			count++
		}
		i += size
	}
	return count
}
