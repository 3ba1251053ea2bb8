// Package merge renders one recipient's newsletter from a shared template.
// Merge is a pure function: no shared mutable state, byte-identical output
// for identical inputs, safe to call once per recipient in any order.
package merge

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/shineum/newsletter-lite/internal/message"
	"github.com/shineum/newsletter-lite/internal/template"
	"github.com/shineum/newsletter-lite/internal/track"
)

// hardeningStyle forces inline images to scale with the viewport. Mail
// clients otherwise render table-embedded cid images at their original
// pixel dimensions.
const hardeningStyle = "display:block;width:100%;height:auto;max-width:100%;border:0;"

var (
	imgTag    = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	cidSrc    = regexp.MustCompile(`(?i)\bsrc\s*=\s*["']cid:`)
	styleAttr = regexp.MustCompile(`(?i)\bstyle\s*=\s*("[^"]*"|'[^']*')`)
	widthAttr = regexp.MustCompile(`(?i)\swidth\s*=`)
)

// htmlEscaper escapes recipient-supplied text for embedding in HTML.
// & is listed first: the single-pass replacer never re-escapes entities
// produced by the other substitutions.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Data is one recipient's merge input.
type Data struct {
	Email      string
	FirstName  string
	UnsubLink  string
	CampaignID string
}

// Merge substitutes the recipient's fields into the template, hardens
// inline image markup, and injects the open-tracking pixel.
func Merge(tpl *template.Template, d Data) *message.Rendered {
	html := strings.ReplaceAll(tpl.HTML, template.PlaceholderFirstName, htmlEscaper.Replace(d.FirstName))

	// Exactly one substitution mode applies, decided at template load.
	switch tpl.Mode {
	case template.UnsubModeLiteralURL:
		html = strings.ReplaceAll(html, tpl.PlaceholderURL, d.UnsubLink)
	default:
		html = strings.ReplaceAll(html, template.PlaceholderUnsubLink, d.UnsubLink)
	}

	html = hardenInlineImages(html)
	html = injectTrackingPixel(html, d.UnsubLink, d.CampaignID)

	return &message.Rendered{
		To:      d.Email,
		Subject: tpl.Subject,
		HTML:    html,
		Assets:  tpl.Assets,
	}
}

// hardenInlineImages rewrites every <img> tag whose src is a cid: reference
// to carry the hardening style declarations and a width attribute. Other
// tags are untouched.
func hardenInlineImages(html string) string {
	return imgTag.ReplaceAllStringFunc(html, func(tag string) string {
		if !cidSrc.MatchString(tag) {
			return tag
		}

		if m := styleAttr.FindStringSubmatchIndex(tag); m != nil {
			// Merge into the existing attribute, keeping its quoting, so the
			// tag never ends up with two style attributes.
			quoted := tag[m[2]:m[3]]
			quote := quoted[:1]
			existing := strings.TrimSpace(quoted[1 : len(quoted)-1])
			merged := existing
			if merged != "" && !strings.HasSuffix(merged, ";") {
				merged += ";"
			}
			merged += hardeningStyle
			tag = tag[:m[2]] + quote + merged + quote + tag[m[3]:]
		} else {
			tag = insertAttr(tag, `style="`+hardeningStyle+`"`)
		}

		if !widthAttr.MatchString(tag) {
			tag = insertAttr(tag, `width="100%"`)
		}
		return tag
	})
}

// insertAttr appends an attribute just before the tag's closing bracket.
func insertAttr(tag, attr string) string {
	if strings.HasSuffix(tag, "/>") {
		return strings.TrimSuffix(tag, "/>") + " " + attr + "/>"
	}
	return strings.TrimSuffix(tag, ">") + " " + attr + ">"
}

// injectTrackingPixel appends a 1x1 invisible image pointing at the hook
// endpoint. The token is recovered from the unsubscribe link's t parameter
// and the endpoint base from the link itself; if the link carries no token
// the body is returned unchanged.
func injectTrackingPixel(html, unsubLink, campaignID string) string {
	u, err := url.Parse(unsubLink)
	if err != nil {
		return html
	}
	token := u.Query().Get("t")
	if token == "" {
		return html
	}

	base := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
	pixel := fmt.Sprintf(`<img src=%q width="1" height="1" style="display:none" alt="">`,
		track.OpenPixelURL(base, token, campaignID))

	lower := strings.ToLower(html)
	if idx := strings.LastIndex(lower, "</body>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:]
	}
	if idx := strings.LastIndex(lower, "</html>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}
