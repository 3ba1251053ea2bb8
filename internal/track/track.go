// Package track builds the unsubscribe and open-tracking URLs that point
// recipients back at the hook endpoint. Pure string builders, no I/O.
package track

import "net/url"

// ModeUnsubscribe and ModeOpen are the hook endpoint's dispatch values.
const (
	ModeUnsubscribe = "unsub"
	ModeOpen        = "track_open"
)

// UnsubscribeURL returns the per-recipient unsubscribe link for the given
// hook base URL and subscriber token. All parameters are percent-encoded.
func UnsubscribeURL(base, token string) string {
	v := url.Values{}
	v.Set("mode", ModeUnsubscribe)
	v.Set("t", token)
	return base + "?" + v.Encode()
}

// OpenPixelURL returns the open-tracking pixel URL for the given hook base
// URL, subscriber token, and campaign identifier.
func OpenPixelURL(base, token, campaignID string) string {
	v := url.Values{}
	v.Set("mode", ModeOpen)
	v.Set("t", token)
	if campaignID != "" {
		v.Set("cid", campaignID)
	}
	return base + "?" + v.Encode()
}
