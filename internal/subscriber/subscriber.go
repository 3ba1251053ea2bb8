// Package subscriber models the recipient list and its tabular store.
// The send loop only reads the store; the hook endpoint flips status on
// unsubscribe.
package subscriber

import "context"

// Status is a subscriber's membership state.
type Status string

const (
	StatusSubscribed   Status = "subscribed"
	StatusUnsubscribed Status = "unsubscribed"
)

// Recipient is one subscriber row. Token is the opaque stable identifier
// used to correlate unsubscribe actions and open pings without exposing
// the email address in URLs.
type Recipient struct {
	Email     string
	FirstName string
	Token     string
	Status    Status
}

// Store is the subscriber list backing the send loop and hook endpoint.
type Store interface {
	// List returns every subscriber row, regardless of status.
	List(ctx context.Context) ([]Recipient, error)

	// Unsubscribe marks the subscriber with the given token as
	// unsubscribed. It reports whether a matching row existed.
	Unsubscribe(ctx context.Context, token string) (bool, error)
}
