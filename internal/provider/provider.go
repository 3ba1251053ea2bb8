// Package provider defines the interface for newsletter delivery backends.
package provider

import (
	"context"

	"github.com/shineum/newsletter-lite/internal/message"
)

// Provider is the interface that delivery backends must implement.
// Each provider hands one rendered, per-recipient newsletter to the target
// service, resolving cid: references against the message's alias table.
type Provider interface {
	// Send delivers a rendered newsletter to its recipient.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *message.Rendered) error

	// Name returns the human-readable name of this provider.
	Name() string
}
