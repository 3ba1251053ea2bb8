// Package stdout implements a Provider that prints newsletters to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shineum/newsletter-lite/internal/message"
)

// Provider prints rendered newsletters to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the rendered newsletter to stdout in a readable format.
// It always returns nil (success).
func (p *Provider) Send(_ context.Context, msg *message.Rendered) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("To: %s\n", msg.To))
	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	b.WriteString("Body:\n")
	b.WriteString(msg.HTML + "\n")

	if len(msg.Assets) > 0 {
		b.WriteString(fmt.Sprintf("Inline assets: %s\n", summarizeAssets(msg.Assets)))
	}

	b.WriteString("========================================\n")

	_, err := fmt.Fprint(p.writer, b.String())
	if err != nil {
		// Log the write error but still return nil since the provider
		// contract says stdout always succeeds conceptually
		return nil
	}

	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// summarizeAssets lists each distinct asset once, even when the alias table
// registers it under several keys.
func summarizeAssets(table message.AliasTable) string {
	seen := make(map[*message.InlineAsset]bool)
	var parts []string
	for _, asset := range table {
		if seen[asset] {
			continue
		}
		seen[asset] = true
		parts = append(parts, fmt.Sprintf("%s (%s)", asset.Filename, formatSize(len(asset.Content))))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
