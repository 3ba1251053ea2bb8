// Package server exposes the hook endpoint that unsubscribe links and
// tracking pixels in sent newsletters point back to.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/newsletter-lite/internal/events"
	"github.com/shineum/newsletter-lite/internal/subscriber"
	"github.com/shineum/newsletter-lite/internal/track"
)

// shutdownTimeout is the maximum time to wait for in-flight requests
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// pixelGIF is a 1x1 transparent GIF, served for open tracking requests.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// ServerConfig holds the configuration for the hook server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// Store flips subscriber statuses on unsubscribe requests.
	Store subscriber.Store

	// Events records unsubscribe and open events.
	Events events.Log

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config
}

// Server handles hook callbacks from sent newsletters.
type Server struct {
	config ServerConfig
}

// New creates a hook Server with the given configuration.
func New(cfg ServerConfig) *Server {
	return &Server{config: cfg}
}

// Handler returns the chi router serving the hook endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/hook", s.handleHook)
	return r
}

// ListenAndServe starts the hook server and blocks until the context is
// cancelled. On cancellation it waits up to 30 seconds for in-flight
// requests to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:      s.config.ListenAddr,
		Handler:   s.Handler(),
		TLSConfig: s.config.TLSConfig,
	}

	slog.Info("hook server listening",
		"addr", s.config.ListenAddr,
		"tls_enabled", s.config.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down hook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleHook dispatches on the mode query parameter. Unsubscribe requests
// flip the subscriber status and render a confirmation page; open pings
// record an event and return a tracking pixel.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	token := r.URL.Query().Get("t")
	campaignID := r.URL.Query().Get("cid")

	switch mode {
	case track.ModeUnsubscribe:
		s.handleUnsubscribe(w, r, token, campaignID)
	case track.ModeOpen:
		s.handleOpen(w, r, token, campaignID)
	default:
		slog.Warn("hook request with unknown mode", "mode", mode)
		http.Error(w, "unknown mode", http.StatusBadRequest)
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request, token, campaignID string) {
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	found, err := s.config.Store.Unsubscribe(r.Context(), token)
	if err != nil {
		slog.Error("unsubscribe failed", "token", token, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}

	s.config.Events.Append(r.Context(), events.KindUnsubscribe, token, campaignID, r.URL.String())
	slog.Info("subscriber unsubscribed", "token", token, "campaign_id", campaignID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Unsubscribed</title></head>
<body>
<p>You have been unsubscribed. You will not receive further newsletters.</p>
</body>
</html>
`)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request, token, campaignID string) {
	if token != "" {
		s.config.Events.Append(r.Context(), events.KindOpen, token, campaignID, r.URL.String())
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}
