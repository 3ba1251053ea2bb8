// Package main is the entry point for the newsletter sender.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shineum/newsletter-lite/internal/assets"
	"github.com/shineum/newsletter-lite/internal/config"
	"github.com/shineum/newsletter-lite/internal/draft"
	"github.com/shineum/newsletter-lite/internal/events"
	"github.com/shineum/newsletter-lite/internal/provider"
	"github.com/shineum/newsletter-lite/internal/provider/ses"
	"github.com/shineum/newsletter-lite/internal/provider/stdout"
	"github.com/shineum/newsletter-lite/internal/sender"
	"github.com/shineum/newsletter-lite/internal/server"
	"github.com/shineum/newsletter-lite/internal/subscriber"
	"github.com/shineum/newsletter-lite/internal/template"
	hooktls "github.com/shineum/newsletter-lite/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	runSend := flag.Bool("send", false, "run one send batch and exit")
	runServe := flag.Bool("serve", false, "run the hook server")
	runCron := flag.Bool("cron", false, "run send batches on the configured schedule")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if !*runSend && !*runServe && !*runCron {
		slog.Error("no mode selected, pass -send, -serve, or -cron")
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Connect the subscriber store and event log
	store, eventLog, pool := openStore(ctx, cfg)
	if pool != nil {
		defer pool.Close()
	}

	if *runServe {
		serve(ctx, cfg, store, eventLog)
		return
	}

	batch := buildBatch(ctx, cfg, store, eventLog)

	if *runCron {
		if cfg.Send.Schedule == "" {
			slog.Error("cron mode requires send.schedule or SEND_SCHEDULE")
			os.Exit(1)
		}
		if err := batch.Schedule(ctx, cfg.Send.Schedule); err != nil {
			slog.Error("scheduler error", "error", err)
			os.Exit(1)
		}
		return
	}

	res, err := batch.Run(ctx)
	if err != nil {
		slog.Error("send batch failed", "error", err)
		os.Exit(1)
	}
	slog.Info("send batch complete",
		"sent", res.Sent,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// openStore connects to Postgres when DATABASE_URL is configured. Without a
// database the send loop cannot run, so only a missing URL in serve mode is
// tolerated with no-op backends for dry runs.
func openStore(ctx context.Context, cfg *config.Config) (subscriber.Store, events.Log, *pgxpool.Pool) {
	if cfg.Store.DatabaseURL == "" {
		slog.Warn("no database configured, subscriber store is empty and events are discarded")
		return emptyStore{}, events.NopLog{}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	return subscriber.NewPostgresStore(pool), events.NewPostgresLog(pool), pool
}

// serve runs the hook server until the context is cancelled.
func serve(ctx context.Context, cfg *config.Config, store subscriber.Store, eventLog events.Log) {
	tlsConfig, err := hooktls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}
	if cfg.TLS.CertFile == "" && cfg.TLS.KeyFile == "" {
		// Plain HTTP when no certificate is configured; the self-signed
		// fallback only makes sense behind an explicit opt-in.
		tlsConfig = nil
		if v := os.Getenv("HOOK_SELF_SIGNED"); v == "true" {
			tlsConfig, err = hooktls.LoadOrGenerateTLS("", "")
			if err != nil {
				slog.Error("failed to generate self-signed certificate", "error", err)
				os.Exit(1)
			}
		}
	}

	srv := server.New(server.ServerConfig{
		ListenAddr: cfg.Hook.Listen,
		Store:      store,
		Events:     eventLog,
		TLSConfig:  tlsConfig,
	})

	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("hook server error", "error", err)
		os.Exit(1)
	}
	slog.Info("hook server stopped")
}

// buildBatch wires the draft source, template loader, and delivery provider
// into a send batch. Config validation happens here because only the send
// path touches the draft and hook URLs.
func buildBatch(ctx context.Context, cfg *config.Config, store subscriber.Store, eventLog events.Log) *sender.Batch {
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if !cfg.GraphConfigured() {
		slog.Error("draft fetching requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_MAILBOX")
		os.Exit(1)
	}

	source := draft.NewGraphSource(draft.GraphSourceConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Mailbox:      cfg.Graph.Mailbox,
	})
	loader := template.NewLoader(source, assets.NewResolver(source), cfg.Draft.PlaceholderURL)

	return &sender.Batch{
		Loader:     loader,
		Store:      store,
		Events:     eventLog,
		Provider:   selectProvider(ctx, cfg),
		DraftID:    cfg.Draft.ID,
		CampaignID: cfg.Campaign.ID,
		HookURL:    cfg.Hook.BaseURL,
	}
}

// selectProvider chooses the delivery backend based on configuration.
// If the PROVIDER env var is set, it takes precedence.
// Otherwise, it falls back to auto-detection (SES if configured, else stdout).
func selectProvider(ctx context.Context, cfg *config.Config) provider.Provider {
	switch cfg.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			slog.Error("SES provider selected but SES_REGION and SES_SENDER are required")
			os.Exit(1)
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			slog.Error("failed to create SES provider", "error", err)
			os.Exit(1)
		}
		return p

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New()

	case "":
		// Auto-detection fallback
		if cfg.SESConfigured() {
			slog.Info("using AWS SES provider (auto-detected)",
				"region", cfg.SES.Region,
				"sender", cfg.SES.Sender,
			)
			p, err := ses.New(ctx, ses.SESProviderConfig{
				Region:          cfg.SES.Region,
				AccessKeyID:     cfg.SES.AccessKeyID,
				SecretAccessKey: cfg.SES.SecretAccessKey,
				Sender:          cfg.SES.Sender,
			})
			if err != nil {
				slog.Error("failed to create SES provider", "error", err)
				os.Exit(1)
			}
			return p
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New()

	default:
		slog.Error("unknown provider", "provider", cfg.Provider)
		os.Exit(1)
		return nil
	}
}

// emptyStore backs dry runs without a database.
type emptyStore struct{}

func (emptyStore) List(context.Context) ([]subscriber.Recipient, error) { return nil, nil }

func (emptyStore) Unsubscribe(context.Context, string) (bool, error) { return false, nil }
