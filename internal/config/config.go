// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the newsletter sender.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholder values shipped in the sample config. Leaving them in place is
// a configuration error, caught before any network call.
const (
	placeholderDraftID = "YOUR_DRAFT_ID"
	placeholderHookURL = "YOUR_WEBAPP_URL"
)

// Config holds the complete application configuration.
type Config struct {
	Draft    DraftConfig    `yaml:"draft"`
	Campaign CampaignConfig `yaml:"campaign"`
	Hook     HookConfig     `yaml:"hook"`
	Store    StoreConfig    `yaml:"store"`
	Send     SendConfig     `yaml:"send"`
	Provider string         `yaml:"provider"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DraftConfig identifies the stored draft used as the template.
type DraftConfig struct {
	ID string `yaml:"id"`

	// PlaceholderURL is a literal URL that stands in for {{unsub_link}}
	// in drafts authored without the placeholder syntax. Optional.
	PlaceholderURL string `yaml:"placeholder_url"`
}

// CampaignConfig identifies the send batch in tracking URLs and events.
type CampaignConfig struct {
	ID string `yaml:"id"`
}

// HookConfig configures the unsubscribe/open-tracking endpoint.
type HookConfig struct {
	// BaseURL is the public URL recipients reach, embedded in every link.
	BaseURL string `yaml:"base_url"`

	// Listen is the local bind address for the hook server.
	Listen string `yaml:"listen"`
}

// StoreConfig holds the subscriber store connection.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// SendConfig controls the batch send loop.
type SendConfig struct {
	// Schedule is an optional cron expression for periodic sends.
	Schedule string `yaml:"schedule"`
}

// SESConfig holds AWS SES delivery configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration for draft fetching.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Mailbox      string `yaml:"mailbox"`
}

// TLSConfig holds TLS certificate file paths for the hook server.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate rejects missing or placeholder-valued identifiers before any
// network call is made. The error names the offending field.
func (c *Config) Validate() error {
	if c.Draft.ID == "" || c.Draft.ID == placeholderDraftID {
		return fmt.Errorf("draft.id is not configured")
	}
	if c.Hook.BaseURL == "" || c.Hook.BaseURL == placeholderHookURL {
		return fmt.Errorf("hook.base_url is not configured")
	}
	return nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Mailbox != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Campaign.ID = "newsletter"
	c.Hook.Listen = ":8080"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("DRAFT_ID"); v != "" {
		c.Draft.ID = v
	}
	if v := os.Getenv("DRAFT_PLACEHOLDER_URL"); v != "" {
		c.Draft.PlaceholderURL = v
	}
	if v := os.Getenv("CAMPAIGN_ID"); v != "" {
		c.Campaign.ID = v
	}

	if v := os.Getenv("HOOK_BASE_URL"); v != "" {
		c.Hook.BaseURL = v
	}
	if v := os.Getenv("HOOK_LISTEN"); v != "" {
		c.Hook.Listen = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("SEND_SCHEDULE"); v != "" {
		c.Send.Schedule = v
	}
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_MAILBOX"); v != "" {
		c.Graph.Mailbox = v
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
