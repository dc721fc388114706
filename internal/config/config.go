// Package config defines the relay's configuration surface. All options
// are static for the process lifetime; there is no hot reload.
package config

import "time"

// Config is the root configuration for the chatrelay process.
type Config struct {
	Channels  ChannelsConfig  `json:"channels"`
	Respond   RespondConfig   `json:"respond"`
	Batch     BatchConfig     `json:"batch"`
	Ambient   AmbientConfig   `json:"ambient"`
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ChannelsConfig configures the platform adapters.
type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`

	// Allow restricts which chats the relay listens to. Empty = all.
	Allow []string `json:"allow,omitempty"`

	// RespondChannel restricts where generated replies may be emitted.
	// Empty = respond everywhere. The relay still observes every allowed
	// chat either way.
	RespondChannel string `json:"respond_channel,omitempty"`
}

// DiscordConfig configures the Discord gateway adapter.
type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // from env CHATRELAY_DISCORD_TOKEN only
}

// TelegramConfig configures the Telegram long-polling adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // from env CHATRELAY_TELEGRAM_TOKEN only
}

// RespondConfig toggles responses per classification label. A disabled
// label drops the event at intake.
type RespondConfig struct {
	DM      *bool `json:"dm,omitempty"`
	Mention *bool `json:"mention,omitempty"`
	Reply   *bool `json:"reply,omitempty"`
	Generic *bool `json:"generic,omitempty"`
}

// enabled resolves a toggle pointer; nil means enabled.
func enabled(v *bool) bool { return v == nil || *v }

func (r RespondConfig) DMEnabled() bool      { return enabled(r.DM) }
func (r RespondConfig) MentionEnabled() bool { return enabled(r.Mention) }
func (r RespondConfig) ReplyEnabled() bool   { return enabled(r.Reply) }
func (r RespondConfig) GenericEnabled() bool { return enabled(r.Generic) }

// BatchConfig controls message aggregation.
type BatchConfig struct {
	Enabled   *bool `json:"enabled,omitempty"`    // default true
	MaxSize   int   `json:"max_size,omitempty"`   // default 10
	TimeoutMs int   `json:"timeout_ms,omitempty"` // default 30000, sliding from last message
}

func (b BatchConfig) IsEnabled() bool { return enabled(b.Enabled) }

// Timeout returns the batch window as a duration.
func (b BatchConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// AmbientConfig configures the randomized timer event source.
type AmbientConfig struct {
	Enabled            bool    `json:"enabled,omitempty"`
	MaxIntervalMinutes int     `json:"max_interval_minutes,omitempty"` // default 30
	Chance             float64 `json:"chance,omitempty"`               // Bernoulli success probability, default 0.1
	Channel            string  `json:"channel,omitempty"`              // destination adapter ("discord", "telegram")
	To                 string  `json:"to,omitempty"`                   // destination chat key
}

// MaxInterval returns the upper bound on the random firing delay.
func (a AmbientConfig) MaxInterval() time.Duration {
	if a.MaxIntervalMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(a.MaxIntervalMinutes) * time.Minute
}

// AgentConfig selects and tunes the backing model.
type AgentConfig struct {
	Provider     string  `json:"provider"` // "anthropic" (default) or "openai"
	Model        string  `json:"model,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// ProvidersConfig holds per-provider credentials and endpoints.
// API keys come from env only, never from the config file.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

// ProviderConfig is one provider's connection settings.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`
}

// GatewayConfig configures the keep-alive HTTP listener.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`     // skip TLS (local dev)
	ServiceName string `json:"service_name,omitempty"` // default "chatrelay"
}

// HasAnyProvider reports whether at least one provider credential is set.
func (c *Config) HasAnyProvider() bool {
	return c.Providers.Anthropic.APIKey != "" || c.Providers.OpenAI.APIKey != ""
}
