package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Batch: BatchConfig{
			MaxSize:   10,
			TimeoutMs: 30000,
		},
		Ambient: AmbientConfig{
			MaxIntervalMinutes: 30,
			Chance:             0.1,
		},
		Agent: AgentConfig{
			Provider: "anthropic",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18890,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets come from env only.
	envStr("CHATRELAY_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("CHATRELAY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("CHATRELAY_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CHATRELAY_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("CHATRELAY_PROVIDER", &c.Agent.Provider)
	envStr("CHATRELAY_MODEL", &c.Agent.Model)
	envStr("CHATRELAY_RESPOND_CHANNEL", &c.Channels.RespondChannel)

	envStr("CHATRELAY_HOST", &c.Gateway.Host)
	if v := os.Getenv("CHATRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("CHATRELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CHATRELAY_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CHATRELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CHATRELAY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}
