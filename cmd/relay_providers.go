package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/chatrelay/internal/config"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
)

func registerProviders(registry *providers.Registry, cfg *config.Config) {
	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		var opts []providers.AnthropicOption
		if cfg.Providers.Anthropic.BaseURL != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.BaseURL))
		}
		registry.Register(providers.NewAnthropicProvider(key, opts...))
		slog.Info("registered provider", "name", "anthropic")
	}

	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		var opts []providers.OpenAIOption
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, providers.WithOpenAIBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		registry.Register(providers.NewOpenAIProvider(key, opts...))
		slog.Info("registered provider", "name", "openai")
	}
}
