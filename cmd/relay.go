package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chatrelay/internal/agent"
	"github.com/nextlevelbuilder/chatrelay/internal/ambient"
	"github.com/nextlevelbuilder/chatrelay/internal/batch"
	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/channels/discord"
	"github.com/nextlevelbuilder/chatrelay/internal/channels/telegram"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
	"github.com/nextlevelbuilder/chatrelay/internal/dispatch"
	"github.com/nextlevelbuilder/chatrelay/internal/httpapi"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
	"github.com/nextlevelbuilder/chatrelay/internal/relay"
	"github.com/nextlevelbuilder/chatrelay/internal/telemetry"
)

func runRelay() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !cfg.HasAnyProvider() {
		fmt.Println("No AI provider API key found.")
		fmt.Println()
		fmt.Println("Set CHATRELAY_ANTHROPIC_API_KEY or CHATRELAY_OPENAI_API_KEY and try again.")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracing, err := telemetry.NewProvider(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer tracing.Shutdown(context.Background())

	msgBus := bus.New()

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)

	provider, err := registry.Get(cfg.Agent.Provider)
	if err != nil {
		slog.Error("agent provider unavailable", "provider", cfg.Agent.Provider, "registered", registry.Names(), "error", err)
		os.Exit(1)
	}

	var agentOpts []agent.Option
	if cfg.Agent.Model != "" {
		agentOpts = append(agentOpts, agent.WithModel(cfg.Agent.Model))
	}
	if cfg.Agent.SystemPrompt != "" {
		agentOpts = append(agentOpts, agent.WithSystemPrompt(cfg.Agent.SystemPrompt))
	}
	if cfg.Agent.MaxTokens > 0 {
		agentOpts = append(agentOpts, agent.WithMaxTokens(cfg.Agent.MaxTokens))
	}
	if cfg.Agent.Temperature > 0 {
		agentOpts = append(agentOpts, agent.WithTemperature(cfg.Agent.Temperature))
	}
	agentClient := agent.New(provider, agentOpts...)

	policy := dispatch.NewPolicy(cfg.Channels.RespondChannel)
	engine := dispatch.NewEngine(agentClient, msgBus, policy)

	var aggregator *batch.Aggregator
	if cfg.Batch.IsEnabled() {
		aggregator = batch.New(cfg.Batch.MaxSize, cfg.Batch.Timeout(),
			func(chatKey string, msgs []bus.InboundMessage, cause batch.DrainCause) {
				// Background context: shutdown flushes run after the root
				// context is cancelled and must still reach the agent. The
				// engine bounds each call with its own timeout.
				engine.Drain(context.Background(), chatKey, msgs, cause)
			})
		slog.Info("batching enabled", "max_size", cfg.Batch.MaxSize, "timeout", cfg.Batch.Timeout())
	} else {
		slog.Info("batching disabled, dispatching messages immediately")
	}

	consumer := relay.NewConsumer(msgBus, aggregator, engine, cfg.Respond)

	channelMgr := channels.NewManager(msgBus)

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord, msgBus, cfg.Channels.Allow)
		if err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			channelMgr.RegisterChannel("discord", dc)
			slog.Info("discord channel enabled")
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, cfg.Channels.Allow)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			channelMgr.RegisterChannel("telegram", tg)
			slog.Info("telegram channel enabled")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	httpSrv := httpapi.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, msgBus, &relayStatus{
		manager:    channelMgr,
		aggregator: aggregator,
	})

	slog.Info("chatrelay starting",
		"version", Version,
		"provider", provider.Name(),
		"channels", channelMgr.EnabledChannels(),
		"respond_channel", cfg.Channels.RespondChannel,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		consumer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return httpSrv.Start(gctx)
	})
	if cfg.Ambient.Enabled {
		src := ambient.New(agentClient, channelMgr, cfg.Ambient.Channel, cfg.Ambient.To, cfg.Ambient.MaxInterval(), cfg.Ambient.Chance)
		g.Go(func() error {
			src.Run(gctx)
			return nil
		})
		slog.Info("ambient source enabled",
			"max_interval", cfg.Ambient.MaxInterval(),
			"chance", cfg.Ambient.Chance,
			"channel", cfg.Ambient.Channel,
			"to", cfg.Ambient.To,
		)
	}

	err = g.Wait()

	// Flush buffered batches before channels disconnect so pending messages
	// still reach the agent.
	if aggregator != nil {
		aggregator.Stop()
	}
	channelMgr.StopAll(context.Background())

	if err != nil {
		slog.Error("relay terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("chatrelay stopped")
}

// relayStatus adapts the channel manager and aggregator to the health
// endpoint's status surface.
type relayStatus struct {
	manager    *channels.Manager
	aggregator *batch.Aggregator
}

func (s *relayStatus) ChannelStates() map[string]bool {
	return s.manager.ChannelStates()
}

func (s *relayStatus) PendingBatches() int {
	if s.aggregator == nil {
		return 0
	}
	return s.aggregator.PendingChats()
}
