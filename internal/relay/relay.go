// Package relay is the intake loop between channel adapters and the
// dispatch engine. It consumes classified inbound messages from the bus,
// applies per-label respond toggles, deduplicates redeliveries, and routes
// each message into the batch aggregator or straight to dispatch when
// batching is disabled.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/batch"
	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/classify"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
	"github.com/nextlevelbuilder/chatrelay/internal/dispatch"
)

const (
	dedupeTTL     = 20 * time.Minute
	dedupeMaxSize = 5000
)

// Consumer routes inbound messages from the bus into batching or dispatch.
type Consumer struct {
	bus        *bus.MessageBus
	aggregator *batch.Aggregator
	engine     *dispatch.Engine
	respond    config.RespondConfig
	batching   bool
	dedupe     *bus.DedupeCache
}

// NewConsumer creates the intake consumer. aggregator may be nil when
// batching is disabled; every message then dispatches immediately.
func NewConsumer(msgBus *bus.MessageBus, aggregator *batch.Aggregator, engine *dispatch.Engine, respond config.RespondConfig) *Consumer {
	return &Consumer{
		bus:        msgBus,
		aggregator: aggregator,
		engine:     engine,
		respond:    respond,
		batching:   aggregator != nil,
		dedupe:     bus.NewDedupeCache(dedupeTTL, dedupeMaxSize),
	}
}

// Run consumes inbound messages until ctx is cancelled or the bus closes.
func (c *Consumer) Run(ctx context.Context) {
	slog.Info("inbound message consumer started", "batching", c.batching)

	for {
		msg, ok := c.bus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}

		if msgID := msg.Metadata["message_id"]; msgID != "" {
			dedupeKey := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.SenderID, msg.ChatID, msgID)
			if c.dedupe.IsDuplicate(dedupeKey) {
				slog.Debug("dedup: skipping duplicate message", "key", dedupeKey)
				continue
			}
		}

		if !c.labelEnabled(msg.Label) {
			slog.Debug("label disabled, dropping message",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"label", msg.Label,
			)
			continue
		}

		if c.batching {
			c.aggregator.Enqueue(msg)
		} else {
			c.engine.DispatchImmediate(ctx, msg)
		}
	}
}

// labelEnabled checks the per-label respond toggle for an inbound message.
// Toggles gate intake, so a disabled label never reaches the buffer and
// cannot influence a later batch.
func (c *Consumer) labelEnabled(label classify.Label) bool {
	switch label {
	case classify.DirectMessage:
		return c.respond.DMEnabled()
	case classify.Mention:
		return c.respond.MentionEnabled()
	case classify.Reply:
		return c.respond.ReplyEnabled()
	default:
		return c.respond.GenericEnabled()
	}
}
