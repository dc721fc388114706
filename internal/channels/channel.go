// Package channels provides the adapter layer between messaging platforms
// and the relay core. Adapters receive platform events, classify them, and
// publish them to the message bus; replies come back through Send.
package channels

import (
	"context"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
)

// Channel is the interface every platform adapter must satisfy.
type Channel interface {
	// Name returns the adapter identifier (e.g. "discord", "telegram").
	Name() string

	// Start begins listening for messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the adapter is actively processing.
	IsRunning() bool
}

// BaseChannel provides shared adapter state. Implementations embed it.
type BaseChannel struct {
	name     string
	bus      *bus.MessageBus
	running  bool
	chatList []string
	limiter  *FloodLimiter
}

// NewBaseChannel creates a BaseChannel. chatList restricts which chat keys
// the adapter listens to; empty means all.
func NewBaseChannel(name string, msgBus *bus.MessageBus, chatList []string) *BaseChannel {
	return &BaseChannel{
		name:     name,
		bus:      msgBus,
		chatList: chatList,
		limiter:  NewFloodLimiter(),
	}
}

// Name returns the adapter name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning reports the running state.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// ChatAllowed checks the chat-key allow-list. Empty list allows all chats.
func (c *BaseChannel) ChatAllowed(chatKey string) bool {
	if len(c.chatList) == 0 {
		return true
	}
	for _, allowed := range c.chatList {
		if chatKey == allowed {
			return true
		}
	}
	return false
}

// SenderAllowed applies the per-sender flood guard.
func (c *BaseChannel) SenderAllowed(senderID string) bool {
	return c.limiter.Allow(senderID)
}

// Publish forwards a classified inbound message to the relay core.
func (c *BaseChannel) Publish(msg bus.InboundMessage) {
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
