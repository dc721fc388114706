package bus

import (
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/classify"
)

// InboundMessage is one received chat message plus its metadata. It is
// created by a channel adapter on receipt, classified exactly once, and
// never mutated afterwards.
type InboundMessage struct {
	Channel    string            `json:"channel"`               // adapter name ("discord", "telegram")
	ChatID     string            `json:"chat_id"`               // stable conversation key
	SenderID   string            `json:"sender_id"`             // platform user ID
	SenderName string            `json:"sender_name,omitempty"` // display name
	Content    string            `json:"content"`               // payload after classifier rewrite
	ReplyQuote string            `json:"reply_quote,omitempty"` // referenced message text, when a reply
	Label      classify.Label    `json:"label"`
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"` // platform extras (message_id, guild_id, ...)
}

// ChatKey returns the channel-qualified conversation key used for batching
// and policy checks. Two platforms may reuse the same numeric chat ID, so
// the bare ChatID alone is not unique across channels.
func (m InboundMessage) ChatKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is a reply or ambient message to deliver to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"` // e.g. reply_to message ID
}
