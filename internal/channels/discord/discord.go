// Package discord connects the relay to Discord via the Bot API gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/channels/typing"
	"github.com/nextlevelbuilder/chatrelay/internal/classify"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
)

// maxMessageLen is Discord's hard limit per message.
const maxMessageLen = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session     *discordgo.Session
	config      config.DiscordConfig
	botUserID   string   // populated on start
	typingCtrls sync.Map // channelID string → *typing.Controller
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus, allowChats []string) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, allowChats),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers an outbound message to a Discord channel, as a reply when
// the dispatch engine addressed one.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	// Stop typing indicator for this channel
	if ctrl, ok := c.typingCtrls.LoadAndDelete(channelID); ok {
		ctrl.(*typing.Controller).Stop()
	}

	if msg.Content == "" {
		return nil
	}

	var ref *discordgo.MessageReference
	if replyTo := msg.Metadata["reply_to"]; replyTo != "" {
		ref = &discordgo.MessageReference{MessageID: replyTo, ChannelID: channelID}
	}

	return c.sendChunked(channelID, msg.Content, ref)
}

// sendChunked sends a message, splitting at the 2000-char limit. Only the
// first chunk carries the reply reference.
func (c *Channel) sendChunked(channelID, content string, ref *discordgo.MessageReference) error {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxMessageLen {
			// Break at a newline if possible
			cutAt := maxMessageLen
			if idx := strings.LastIndexByte(content[:maxMessageLen], '\n'); idx > maxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		var err error
		if ref != nil {
			_, err = c.session.ChannelMessageSendReply(channelID, chunk, ref)
			ref = nil
		} else {
			_, err = c.session.ChannelMessageSend(channelID, chunk)
		}
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}

	return nil
}

// handleMessage classifies an incoming Discord message and publishes it to
// the relay core.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore our own and other bots' messages
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	channelID := m.ChannelID
	isDM := m.GuildID == ""

	if !isDM && !c.ChatAllowed(channelID) {
		slog.Debug("discord message outside allow-list", "channel_id", channelID)
		return
	}
	if !c.SenderAllowed(m.Author.ID) {
		slog.Debug("discord sender rate limited", "user_id", m.Author.ID)
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	ev := classify.Event{
		Text:         content,
		IsDirect:     isDM,
		IsReply:      m.MessageReference != nil,
		MentionsSelf: c.mentionsBot(m),
	}
	if ev.IsReply {
		if referenced := c.resolveReferenced(m); referenced != nil && referenced.Author != nil {
			ev.ReplyToSelf = referenced.Author.ID == c.botUserID
			ev.ReplyQuote = referenced.Content
		}
	}

	label, payload := classify.Apply(ev)

	slog.Debug("discord message received",
		"sender_id", m.Author.ID,
		"channel_id", channelID,
		"label", label,
		"preview", channels.Truncate(payload, 50),
	)

	c.startTyping(channelID)

	c.Publish(bus.InboundMessage{
		ChatID:     channelID,
		SenderID:   m.Author.ID,
		SenderName: resolveDisplayName(m),
		Content:    payload,
		ReplyQuote: ev.ReplyQuote,
		Label:      label,
		ReceivedAt: time.Now(),
		Metadata: map[string]string{
			"message_id": m.ID,
			"guild_id":   m.GuildID,
			"username":   m.Author.Username,
		},
	})
}

// mentionsBot checks whether the bot account is @mentioned.
func (c *Channel) mentionsBot(m *discordgo.MessageCreate) bool {
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			return true
		}
	}
	return false
}

// resolveReferenced returns the replied-to message, from the gateway event
// when present or fetched from the API otherwise.
func (c *Channel) resolveReferenced(m *discordgo.MessageCreate) *discordgo.Message {
	if m.ReferencedMessage != nil {
		return m.ReferencedMessage
	}
	if m.MessageReference == nil || m.MessageReference.MessageID == "" {
		return nil
	}
	referenced, err := c.session.ChannelMessage(m.MessageReference.ChannelID, m.MessageReference.MessageID)
	if err != nil {
		slog.Debug("discord referenced message fetch failed",
			"message_id", m.MessageReference.MessageID, "error", err)
		return nil
	}
	return referenced
}

// startTyping shows the composing indicator with keepalive + TTL safety
// net. Discord typing expires after 10s, so keepalive every 9s; TTL
// auto-stops after 60s to prevent stuck indicators.
func (c *Channel) startTyping(channelID string) {
	ctrl := typing.New(typing.Options{
		MaxDuration:       60 * time.Second,
		KeepaliveInterval: 9 * time.Second,
		StartFn: func() error {
			return c.session.ChannelTyping(channelID)
		},
	})
	if prev, ok := c.typingCtrls.Load(channelID); ok {
		prev.(*typing.Controller).Stop()
	}
	c.typingCtrls.Store(channelID, ctrl)
	ctrl.Start()
}

// resolveDisplayName returns the best available display name for a Discord
// message author. Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
