// Package telegram connects the relay to Telegram via the Bot API using
// long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/channels"
	"github.com/nextlevelbuilder/chatrelay/internal/classify"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
)

// maxMessageLen is Telegram's hard limit per message.
const maxMessageLen = 4096

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, allowChats []string) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, allowChats),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}

	return nil
}

// Send delivers an outbound message to a Telegram chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", msg.ChatID, err)
	}
	if msg.Content == "" {
		return nil
	}

	replyTo := 0
	if v := msg.Metadata["reply_to"]; v != "" {
		replyTo, _ = strconv.Atoi(v)
	}

	content := msg.Content
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxMessageLen {
			cutAt := maxMessageLen
			if idx := strings.LastIndexByte(content[:maxMessageLen], '\n'); idx > maxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		params := tu.Message(tu.ID(chatID), chunk)
		if replyTo > 0 {
			params.ReplyParameters = &telego.ReplyParameters{MessageID: replyTo}
			replyTo = 0 // only the first chunk replies
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}

	return nil
}

// handleMessage classifies an incoming Telegram message and publishes it
// to the relay core.
func (c *Channel) handleMessage(message *telego.Message) {
	if isServiceMessage(message) {
		return
	}
	user := message.From
	if user == nil || user.IsBot {
		return
	}

	chatIDStr := strconv.FormatInt(message.Chat.ID, 10)
	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"

	if isGroup && !c.ChatAllowed(chatIDStr) {
		slog.Debug("telegram message outside allow-list", "chat_id", chatIDStr)
		return
	}
	senderID := strconv.FormatInt(user.ID, 10)
	if !c.SenderAllowed(senderID) {
		slog.Debug("telegram sender rate limited", "user_id", senderID)
		return
	}

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}
	if content == "" {
		content = "[empty message]"
	}

	botUsername := c.bot.Username()
	ev := classify.Event{
		Text:         content,
		IsDirect:     !isGroup,
		IsReply:      message.ReplyToMessage != nil,
		MentionsSelf: detectMention(message, botUsername),
	}
	if replied := message.ReplyToMessage; replied != nil {
		if replied.From != nil {
			ev.ReplyToSelf = replied.From.Username == botUsername && replied.From.IsBot
		}
		ev.ReplyQuote = replied.Text
	}

	label, payload := classify.Apply(ev)

	slog.Debug("telegram message received",
		"sender_id", senderID,
		"chat_id", chatIDStr,
		"label", label,
		"preview", channels.Truncate(payload, 50),
	)

	// Telegram typing expires on its own after ~5s; one action per message
	// is enough while the batch window runs.
	_ = c.bot.SendChatAction(context.Background(), tu.ChatAction(tu.ID(message.Chat.ID), telego.ChatActionTyping))

	senderName := user.FirstName
	if user.Username != "" {
		senderName = "@" + user.Username
	}

	c.Publish(bus.InboundMessage{
		ChatID:     chatIDStr,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    payload,
		ReplyQuote: ev.ReplyQuote,
		Label:      label,
		ReceivedAt: time.Now(),
		Metadata: map[string]string{
			"message_id": strconv.Itoa(message.MessageID),
			"username":   user.Username,
		},
	})
}

// detectMention checks if a Telegram message mentions the bot, via entities
// or plain-text fallback.
func detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, entity := range pair.entities {
			if entity.Type == "mention" {
				mentioned := entityText(pair.text, entity.Offset, entity.Length)
				if strings.EqualFold(mentioned, "@"+botUsername) {
					return true
				}
			}
		}
	}

	if msg.Text != "" && strings.Contains(strings.ToLower(msg.Text), "@"+strings.ToLower(botUsername)) {
		return true
	}
	return false
}

// entityText extracts an entity's span from text. Telegram entity offsets
// count UTF-16 code units, not bytes, so the text is re-encoded before
// slicing. Out-of-range spans yield "".
func entityText(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length <= 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}

// isServiceMessage returns true for member-change/title/pin notifications
// that carry no user content.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if msg.Photo != nil || msg.Document != nil || msg.Voice != nil || msg.Sticker != nil {
		return false
	}
	return true
}
