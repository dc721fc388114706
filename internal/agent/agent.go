// Package agent wraps an LLM provider behind the relay's request/response
// contract: one call per dispatch, empty string meaning "no reply".
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/classify"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
)

// NoReplySentinel suppresses the reply when the model leads with it.
const NoReplySentinel = "NO_REPLY"

const defaultSystemPrompt = `You are a helpful assistant relaying through a group chat.
Keep replies short and conversational. If a message needs no reply, respond with NO_REPLY.`

// Request carries one dispatch to the backend.
type Request struct {
	// Event is the most recent inbound message of the dispatch.
	Event *bus.InboundMessage
	// Label is the event's classification.
	Label classify.Label
	// CanRespond is the channel policy decision for the event's chat.
	CanRespond bool
	// Consolidated is the rendered multi-message payload. Empty means
	// "use the event's own content" (the non-batched call shape).
	Consolidated string
}

// Responder is the agent backend seen by the dispatch engine.
type Responder interface {
	// Respond returns the reply text, or "" when the agent declines.
	Respond(ctx context.Context, req Request) (string, error)
	// RespondAmbient handles a timer-generated invocation with no prior
	// event context.
	RespondAmbient(ctx context.Context) (string, error)
}

// Client is the production Responder backed by a providers.Provider.
type Client struct {
	provider     providers.Provider
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float64
}

// Option configures a Client.
type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		if prompt != "" {
			c.systemPrompt = prompt
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		if t > 0 {
			c.temperature = t
		}
	}
}

// New creates an agent client for the given provider.
func New(provider providers.Provider, opts ...Option) *Client {
	c := &Client{
		provider:     provider,
		systemPrompt: defaultSystemPrompt,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Respond implements Responder.
func (c *Client) Respond(ctx context.Context, req Request) (string, error) {
	payload := req.Consolidated
	if payload == "" && req.Event != nil {
		payload = req.Event.Content
	}

	messages := []providers.Message{
		{Role: "system", Content: c.systemPrompt},
		{Role: "system", Content: c.contextNote(req)},
		{Role: "user", Content: payload},
	}

	return c.chat(ctx, messages)
}

// RespondAmbient implements Responder. The prompt tells the model this is
// a self-initiated moment, not a reply to anyone.
func (c *Client) RespondAmbient(ctx context.Context) (string, error) {
	messages := []providers.Message{
		{Role: "system", Content: c.systemPrompt},
		{Role: "user", Content: "[ambient event] Nothing prompted this; you have a spontaneous moment. " +
			"Share a brief thought with the channel, or respond NO_REPLY to stay quiet."},
	}
	return c.chat(ctx, messages)
}

// contextNote renders the event's provenance for the model.
func (c *Client) contextNote(req Request) string {
	var b strings.Builder
	if req.Event != nil {
		fmt.Fprintf(&b, "Message from %s in %s channel %s.",
			displayName(req.Event), req.Event.Channel, req.Event.ChatID)
	}
	switch req.Label {
	case classify.DirectMessage:
		b.WriteString(" It is a direct message to you.")
	case classify.Mention:
		b.WriteString(" You were mentioned.")
	case classify.Reply:
		b.WriteString(" It is a reply to one of your messages.")
	}
	if !req.CanRespond {
		b.WriteString(" You are observing this channel; any reply will not be delivered.")
	}
	return b.String()
}

func (c *Client) chat(ctx context.Context, messages []providers.Message) (string, error) {
	req := providers.ChatRequest{
		Messages: messages,
		Model:    c.model,
		Options:  map[string]interface{}{},
	}
	if c.maxTokens > 0 {
		req.Options["max_tokens"] = c.maxTokens
	}
	if c.temperature > 0 {
		req.Options["temperature"] = c.temperature
	}

	resp, err := c.provider.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agent chat: %w", err)
	}
	return NormalizeReply(resp.Content), nil
}

// NormalizeReply trims the response and maps the NO_REPLY sentinel to "".
func NormalizeReply(content string) string {
	out := strings.TrimSpace(content)
	// Model sometimes appends commentary after the sentinel; drop it all.
	if strings.HasPrefix(out, NoReplySentinel) {
		return ""
	}
	return out
}

func displayName(ev *bus.InboundMessage) string {
	if ev.SenderName != "" {
		return ev.SenderName
	}
	return ev.SenderID
}
