// Package dispatch turns drained message batches into agent invocations and
// routes replies back to their source channel under the channel policy.
// The immediate (batching disabled) and batched paths converge here and
// behave identically for a single message.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatrelay/internal/agent"
	"github.com/nextlevelbuilder/chatrelay/internal/batch"
	"github.com/nextlevelbuilder/chatrelay/internal/bus"
)

const agentCallTimeout = 3 * time.Minute

// Outbound is the reply emission surface. *bus.MessageBus satisfies it.
type Outbound interface {
	PublishOutbound(bus.OutboundMessage)
}

// Engine invokes the agent backend for drained batches and emits replies.
type Engine struct {
	responder agent.Responder
	out       Outbound
	policy    *Policy
	tracer    trace.Tracer
}

// NewEngine creates a dispatch engine.
func NewEngine(responder agent.Responder, out Outbound, policy *Policy) *Engine {
	return &Engine{
		responder: responder,
		out:       out,
		policy:    policy,
		tracer:    otel.Tracer("chatrelay/dispatch"),
	}
}

// DispatchImmediate sends a single message straight to the agent, bypassing
// batching. Semantically equivalent to a one-item drain.
func (e *Engine) DispatchImmediate(ctx context.Context, msg bus.InboundMessage) {
	e.Drain(ctx, msg.ChatKey(), []bus.InboundMessage{msg}, batch.CauseImmediate)
}

// Drain processes detached buffer contents: one agent call for the whole
// batch, one reply (at most) to the most recent message's origin. Every
// failure is logged and swallowed; the buffer was already cleared by the
// aggregator, so a failed dispatch cannot corrupt the next cycle.
func (e *Engine) Drain(ctx context.Context, chatKey string, msgs []bus.InboundMessage, cause batch.DrainCause) {
	if len(msgs) == 0 {
		return
	}

	runID := uuid.NewString()
	last := msgs[len(msgs)-1]
	canRespond := e.policy.CanRespond(chatKey)

	ctx, span := e.tracer.Start(ctx, "dispatch.drain",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("chat_id", chatKey),
			attribute.String("cause", string(cause)),
			attribute.Int("batch_size", len(msgs)),
			attribute.Bool("can_respond", canRespond),
		))
	defer span.End()

	consolidated := ""
	if len(msgs) > 1 {
		consolidated = ConsolidatePayload(msgs)
	}

	callCtx, cancel := context.WithTimeout(ctx, agentCallTimeout)
	defer cancel()

	reply, err := e.responder.Respond(callCtx, agent.Request{
		Event:        &last,
		Label:        last.Label,
		CanRespond:   canRespond,
		Consolidated: consolidated,
	})
	if err != nil {
		slog.Warn("agent call failed, dropping dispatch",
			"run_id", runID,
			"chat_id", chatKey,
			"cause", cause,
			"error", err,
		)
		return
	}

	if reply == "" {
		slog.Debug("agent declined to reply", "run_id", runID, "chat_id", chatKey)
		return
	}

	if !canRespond {
		slog.Info("reply suppressed by channel policy",
			"run_id", runID,
			"chat_id", chatKey,
			"preview", preview(reply, 50),
		)
		return
	}

	out := bus.OutboundMessage{
		Channel: last.Channel,
		ChatID:  last.ChatID,
		Content: reply,
	}
	if msgID := last.Metadata["message_id"]; msgID != "" {
		out.Metadata = map[string]string{"reply_to": msgID}
	}

	e.out.PublishOutbound(out)
	slog.Debug("reply dispatched",
		"run_id", runID,
		"chat_id", chatKey,
		"batch_size", len(msgs),
		"cause", cause,
	)
}

// ConsolidatePayload renders a multi-message batch as one enumerated block:
// a count header, then each message in arrival order with a provenance
// prefix derived from its label.
func ConsolidatePayload(msgs []bus.InboundMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d messages arrived while you were responding or idle]\n", len(msgs))
	for i, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		if prov := m.Label.Provenance(); prov != "" {
			fmt.Fprintf(&b, "%d. %s %s: %s\n", i+1, name, prov, m.Content)
		} else {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, name, m.Content)
		}
	}
	return b.String()
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
