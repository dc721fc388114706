package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/chatrelay/internal/agent"
	"github.com/nextlevelbuilder/chatrelay/internal/batch"
	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/classify"
)

type fakeResponder struct {
	reply    string
	err      error
	requests []agent.Request
}

func (f *fakeResponder) Respond(_ context.Context, req agent.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeResponder) RespondAmbient(_ context.Context) (string, error) {
	return f.reply, f.err
}

type fakeOutbound struct {
	sent []bus.OutboundMessage
}

func (f *fakeOutbound) PublishOutbound(msg bus.OutboundMessage) {
	f.sent = append(f.sent, msg)
}

func TestCanRespond(t *testing.T) {
	t.Run("unset policy allows everywhere", func(t *testing.T) {
		p := NewPolicy("")
		for _, key := range []string{"c1", "c2", "dm-55"} {
			if !p.CanRespond(key) {
				t.Errorf("CanRespond(%q) = false, want true", key)
			}
		}
	})

	t.Run("set policy allows only the respond channel", func(t *testing.T) {
		p := NewPolicy("home")
		if !p.CanRespond("home") {
			t.Error("CanRespond(home) = false")
		}
		for _, key := range []string{"c1", "c2", "elsewhere"} {
			if p.CanRespond(key) {
				t.Errorf("CanRespond(%q) = true, want observe-only", key)
			}
		}
	})

	t.Run("channel-qualified key matches bare respond channel", func(t *testing.T) {
		p := NewPolicy("home")
		if !p.CanRespond("discord:home") {
			t.Error("CanRespond(discord:home) = false, want true")
		}
		if p.CanRespond("discord:other") {
			t.Error("CanRespond(discord:other) = true, want false")
		}
	})
}

func TestDispatchImmediate_DMRepliesToOrigin(t *testing.T) {
	resp := &fakeResponder{reply: "hi"}
	out := &fakeOutbound{}
	e := NewEngine(resp, out, NewPolicy(""))

	e.DispatchImmediate(context.Background(), bus.InboundMessage{
		Channel:  "discord",
		ChatID:   "dm-1",
		SenderID: "u1",
		Content:  "hello",
		Label:    classify.DirectMessage,
		Metadata: map[string]string{"message_id": "m42"},
	})

	if len(resp.requests) != 1 {
		t.Fatalf("agent calls = %d, want 1", len(resp.requests))
	}
	req := resp.requests[0]
	if !req.CanRespond {
		t.Error("CanRespond = false, want true")
	}
	if req.Consolidated != "" {
		t.Errorf("single message must use raw payload, got consolidated %q", req.Consolidated)
	}
	if req.Label != classify.DirectMessage {
		t.Errorf("label = %q", req.Label)
	}

	if len(out.sent) != 1 {
		t.Fatalf("sent = %d, want exactly 1 reply", len(out.sent))
	}
	reply := out.sent[0]
	if reply.ChatID != "dm-1" || reply.Content != "hi" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Metadata["reply_to"] != "m42" {
		t.Errorf("reply_to = %q, want m42", reply.Metadata["reply_to"])
	}
}

func TestDrain_ObserveOnlySuppressesReply(t *testing.T) {
	resp := &fakeResponder{reply: "ok"}
	out := &fakeOutbound{}
	e := NewEngine(resp, out, NewPolicy("home"))

	msgs := []bus.InboundMessage{
		{Channel: "discord", ChatID: "c1", SenderName: "alice", Content: "one", Label: classify.Generic},
		{Channel: "discord", ChatID: "c1", SenderName: "bob", Content: "two", Label: classify.Generic},
	}
	e.Drain(context.Background(), "c1", msgs, batch.CauseSize)

	if len(resp.requests) != 1 {
		t.Fatalf("agent calls = %d, want 1 (batch makes one call)", len(resp.requests))
	}
	req := resp.requests[0]
	if req.CanRespond {
		t.Error("CanRespond = true for non-respond channel")
	}
	if !strings.Contains(req.Consolidated, "2 messages") {
		t.Errorf("consolidated missing count header: %q", req.Consolidated)
	}
	if len(out.sent) != 0 {
		t.Errorf("sent = %d, want 0 (observe-only discards the reply)", len(out.sent))
	}
}

func TestDrain_EmptyBatchIsNoop(t *testing.T) {
	resp := &fakeResponder{reply: "x"}
	out := &fakeOutbound{}
	e := NewEngine(resp, out, NewPolicy(""))

	e.Drain(context.Background(), "c1", nil, batch.CauseTimeout)
	if len(resp.requests) != 0 || len(out.sent) != 0 {
		t.Error("empty drain must not invoke agent or send")
	}
}

func TestDrain_AgentErrorSwallowed(t *testing.T) {
	resp := &fakeResponder{err: errors.New("backend down")}
	out := &fakeOutbound{}
	e := NewEngine(resp, out, NewPolicy(""))

	e.Drain(context.Background(), "c1", []bus.InboundMessage{
		{Channel: "discord", ChatID: "c1", Content: "x", Label: classify.Generic},
	}, batch.CauseTimeout)

	if len(out.sent) != 0 {
		t.Errorf("sent = %d after backend failure", len(out.sent))
	}
}

func TestDrain_EmptyReplyNotSent(t *testing.T) {
	resp := &fakeResponder{reply: ""}
	out := &fakeOutbound{}
	e := NewEngine(resp, out, NewPolicy(""))

	e.Drain(context.Background(), "c1", []bus.InboundMessage{
		{Channel: "discord", ChatID: "c1", Content: "x", Label: classify.Generic},
	}, batch.CauseTimeout)

	if len(out.sent) != 0 {
		t.Errorf("sent = %d, want 0 for empty agent reply", len(out.sent))
	}
}

func TestDrain_ReplyAddressedToMostRecent(t *testing.T) {
	resp := &fakeResponder{reply: "answer"}
	out := &fakeOutbound{}
	e := NewEngine(resp, out, NewPolicy(""))

	msgs := []bus.InboundMessage{
		{Channel: "discord", ChatID: "c1", SenderID: "u1", Content: "first", Label: classify.Generic,
			Metadata: map[string]string{"message_id": "m1"}},
		{Channel: "discord", ChatID: "c1", SenderID: "u2", Content: "last", Label: classify.Mention,
			Metadata: map[string]string{"message_id": "m2"}},
	}
	e.Drain(context.Background(), "c1", msgs, batch.CauseTimeout)

	if len(out.sent) != 1 {
		t.Fatalf("sent = %d", len(out.sent))
	}
	if out.sent[0].Metadata["reply_to"] != "m2" {
		t.Errorf("reply_to = %q, want most recent message", out.sent[0].Metadata["reply_to"])
	}
	req := resp.requests[0]
	if req.Event.Content != "last" || req.Label != classify.Mention {
		t.Errorf("agent context should be the most recent event, got %+v", req.Event)
	}
}

func TestConsolidatePayload(t *testing.T) {
	msgs := []bus.InboundMessage{
		{SenderName: "alice", Content: "need help", Label: classify.DirectMessage},
		{SenderName: "bob", Content: "ping", Label: classify.Mention},
		{SenderName: "carol", Content: "thanks!", Label: classify.Reply},
		{SenderName: "dave", Content: "lunch?", Label: classify.Generic},
	}

	got := ConsolidatePayload(msgs)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want header + 4", len(lines))
	}
	if !strings.Contains(lines[0], "4 messages") {
		t.Errorf("header = %q", lines[0])
	}
	wants := []string{
		"1. alice sent you a DM: need help",
		"2. bob mentioned you: ping",
		"3. carol replied to you: thanks!",
		"4. dave: lunch?",
	}
	for i, want := range wants {
		if lines[i+1] != want {
			t.Errorf("line %d = %q, want %q", i+1, lines[i+1], want)
		}
	}
}
