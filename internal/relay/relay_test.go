package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/batch"
	"github.com/nextlevelbuilder/chatrelay/internal/bus"
	"github.com/nextlevelbuilder/chatrelay/internal/classify"
	"github.com/nextlevelbuilder/chatrelay/internal/config"
)

type drainRecorder struct {
	mu     sync.Mutex
	drains []struct {
		chatKey string
		count   int
		cause   batch.DrainCause
	}
}

func (r *drainRecorder) fn(chatKey string, msgs []bus.InboundMessage, cause batch.DrainCause) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drains = append(r.drains, struct {
		chatKey string
		count   int
		cause   batch.DrainCause
	}{chatKey, len(msgs), cause})
}

func (r *drainRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drains)
}

func runConsumer(t *testing.T, c *Consumer) (context.CancelFunc, chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	return cancel, done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met within timeout")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func inbound(chat, sender, msgID string, label classify.Label) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "discord",
		ChatID:   chat,
		SenderID: sender,
		Content:  "hello",
		Label:    label,
		Metadata: map[string]string{"message_id": msgID},
	}
}

func TestConsumer_EnqueuesEnabledLabels(t *testing.T) {
	msgBus := bus.New()
	rec := &drainRecorder{}
	agg := batch.New(2, time.Hour, rec.fn)
	c := NewConsumer(msgBus, agg, nil, config.RespondConfig{})

	cancel, done := runConsumer(t, c)
	defer func() { cancel(); <-done }()

	msgBus.PublishInbound(inbound("c1", "u1", "m1", classify.Generic))
	msgBus.PublishInbound(inbound("c1", "u2", "m2", classify.Mention))

	waitFor(t, func() bool { return rec.count() == 1 })
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.drains[0].chatKey != "discord:c1" || rec.drains[0].count != 2 {
		t.Errorf("drain = %+v, want 2 messages for discord:c1", rec.drains[0])
	}
	if rec.drains[0].cause != batch.CauseSize {
		t.Errorf("cause = %q, want size", rec.drains[0].cause)
	}
}

func TestConsumer_DropsDisabledLabels(t *testing.T) {
	off := false
	msgBus := bus.New()
	rec := &drainRecorder{}
	agg := batch.New(2, time.Hour, rec.fn)
	c := NewConsumer(msgBus, agg, nil, config.RespondConfig{Generic: &off})

	cancel, done := runConsumer(t, c)
	defer func() { cancel(); <-done }()

	msgBus.PublishInbound(inbound("c1", "u1", "m1", classify.Generic))
	msgBus.PublishInbound(inbound("c1", "u2", "m2", classify.Generic))
	// A DM still passes and lands in the buffer.
	msgBus.PublishInbound(inbound("c1", "u3", "m3", classify.DirectMessage))

	waitFor(t, func() bool { return agg.PendingChats() == 1 })
	if rec.count() != 0 {
		t.Errorf("drains = %d, want 0 (buffer not full)", rec.count())
	}
}

func TestConsumer_SkipsRedeliveredMessages(t *testing.T) {
	msgBus := bus.New()
	rec := &drainRecorder{}
	agg := batch.New(2, time.Hour, rec.fn)
	c := NewConsumer(msgBus, agg, nil, config.RespondConfig{})

	cancel, done := runConsumer(t, c)
	defer func() { cancel(); <-done }()

	msgBus.PublishInbound(inbound("c1", "u1", "m1", classify.Generic))
	msgBus.PublishInbound(inbound("c1", "u1", "m1", classify.Generic)) // redelivery
	msgBus.PublishInbound(inbound("c1", "u1", "m1", classify.Generic)) // redelivery

	waitFor(t, func() bool { return msgBus.InboundSize() == 0 })
	time.Sleep(10 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Errorf("drains = %d, want 0 (one buffered message, limit 2)", got)
	}
	if agg.PendingChats() != 1 {
		t.Errorf("pending chats = %d, want 1", agg.PendingChats())
	}
}
