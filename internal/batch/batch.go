// Package batch accumulates bursts of inbound messages per chat and flushes
// them as one consolidated unit. A chat's buffer drains either when it
// reaches the size limit or when no new message has arrived for the
// configured timeout (sliding window, measured from the most recent
// enqueue).
package batch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatrelay/internal/bus"
)

// Defaults for the drain triggers.
const (
	DefaultMaxSize = 10
	DefaultTimeout = 30 * time.Second
)

// DrainCause says why a buffer was flushed.
type DrainCause string

const (
	CauseSize     DrainCause = "size"
	CauseTimeout  DrainCause = "timeout"
	CauseShutdown DrainCause = "shutdown"
	// CauseImmediate marks the non-batched path: the message never touched
	// a buffer and dispatches on its own.
	CauseImmediate DrainCause = "immediate"
)

// DrainFunc receives the detached contents of one chat's buffer, in arrival
// order. By the time it runs the buffer is already cleared and its timer
// cancelled, so a failing drain never corrupts the next cycle.
type DrainFunc func(chatKey string, msgs []bus.InboundMessage, cause DrainCause)

type chatBuffer struct {
	msgs  []bus.InboundMessage
	timer *time.Timer
}

// Aggregator owns the per-chat buffers. All buffer and timer mutation goes
// through one mutex; drains detach under the lock and process outside it.
type Aggregator struct {
	mu      sync.Mutex
	buffers map[string]*chatBuffer

	maxSize int
	timeout time.Duration
	drain   DrainFunc
}

// New creates an aggregator. Zero maxSize/timeout fall back to defaults.
func New(maxSize int, timeout time.Duration, drain DrainFunc) *Aggregator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{
		buffers: make(map[string]*chatBuffer),
		maxSize: maxSize,
		timeout: timeout,
		drain:   drain,
	}
}

// Enqueue appends msg to its chat's buffer, creating the buffer on first
// use. Reaching the size limit drains synchronously before returning, with
// no timer left pending. Otherwise the chat's single drain timer is
// re-armed, so the timeout runs from the most recent message.
func (a *Aggregator) Enqueue(msg bus.InboundMessage) {
	chatKey := msg.ChatKey()

	a.mu.Lock()
	buf, ok := a.buffers[chatKey]
	if !ok {
		buf = &chatBuffer{}
		a.buffers[chatKey] = buf
	}
	buf.msgs = append(buf.msgs, msg)

	if len(buf.msgs) >= a.maxSize {
		msgs := a.detachLocked(chatKey)
		a.mu.Unlock()
		slog.Debug("batch full, draining", "chat_id", chatKey, "count", len(msgs))
		a.drain(chatKey, msgs, CauseSize)
		return
	}

	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(a.timeout, func() { a.drainExpired(chatKey) })
	a.mu.Unlock()
}

// drainExpired flushes a chat's buffer after its timer fires.
func (a *Aggregator) drainExpired(chatKey string) {
	a.mu.Lock()
	msgs := a.detachLocked(chatKey)
	a.mu.Unlock()

	// A size drain may have raced the timer and emptied the buffer already.
	if len(msgs) == 0 {
		return
	}
	slog.Debug("batch timeout, draining", "chat_id", chatKey, "count", len(msgs))
	a.drain(chatKey, msgs, CauseTimeout)
}

// detachLocked removes and returns the chat's buffered messages and cancels
// its pending timer. Caller holds a.mu.
func (a *Aggregator) detachLocked(chatKey string) []bus.InboundMessage {
	buf, ok := a.buffers[chatKey]
	if !ok {
		return nil
	}
	if buf.timer != nil {
		buf.timer.Stop()
	}
	delete(a.buffers, chatKey)
	return buf.msgs
}

// Stop flushes every non-empty buffer so accumulated messages are not
// dropped on shutdown.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	pending := make(map[string][]bus.InboundMessage, len(a.buffers))
	for chatKey := range a.buffers {
		if msgs := a.detachLocked(chatKey); len(msgs) > 0 {
			pending[chatKey] = msgs
		}
	}
	a.mu.Unlock()

	for chatKey, msgs := range pending {
		slog.Info("flushing batch on shutdown", "chat_id", chatKey, "count", len(msgs))
		a.drain(chatKey, msgs, CauseShutdown)
	}
}

// PendingChats returns the number of chats with buffered messages.
func (a *Aggregator) PendingChats() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}
