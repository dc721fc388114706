// Package ambient generates synthetic agent invocations on a randomized
// schedule, independent of any inbound message. Each cycle sleeps a random
// delay, rolls a Bernoulli trial, and on success asks the agent for a
// spontaneous message to deliver to the configured destination.
package ambient

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

const (
	// minInterval bounds the spacing between firings regardless of the
	// configured maximum.
	minInterval = time.Minute
	// settleDelay separates one evaluation cycle from the next scheduling
	// decision, so a misconfigured interval can't spin the loop.
	settleDelay = time.Second

	DefaultMaxInterval = 30 * time.Minute
	DefaultChance      = 0.1
)

// AmbientResponder is the slice of the agent backend this source needs.
type AmbientResponder interface {
	RespondAmbient(ctx context.Context) (string, error)
}

// Deliverer sends ambient messages straight to a channel, bypassing the
// outbound queue and the channel policy. *channels.Manager satisfies it.
type Deliverer interface {
	SendToChannel(ctx context.Context, channelName, chatID, content string) error
}

// Source is the self-rescheduling timer event source. Destination may be
// empty, in which case firings still evaluate (and may invoke the backend)
// but nothing is delivered.
type Source struct {
	responder   AmbientResponder
	out         Deliverer
	channel     string // destination channel adapter name
	chatID      string // destination chat key
	maxInterval time.Duration
	chance      float64

	// sleep and roll are injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) bool
	roll  func() float64

	warnedNoDest bool
}

// New creates an ambient source delivering to channel/chatID.
func New(responder AmbientResponder, out Deliverer, channel, chatID string, maxInterval time.Duration, chance float64) *Source {
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}
	if chance <= 0 {
		chance = DefaultChance
	}
	return &Source{
		responder:   responder,
		out:         out,
		channel:     channel,
		chatID:      chatID,
		maxInterval: maxInterval,
		chance:      chance,
		sleep:       sleepCtx,
		roll:        rand.Float64,
	}
}

// Run loops until ctx is cancelled. Each iteration: random delay in
// [1 minute, maxInterval), Bernoulli trial, optional agent call and
// delivery, then a short settle before rescheduling.
func (s *Source) Run(ctx context.Context) {
	slog.Info("ambient source started",
		"max_interval", s.maxInterval,
		"chance", s.chance,
		"destination", s.destination(),
	)

	for {
		delay := s.nextDelay()
		slog.Debug("ambient sleeping", "delay", delay)
		if !s.sleep(ctx, delay) {
			return
		}

		s.evaluate(ctx)

		if !s.sleep(ctx, settleDelay) {
			return
		}
	}
}

// nextDelay draws uniformly from [minInterval, maxInterval), with the
// floor enforced even when maxInterval is configured below it.
func (s *Source) nextDelay() time.Duration {
	span := s.maxInterval - minInterval
	if span <= 0 {
		return minInterval
	}
	return minInterval + time.Duration(s.roll()*float64(span))
}

// evaluate runs one firing: Bernoulli trial, agent call, delivery. All
// failures are logged and absorbed; the loop always reschedules.
func (s *Source) evaluate(ctx context.Context) {
	if s.roll() >= s.chance {
		slog.Debug("ambient trial failed, staying quiet")
		return
	}

	reply, err := s.responder.RespondAmbient(ctx)
	if err != nil {
		slog.Warn("ambient agent call failed", "error", err)
		return
	}
	if reply == "" {
		slog.Debug("ambient agent declined")
		return
	}

	if s.chatID == "" || s.channel == "" {
		if !s.warnedNoDest {
			slog.Warn("ambient fired but no destination channel configured, dropping")
			s.warnedNoDest = true
		}
		return
	}

	if err := s.out.SendToChannel(ctx, s.channel, s.chatID, reply); err != nil {
		slog.Warn("ambient delivery failed", "destination", s.destination(), "error", err)
		return
	}
	slog.Info("ambient message delivered", "destination", s.destination())
}

func (s *Source) destination() string {
	if s.chatID == "" {
		return "(none)"
	}
	return s.channel + "/" + s.chatID
}

// sleepCtx waits for d or cancellation; false means cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
