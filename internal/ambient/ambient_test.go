package ambient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAmbientResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeAmbientResponder) RespondAmbient(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, f.err
}

func (f *fakeAmbientResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type delivery struct {
	channel, chatID, content string
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (f *fakeDeliverer) SendToChannel(_ context.Context, channelName, chatID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, delivery{channelName, chatID, content})
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// instrument replaces the source's sleep and roll hooks: sleeps return
// instantly for `cycles` iterations, then cancel the run context.
func instrument(s *Source, cancel context.CancelFunc, cycles int, rolls []float64) {
	sleeps := 0
	s.sleep = func(ctx context.Context, _ time.Duration) bool {
		sleeps++
		// Two sleeps per cycle: the delay and the settle.
		if sleeps > cycles*2 {
			cancel()
			return false
		}
		return ctx.Err() == nil
	}
	i := 0
	s.roll = func() float64 {
		v := rolls[i%len(rolls)]
		i++
		return v
	}
}

func TestRun_SuccessfulTrialDelivers(t *testing.T) {
	resp := &fakeAmbientResponder{reply: "hello channel"}
	out := &fakeDeliverer{}
	s := New(resp, out, "discord", "home-chat", time.Hour, 0.1)

	ctx, cancel := context.WithCancel(context.Background())
	// rolls: delay draw, then trial draw below chance → fire
	instrument(s, cancel, 1, []float64{0.5, 0.05})

	s.Run(ctx)

	if resp.callCount() != 1 {
		t.Fatalf("agent calls = %d, want 1", resp.callCount())
	}
	if out.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", out.count())
	}
	got := out.sent[0]
	if got.channel != "discord" || got.chatID != "home-chat" || got.content != "hello channel" {
		t.Errorf("delivered %+v", got)
	}
}

func TestRun_FailedTrialStaysQuiet(t *testing.T) {
	resp := &fakeAmbientResponder{reply: "should not appear"}
	out := &fakeDeliverer{}
	s := New(resp, out, "discord", "home-chat", time.Hour, 0.1)

	ctx, cancel := context.WithCancel(context.Background())
	// trial draw above chance → no firing
	instrument(s, cancel, 3, []float64{0.5, 0.9})

	s.Run(ctx)

	if resp.callCount() != 0 {
		t.Errorf("agent calls = %d, want 0", resp.callCount())
	}
	if out.count() != 0 {
		t.Errorf("deliveries = %d, want 0", out.count())
	}
}

func TestRun_NoDestinationInvokesButNeverSends(t *testing.T) {
	resp := &fakeAmbientResponder{reply: "into the void"}
	out := &fakeDeliverer{}
	s := New(resp, out, "", "", time.Hour, 0.1)

	ctx, cancel := context.WithCancel(context.Background())
	instrument(s, cancel, 2, []float64{0.5, 0.0})

	s.Run(ctx)

	if resp.callCount() != 2 {
		t.Errorf("agent calls = %d, want 2 (backend still invoked)", resp.callCount())
	}
	if out.count() != 0 {
		t.Errorf("deliveries = %d, want 0 without destination", out.count())
	}
}

func TestRun_AgentFailureKeepsLooping(t *testing.T) {
	resp := &fakeAmbientResponder{err: errors.New("backend gone")}
	out := &fakeDeliverer{}
	s := New(resp, out, "discord", "home-chat", time.Hour, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	instrument(s, cancel, 3, []float64{0.5, 0.0})

	s.Run(ctx)

	if resp.callCount() != 3 {
		t.Errorf("agent calls = %d, want 3 (loop survives failures)", resp.callCount())
	}
	if out.count() != 0 {
		t.Errorf("deliveries = %d", out.count())
	}
}

func TestRun_DeliveryFailureKeepsLooping(t *testing.T) {
	resp := &fakeAmbientResponder{reply: "hi"}
	out := &fakeDeliverer{err: errors.New("channel down")}
	s := New(resp, out, "discord", "home-chat", time.Hour, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	instrument(s, cancel, 2, []float64{0.5, 0.0})

	s.Run(ctx)

	if resp.callCount() != 2 {
		t.Errorf("agent calls = %d, want 2 (loop survives delivery failure)", resp.callCount())
	}
	if out.count() != 0 {
		t.Errorf("deliveries = %d", out.count())
	}
}

func TestRun_EmptyAmbientReplyNotDelivered(t *testing.T) {
	resp := &fakeAmbientResponder{reply: ""}
	out := &fakeDeliverer{}
	s := New(resp, out, "discord", "home-chat", time.Hour, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	instrument(s, cancel, 1, []float64{0.5, 0.0})

	s.Run(ctx)

	if out.count() != 0 {
		t.Errorf("deliveries = %d, want 0 for empty reply", out.count())
	}
}

func TestNextDelay_Bounds(t *testing.T) {
	s := New(nil, nil, "", "", 10*time.Minute, 0.1)

	for _, roll := range []float64{0.0, 0.25, 0.5, 0.999} {
		s.roll = func() float64 { return roll }
		d := s.nextDelay()
		if d < time.Minute {
			t.Errorf("delay %v below 1 minute floor (roll=%v)", d, roll)
		}
		if d >= 10*time.Minute {
			t.Errorf("delay %v >= max interval (roll=%v)", d, roll)
		}
	}
}

func TestNextDelay_FloorWhenMaxBelowMinimum(t *testing.T) {
	s := New(nil, nil, "", "", 10*time.Second, 0.1)
	s.roll = func() float64 { return 0.5 }
	if d := s.nextDelay(); d != time.Minute {
		t.Errorf("delay = %v, want 1 minute floor", d)
	}
}
