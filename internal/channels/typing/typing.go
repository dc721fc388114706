// Package typing keeps a platform "composing" indicator alive while the
// agent works. Platforms expire indicators quickly (Discord after 10s), so
// the controller re-sends on a keepalive interval and auto-stops after a
// TTL to prevent stuck indicators.
package typing

import (
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// MaxDuration auto-stops the indicator after this TTL.
	MaxDuration time.Duration
	// KeepaliveInterval re-fires StartFn to keep the indicator alive.
	KeepaliveInterval time.Duration
	// StartFn sends one typing action to the platform.
	StartFn func() error
}

// Controller drives one chat's typing indicator. Stop is idempotent and
// safe to call concurrently with the keepalive loop.
type Controller struct {
	opts Options
	stop chan struct{}
	once sync.Once
}

// New creates a controller; call Start to begin.
func New(opts Options) *Controller {
	return &Controller{opts: opts, stop: make(chan struct{})}
}

// Start fires the indicator immediately and begins the keepalive loop.
func (c *Controller) Start() {
	_ = c.opts.StartFn()

	go func() {
		keepalive := time.NewTicker(c.opts.KeepaliveInterval)
		defer keepalive.Stop()
		ttl := time.NewTimer(c.opts.MaxDuration)
		defer ttl.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ttl.C:
				return
			case <-keepalive.C:
				_ = c.opts.StartFn()
			}
		}
	}()
}

// Stop ends the keepalive loop.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stop) })
}
