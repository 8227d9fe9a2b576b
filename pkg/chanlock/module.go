// Package chanlock drives a fixed-rate loop and reports when the loop stops
// picking up its ticks.
package chanlock

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sasha-s/go-deadlock"
)

const DEFAULT_TIMEOUT = 5 * time.Second

type Chanlock struct {
	log      zerolog.Logger
	timeout  time.Duration
	lastMark string
	stalls   uint64
	mutex    deadlock.RWMutex

	// Called from the polling goroutine whenever a tick is late.
	OnStall func()
}

func New(logger zerolog.Logger, timeout time.Duration) *Chanlock {
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}
	return &Chanlock{
		log:     logger,
		timeout: timeout,
	}
}

// Mark records what the loop is doing, to be reported if it stalls.
func (c *Chanlock) Mark(name string) {
	c.mutex.Lock()
	c.lastMark = name
	c.mutex.Unlock()
}

func (c *Chanlock) LastMark() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastMark
}

// Stalls is the number of ticks that were not picked up within the timeout.
func (c *Chanlock) Stalls() uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stalls
}

func (c *Chanlock) stalled() {
	c.mutex.Lock()
	c.stalls++
	mark := c.lastMark
	c.mutex.Unlock()

	if c.OnStall != nil {
		c.OnStall()
	}

	c.log.Error().Dur("timeout", c.timeout).Msg("tick loop no longer healthy")
	if mark != "" {
		c.log.Error().Msgf("last mark: %s", mark)
	}
}

// Poll emits a tick every interval until ctx ends. A tick the consumer has
// not received within the timeout is reported once; ticks are not queued
// up behind a stalled consumer.
func (c *Chanlock) Poll(ctx context.Context, interval time.Duration) <-chan time.Time {
	out := make(chan time.Time)
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case t := <-ticker.C:
				timeout := time.NewTimer(c.timeout)
				select {
				case out <- t:
					timeout.Stop()
				case <-timeout.C:
					c.stalled()
					select {
					case out <- t:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					timeout.Stop()
					return
				}
				c.Mark("")
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
