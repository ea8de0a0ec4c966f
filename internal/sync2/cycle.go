// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information

package sync2

import (
	"context"
	"time"
)

// Cycle implements a controllable recurring event with an iteration cap.
type Cycle struct {
	interval time.Duration
	limit    int

	ticker *time.Ticker
	quit   chan struct{}
}

// NewCycle creates a new cycle with the specified interval. A limit above
// zero caps how many times Run invokes its function before returning.
func NewCycle(interval time.Duration, limit int) *Cycle {
	return &Cycle{interval: interval, limit: limit}
}

// SetInterval allows changing the interval before starting.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.interval = interval
}

// Run runs fn immediately and then on every tick until the context is
// canceled, fn fails, Stop is called, or the iteration cap is reached.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	cycle.quit = make(chan struct{})
	cycle.ticker = time.NewTicker(cycle.interval)
	defer cycle.ticker.Stop()

	iterations := 0
	for {
		if err := fn(ctx); err != nil {
			return err
		}
		iterations++
		if cycle.limit > 0 && iterations >= cycle.limit {
			return nil
		}

		select {
		case <-cycle.ticker.C:
		case <-cycle.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop stops the cycle permanently.
func (cycle *Cycle) Stop() {
	close(cycle.quit)
}
