// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information

package sync2

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	const limit = 4
	limiter := NewLimiter(limit)

	var active, peak int64
	for i := 0; i < 40; i++ {
		limiter.Go(context.Background(), func() {
			now := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if now <= old || atomic.CompareAndSwapInt64(&peak, old, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&active, -1)
		})
	}
	limiter.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
}

func TestLimiterCanceledContext(t *testing.T) {
	limiter := NewLimiter(1)

	block := make(chan struct{})
	limiter.Go(context.Background(), func() { <-block })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started := limiter.Go(ctx, func() {})
	assert.False(t, started)

	close(block)
	limiter.Wait()
}
