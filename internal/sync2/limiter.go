// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information

// Package sync2 provides synchronization helpers for periodic jobs and
// bounded fan-out.
package sync2

import (
	"context"
	"sync"
)

// Limiter implements a bounded worker pool: Go runs each function in its
// own goroutine but never more than the limit concurrently.
type Limiter struct {
	limit   chan struct{}
	working sync.WaitGroup
}

// NewLimiter creates a new limiter with the given concurrency.
func NewLimiter(limit int) *Limiter {
	return &Limiter{limit: make(chan struct{}, limit)}
}

// Go tries to start fn as a goroutine. When the limit is reached it blocks
// until a slot frees or the context is canceled, returning false in the
// latter case.
func (limiter *Limiter) Go(ctx context.Context, fn func()) bool {
	select {
	case limiter.limit <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	limiter.working.Add(1)
	go func() {
		defer func() {
			<-limiter.limit
			limiter.working.Done()
		}()
		fn()
	}()
	return true
}

// Wait waits for all running goroutines to finish.
func (limiter *Limiter) Wait() {
	limiter.working.Wait()
}
