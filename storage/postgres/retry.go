// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetries  = 4
	defaultInterval = 100 * time.Millisecond
)

// retry runs op with bounded exponential backoff. Only idempotent
// statements go through here; a transaction is aborted by its first failure
// and must be restarted as a whole, never replayed call by call.
func retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultInterval
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), defaultRetries))
}
