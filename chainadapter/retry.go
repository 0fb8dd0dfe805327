// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/bridge/attestation"
)

// Submitter wraps an Adapter's transaction submission with bounded
// exponential backoff. It retries transient failures up to a fixed
// attempt count and then surfaces the last error so the caller can
// escalate instead of stalling the transfer.
type Submitter struct {
	adapter   Adapter
	log       log.Logger
	retries   int
	retryWait time.Duration
}

// NewSubmitter creates a retrying submitter. retries must be at least
// 1; retryWait is the initial backoff and doubles per attempt.
func NewSubmitter(adapter Adapter, retries int, retryWait time.Duration, logger log.Logger) *Submitter {
	if retries < 1 {
		retries = 1
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Submitter{
		adapter:   adapter,
		log:       logger,
		retries:   retries,
		retryWait: retryWait,
	}
}

// SubmitMint submits the mint transaction, retrying on failure.
func (s *Submitter) SubmitMint(ctx context.Context, transferID ids.ID, bundle *attestation.ProofBundle, amount uint64) (ids.ID, error) {
	return s.withRetry(ctx, "mint", transferID, func(ctx context.Context) (ids.ID, error) {
		return s.adapter.SubmitMint(ctx, transferID, bundle, amount)
	})
}

// SubmitRefund submits the refund transaction, retrying on failure.
func (s *Submitter) SubmitRefund(ctx context.Context, transferID ids.ID, recipient []byte, amount uint64) (ids.ID, error) {
	return s.withRetry(ctx, "refund", transferID, func(ctx context.Context) (ids.ID, error) {
		return s.adapter.SubmitRefund(ctx, transferID, recipient, amount)
	})
}

func (s *Submitter) withRetry(
	ctx context.Context,
	op string,
	transferID ids.ID,
	submit func(context.Context) (ids.ID, error),
) (ids.ID, error) {
	wait := s.retryWait
	var lastErr error

	for attempt := 0; attempt < s.retries; attempt++ {
		select {
		case <-ctx.Done():
			return ids.Empty, ctx.Err()
		default:
		}

		txID, err := submit(ctx)
		if err == nil {
			return txID, nil
		}
		lastErr = err
		s.log.Debug("submission attempt failed, retrying",
			log.String("op", op),
			log.Stringer("transferID", transferID),
			log.Int("attempt", attempt+1),
			log.Err(err),
		)

		// Don't wait after last attempt
		if attempt < s.retries-1 {
			select {
			case <-time.After(wait):
				wait *= 2
			case <-ctx.Done():
				return ids.Empty, ctx.Err()
			}
		}
	}

	return ids.Empty, fmt.Errorf("%w: %s %s after %d attempts: %w",
		ErrSubmitFailed, op, transferID, s.retries, lastErr)
}
