package ocr

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/docintel-worker/internal/errors"
)

// PollState is the lifecycle of an asynchronous provider operation
type PollState string

const (
	PollPending   PollState = "pending"
	PollSucceeded PollState = "succeeded"
	PollFailed    PollState = "failed"
	PollTimedOut  PollState = "timed_out"
)

// Terminal reports whether no further polling is meaningful
func (s PollState) Terminal() bool {
	return s == PollSucceeded || s == PollFailed || s == PollTimedOut
}

// PollPolicy bounds a poll loop
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultPollPolicy is 30 attempts one second apart
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{MaxAttempts: 30, Interval: time.Second}
}

// PollFunc checks an operation once. Returning an error ends the loop as failed.
type PollFunc func(ctx context.Context, attempt int) (PollState, error)

// Poll drives check until it reports a terminal state or the attempts run out.
// The wait between checks is a timer, so a cancelled context ends the loop promptly.
func Poll(ctx context.Context, engine string, policy PollPolicy, check PollFunc) (PollState, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPollPolicy().MaxAttempts
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultPollPolicy().Interval
	}

	timer := time.NewTimer(policy.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return PollFailed, fmt.Errorf("%s polling cancelled: %w", engine, ctx.Err())
		case <-timer.C:
		}

		state, err := check(ctx, attempt)
		if err != nil {
			return PollFailed, err
		}

		switch state {
		case PollSucceeded:
			return PollSucceeded, nil
		case PollFailed:
			return PollFailed, fmt.Errorf("%s operation failed", engine)
		}

		timer.Reset(policy.Interval)
	}

	return PollTimedOut, apperrors.NewPollTimeoutError(engine, policy.MaxAttempts, policy.Interval)
}
