package polling

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// DefaultInterval is the fixed delay between status checks.
const DefaultInterval = 2 * time.Second

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Schedule hands out poll attempts at a fixed interval. The first attempt is
// granted immediately; later ones wait one interval each. It stops handing
// out attempts once maxAttempts have been granted or ctx is done.
type Schedule struct {
	ctx     context.Context
	b       backoff.BackOff
	sleep   SleepFunc
	attempt int
}

// NewSchedule builds a Schedule. maxAttempts <= 0 means no budget.
func NewSchedule(ctx context.Context, interval time.Duration, maxAttempts int, sleep SleepFunc) *Schedule {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if sleep == nil {
		sleep = Sleep
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(interval)
	switch {
	case maxAttempts == 1:
		b = &backoff.StopBackOff{}
	case maxAttempts > 1:
		// WithMaxRetries counts waits, not attempts.
		b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	}

	return &Schedule{
		ctx:   ctx,
		b:     backoff.WithContext(b, ctx),
		sleep: sleep,
	}
}

// Next blocks until the next attempt is due and returns its 1-based number.
// It returns false when the budget is spent or ctx is done.
func (s *Schedule) Next() (int, bool) {
	if s.ctx.Err() != nil {
		return s.attempt, false
	}
	if s.attempt > 0 {
		d := s.b.NextBackOff()
		if d == backoff.Stop {
			return s.attempt, false
		}
		if err := s.sleep(s.ctx, d); err != nil {
			return s.attempt, false
		}
	}
	s.attempt++
	return s.attempt, true
}

// Attempt returns the number of attempts granted so far.
func (s *Schedule) Attempt() int { return s.attempt }

// Exhausted reports whether the attempt budget, rather than ctx, ended the
// schedule.
func (s *Schedule) Exhausted() bool { return s.ctx.Err() == nil }
