package polling

import (
	"context"
	"errors"
	"time"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// StatusFetcher returns the current state of a job. Implementations must be
// safe to call repeatedly for the same job.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (Job, error)
}

// JobConfig holds everything PollJob needs for a single job.
type JobConfig struct {
	JobID       string
	Fetcher     StatusFetcher
	Registry    *Registry     // required; claims JobID for the lifetime of the loop
	Claimed     bool          // JobID was registered by the caller; PollJob still releases it
	Interval    time.Duration // 0 = DefaultInterval
	MaxAttempts int           // 0 = unbounded
	Log         Logger        // optional; nil = no logging
	Sleep       SleepFunc     // optional; tests inject a fake clock

	// Cancelled is checked before every request and after every response.
	// Nil means the job can't be cancelled other than through ctx.
	Cancelled func() bool

	// OnProgress receives normalized progress after every successful check.
	OnProgress func(Progress)
	// OnWarning receives server warnings; each distinct warning is sent once.
	OnWarning func(string)
	// OnRetry is called when a failed check is absorbed and the loop goes on.
	OnRetry func(attempt int, class Class, err error)
}

// PollJob polls a job until it reaches a terminal status, the attempt budget
// runs out, or cancellation is requested.
//
// On completion it returns the final Job. A server-reported failure returns
// *JobFailedError, an exhausted budget returns *PollTimeoutError and any
// cancellation returns ErrCancelled, whatever else went wrong.
func PollJob(ctx context.Context, cfg JobConfig) (Job, error) {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	cancelled := cfg.Cancelled
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	if !cfg.Claimed && !cfg.Registry.Register(cfg.JobID) {
		return Job{}, ErrAlreadyTracking
	}
	defer cfg.Registry.Release(cfg.JobID)

	var (
		tracker ProgressTracker
		warned  = make(map[string]struct{})
		lastErr error
	)
	sched := NewSchedule(ctx, cfg.Interval, cfg.MaxAttempts, cfg.Sleep)

	for {
		attempt, ok := sched.Next()
		if cancelled() {
			return Job{}, ErrCancelled
		}
		if !ok {
			if !sched.Exhausted() {
				return Job{}, ctx.Err()
			}
			log.Warnf("Job %s: no terminal status after %d checks", cfg.JobID, attempt)
			return Job{}, &PollTimeoutError{JobID: cfg.JobID, Attempts: attempt, Last: lastErr}
		}

		job, err := cfg.Fetcher.JobStatus(ctx, cfg.JobID)
		if cancelled() {
			log.Debugf("Job %s: discarding response received after cancellation", cfg.JobID)
			return Job{}, ErrCancelled
		}

		if err != nil {
			class := Classify(err, attempt, cfg.MaxAttempts)
			switch class {
			case Fatal:
				// Out of budget on an error that would otherwise be retried.
				if Classify(err, 0, 0) != Fatal {
					return Job{}, &PollTimeoutError{JobID: cfg.JobID, Attempts: attempt, Last: err}
				}
				return Job{}, err
			case Ambiguous:
				log.Debugf("Job %s: ambiguous status response on attempt %d (%v), probing once", cfg.JobID, attempt, err)
				probe, perr := cfg.Fetcher.JobStatus(ctx, cfg.JobID)
				if cancelled() {
					return Job{}, ErrCancelled
				}
				if perr == nil && probe.HasResult() {
					emit(cfg, &tracker, warned, probe)
					return probe, nil
				}
			default:
				log.Debugf("Job %s: transient error on attempt %d: %v", cfg.JobID, attempt, err)
			}
			lastErr = err
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, class, err)
			}
			continue
		}
		lastErr = nil

		emit(cfg, &tracker, warned, job)

		switch job.Status {
		case StatusCompleted:
			return job, nil
		case StatusFailed:
			return job, &JobFailedError{JobID: cfg.JobID, Message: failureMessage(job)}
		case StatusCancelled:
			return job, ErrCancelled
		}
	}
}

func emit(cfg JobConfig, tracker *ProgressTracker, warned map[string]struct{}, job Job) {
	p := tracker.Update(job)
	if cfg.OnProgress != nil {
		cfg.OnProgress(p)
	}
	if cfg.OnWarning == nil {
		return
	}
	for _, w := range job.Warnings {
		if _, seen := warned[w]; seen {
			continue
		}
		warned[w] = struct{}{}
		cfg.OnWarning(w)
	}
}

func failureMessage(job Job) string {
	if job.Error != "" {
		return job.Error
	}
	return job.Message
}

// IsCancelled reports whether err is the result of a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
