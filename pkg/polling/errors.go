package polling

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyTracking is returned when a second poller is started for a job
	// that already has one.
	ErrAlreadyTracking = errors.New("job is already in progress")

	// ErrPollTimeout matches *PollTimeoutError.
	ErrPollTimeout = errors.New("job polling timed out")

	// ErrCancelled is returned once cancellation was requested. Callers treat it
	// as a cleared job, never as a failure.
	ErrCancelled = errors.New("job cancelled")

	// ErrEmptyPayload is returned when a status response has no body.
	ErrEmptyPayload = errors.New("empty status payload")
)

// PayloadError is a status response that could not be read.
type PayloadError struct {
	Body   string
	Title  string // <title> of an HTML error page, if that is what came back
	Reason string
}

func (e *PayloadError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("unreadable status payload (%s): %s", e.Reason, e.Title)
	}
	return "unreadable status payload: " + e.Reason
}

// JobFailedError is an explicit failure reported by the backend. Error returns
// the server message unchanged.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return "job " + e.JobID + " failed"
	}
	return e.Message
}

// PollTimeoutError is returned when the attempt budget runs out before the job
// reaches a terminal status.
type PollTimeoutError struct {
	JobID    string
	Attempts int
	Last     error // last transient error, if the final attempt failed
}

func (e *PollTimeoutError) Error() string {
	msg := fmt.Sprintf("job %s did not finish after %d status checks", e.JobID, e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *PollTimeoutError) Is(target error) bool { return target == ErrPollTimeout }

func (e *PollTimeoutError) Unwrap() error { return e.Last }

// IsFatal reports whether err ends a job for good: explicit failure, exhausted
// budget or a duplicate poller. Fatal errors are never retried automatically.
func IsFatal(err error) bool {
	var failed *JobFailedError
	return errors.As(err, &failed) || errors.Is(err, ErrPollTimeout) || errors.Is(err, ErrAlreadyTracking)
}
