package cmd

import (
	"context"
	"errors"

	"github.com/packsync/packsync/pkg/polling"
	"github.com/packsync/packsync/pkg/tracker"
)

// reportedError fails the command without printing anything more: the user
// already saw the cause as a job notice.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

// jobFailed reports whether a job outcome counts as a failure. An empty
// result or a cancellation is a normal way for a job to end.
func jobFailed(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, tracker.ErrEmptyResult),
		polling.IsCancelled(err),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// jobExitErr maps a tracked job's outcome to the command's return value.
func jobExitErr(err error) error {
	if !jobFailed(err) {
		return nil
	}
	return reportedError{err: err}
}

func countFailures(errs []error) int {
	n := 0
	for _, err := range errs {
		if jobFailed(err) {
			n++
		}
	}
	return n
}

// exitMessage returns what Execute prints for err, if anything.
func exitMessage(err error) (string, bool) {
	var reported reportedError
	if err == nil || errors.As(err, &reported) {
		return "", false
	}
	return err.Error(), true
}
