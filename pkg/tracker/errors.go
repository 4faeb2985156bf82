package tracker

import (
	"errors"
	"fmt"
)

// ErrEmptyResult means the job finished but produced no usable ads. It is a
// business outcome: the parameters matched nothing.
var ErrEmptyResult = errors.New("no ads found for the given parameters")

// MaterializationError is returned when a completed job's result can't be
// fetched or carries no pack.
type MaterializationError struct {
	Ref string
	Err error
}

func (e *MaterializationError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("could not load result: %v", e.Err)
	}
	return fmt.Sprintf("could not load result %s: %v", e.Ref, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }
