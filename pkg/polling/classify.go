package polling

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is the outcome of classifying a failed status check.
type Class int

const (
	// Transient errors are retried silently on the next scheduled attempt.
	Transient Class = iota
	// Ambiguous errors trigger one extra status probe before being retried.
	Ambiguous
	// Fatal errors end the poll loop.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Ambiguous:
		return "ambiguous"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// httpStatusError is satisfied by transport errors that carry a response code.
type httpStatusError interface {
	HTTPStatus() int
}

// Classify decides how the poll loop reacts to err on the given attempt.
func Classify(err error, attempt, maxAttempts int) Class {
	if err == nil {
		return Transient
	}
	if maxAttempts > 0 && attempt >= maxAttempts {
		return Fatal
	}

	var failed *JobFailedError
	if errors.As(err, &failed) {
		return Fatal
	}
	if errors.Is(err, ErrAlreadyTracking) {
		return Fatal
	}

	if isAmbiguous(err) {
		return Ambiguous
	}

	var se httpStatusError
	if errors.As(err, &se) {
		return classifyStatus(se.HTTPStatus())
	}

	// Timeouts, resets and anything else that looks like the network.
	return Transient
}

func isAmbiguous(err error) bool {
	if errors.Is(err, ErrEmptyPayload) {
		return true
	}
	var pe *PayloadError
	if errors.As(err, &pe) {
		return true
	}
	var syntaxErr *json.SyntaxError
	return errors.As(err, &syntaxErr)
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return Transient
	case code >= 400:
		return Fatal
	default:
		return Transient
	}
}

// IsTimeout reports whether err has a network/HTTP timeout signature.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var se httpStatusError
	if errors.As(err, &se) {
		switch se.HTTPStatus() {
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
