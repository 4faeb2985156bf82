package storage

import "time"

// Change captures a single change to the summary store for auditing or printing.
type Change struct {
	OccurredAt time.Time `json:"occurred_at"`
	PackID     string    `json:"pack_id"`
	Name       string    `json:"name"`
	ChangeType string    `json:"change_type"` // added | updated | removed
}

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}
