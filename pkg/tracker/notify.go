package tracker

// NoticeKind is the outcome a Notice reports.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeFailure NoticeKind = "failure"
	NoticeEmpty   NoticeKind = "empty"
	NoticeCleared NoticeKind = "cleared"
)

// Notice is the single user-facing message sent when a job ends.
type Notice struct {
	JobID   string
	PackID  string
	Kind    NoticeKind
	Message string
	Err     error
}

// Notifier receives exactly one Notice per tracked job.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}
