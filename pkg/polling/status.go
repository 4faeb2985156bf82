package polling

import (
	"strings"

	"github.com/tidwall/gjson"
)

// JobStatus is the server-reported state of an asynchronous job.
type JobStatus string

const (
	StatusSubmitted   JobStatus = "submitted"
	StatusMetaRunning JobStatus = "meta_running"
	StatusRunning     JobStatus = "running"
	StatusProcessing  JobStatus = "processing"
	StatusPersisting  JobStatus = "persisting"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether polling stops at this status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseJobStatus converts a wire value to a JobStatus. The backend also
// reports "error" for failures and the US spelling "canceled".
func ParseJobStatus(s string) (JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "submitted", "queued", "pending":
		return StatusSubmitted, true
	case "meta_running":
		return StatusMetaRunning, true
	case "running":
		return StatusRunning, true
	case "processing":
		return StatusProcessing, true
	case "persisting":
		return StatusPersisting, true
	case "completed":
		return StatusCompleted, true
	case "failed", "error":
		return StatusFailed, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// StageName names a phase within the processing status.
type StageName string

const (
	StagePaginating StageName = "paginating"
	StageEnriching  StageName = "enriching"
	StageFormatting StageName = "formatting"
)

// StageDetails is the per-stage payload of a processing job. Exactly one of
// Paginating, Enriching, Formatting or UnknownStage.
type StageDetails interface {
	Name() StageName
}

// Paginating carries the number of result pages fetched so far.
type Paginating struct {
	PageCount int
}

func (Paginating) Name() StageName { return StagePaginating }

// Enriching carries enrichment batch counters.
type Enriching struct {
	EnrichedBatches int
	TotalBatches    int
}

func (Enriching) Name() StageName { return StageEnriching }

// Formatting has no counters.
type Formatting struct{}

func (Formatting) Name() StageName { return StageFormatting }

// UnknownStage is a stage name this client doesn't know about.
type UnknownStage struct {
	Raw string
}

func (u UnknownStage) Name() StageName { return StageName(u.Raw) }

// Job is one poll's view of a server-side job. It is never persisted.
type Job struct {
	ID          string
	Status      JobStatus
	RawProgress int
	Stage       StageDetails // nil when the payload carried no stage details
	ResultRef   string
	ResultCount *int
	Message     string
	Error       string
	Warnings    []string
}

// HasResult reports whether the job completed with a result reference.
func (j Job) HasResult() bool {
	return j.Status == StatusCompleted && j.ResultRef != ""
}

// ParseStatus decodes a job status payload. Empty bodies yield
// ErrEmptyPayload, anything else that can't be read yields a *PayloadError.
func ParseStatus(jobID, body string) (Job, error) {
	if strings.TrimSpace(body) == "" {
		return Job{}, ErrEmptyPayload
	}
	if !gjson.Valid(body) {
		return Job{}, &PayloadError{Body: body, Reason: "invalid JSON"}
	}

	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return Job{}, &PayloadError{Body: body, Reason: "status payload is not an object"}
	}

	rawStatus := doc.Get("status")
	if !rawStatus.Exists() {
		return Job{}, &PayloadError{Body: body, Reason: "missing status"}
	}
	status, ok := ParseJobStatus(rawStatus.String())
	if !ok {
		return Job{}, &PayloadError{Body: body, Reason: "unknown status " + rawStatus.String()}
	}

	job := Job{
		ID:          jobID,
		Status:      status,
		RawProgress: clamp(int(doc.Get("progress").Int()), 0, 100),
		ResultRef:   firstString(doc, "result_ref", "resultRef"),
		Message:     doc.Get("message").String(),
		Error:       firstString(doc, "error", "error_message"),
	}
	if id := doc.Get("job_id").String(); id != "" {
		job.ID = id
	}
	if rc := doc.Get("result_count"); rc.Exists() {
		n := int(rc.Int())
		job.ResultCount = &n
	}
	for _, w := range doc.Get("warnings").Array() {
		if s := strings.TrimSpace(w.String()); s != "" {
			job.Warnings = append(job.Warnings, s)
		}
	}

	if details := firstResult(doc, "stage_details", "details"); details.IsObject() {
		job.Stage = parseStage(details)
	}
	return job, nil
}

func parseStage(details gjson.Result) StageDetails {
	name := strings.ToLower(details.Get("stage").String())
	switch StageName(name) {
	case StagePaginating:
		return Paginating{PageCount: int(firstResult(details, "page_count", "pages").Int())}
	case StageEnriching:
		return Enriching{
			EnrichedBatches: int(firstResult(details, "enriched_batches", "enrichment_batches_done", "batches_done").Int()),
			TotalBatches:    int(firstResult(details, "total_batches", "enrichment_batches_total").Int()),
		}
	case StageFormatting:
		return Formatting{}
	default:
		return UnknownStage{Raw: name}
	}
}

func firstResult(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(doc gjson.Result, paths ...string) string {
	return firstResult(doc, paths...).String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
