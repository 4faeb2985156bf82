package polling

import (
	"fmt"
	"math"
)

// Phase is the UI-facing stage of a job.
type Phase string

const (
	PhaseMetaProcessing Phase = "meta_processing"
	PhasePaginating     Phase = "paginating"
	PhaseEnriching      Phase = "enriching"
	PhaseFormatting     Phase = "formatting"
	PhasePersisting     Phase = "persisting"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

// Progress is the normalized view of a job's progress.
type Progress struct {
	Stage   Phase  `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Percent bands. The backend only reports coarse progress while collecting
// metadata; the processing stages are placed after it on one scale.
const (
	metaCeiling       = 30
	paginatingBase    = 30
	paginatingSpan    = 20
	enrichingBase     = 50
	enrichingSpan     = 30
	formattingPercent = 85
	persistingPercent = 95
)

// Normalize maps a job's status and stage details to a Progress. A missing or
// unknown stage lands in the middle of its phase rather than at zero.
func Normalize(job Job) Progress {
	switch job.Status {
	case StatusSubmitted:
		return Progress{Stage: PhaseMetaProcessing, Percent: 0, Message: orDefault(job.Message, "Job submitted")}
	case StatusMetaRunning, StatusRunning:
		return Progress{
			Stage:   PhaseMetaProcessing,
			Percent: min(job.RawProgress, metaCeiling),
			Message: orDefault(job.Message, "Collecting ad metadata"),
		}
	case StatusProcessing:
		return normalizeProcessing(job)
	case StatusPersisting:
		return Progress{Stage: PhasePersisting, Percent: persistingPercent, Message: orDefault(job.Message, "Saving pack")}
	case StatusCompleted:
		return Progress{Stage: PhaseCompleted, Percent: 100, Message: orDefault(job.Message, "Completed")}
	case StatusFailed:
		return Progress{Stage: PhaseFailed, Percent: 0, Message: orDefault(job.Error, orDefault(job.Message, "Failed"))}
	default:
		// cancelled and anything unparsed: nothing meaningful to show.
		return Progress{Stage: PhaseMetaProcessing, Percent: 0, Message: job.Message}
	}
}

func normalizeProcessing(job Job) Progress {
	switch st := job.Stage.(type) {
	case Paginating:
		pct := paginatingBase + min(st.PageCount*2, paginatingSpan)
		return Progress{Stage: PhasePaginating, Percent: pct, Message: orDefault(job.Message, fmt.Sprintf("Fetching ads (page %d)", st.PageCount))}
	case Enriching:
		if st.TotalBatches <= 0 {
			return Progress{Stage: PhaseEnriching, Percent: enrichingBase + enrichingSpan/2, Message: orDefault(job.Message, "Enriching ads")}
		}
		ratio := float64(min(st.EnrichedBatches, st.TotalBatches)) / float64(st.TotalBatches)
		pct := enrichingBase + int(math.Round(enrichingSpan*ratio))
		return Progress{
			Stage:   PhaseEnriching,
			Percent: pct,
			Message: orDefault(job.Message, fmt.Sprintf("Enriching ads (%d/%d batches)", st.EnrichedBatches, st.TotalBatches)),
		}
	case Formatting:
		return Progress{Stage: PhaseFormatting, Percent: formattingPercent, Message: orDefault(job.Message, "Formatting results")}
	default:
		// Midpoint of the processing phase (30..85) falls in the enriching band.
		return Progress{Stage: PhaseEnriching, Percent: (paginatingBase + formattingPercent) / 2, Message: orDefault(job.Message, "Processing ads")}
	}
}

// ProgressTracker normalizes successive polls of one job and keeps Percent
// from going backwards while the job is still running.
type ProgressTracker struct {
	last Progress
	seen bool
}

// Update normalizes job and returns the progress to show.
func (t *ProgressTracker) Update(job Job) Progress {
	p := Normalize(job)
	if t.seen && !job.Status.IsTerminal() && p.Percent < t.last.Percent {
		p.Percent = t.last.Percent
	}
	if p.Message == "" {
		p.Message = t.last.Message
	}
	t.last = p
	t.seen = true
	return p
}

// Last returns the most recent progress, or the zero value.
func (t *ProgressTracker) Last() Progress { return t.last }

// Reset clears the tracker.
func (t *ProgressTracker) Reset() {
	t.last = Progress{}
	t.seen = false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
