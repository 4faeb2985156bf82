package tracker

import (
	"context"
	"sync"

	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/polling"
)

// JobHandle is the caller's view of one tracked job. It is safe for
// concurrent use.
type JobHandle struct {
	JobID string
	Kind  adsapi.JobKind

	t      *Tracker
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool // detaches the parent-context watcher
	done   chan struct{}

	cleanup sync.WaitGroup // Cancel's teardown; Done waits for it

	mu          sync.Mutex
	packID      string
	speculative bool       // packID was written locally before completion
	previous    *pack.Pack // summary as it was before a refresh started
	committed   bool       // result is being written; Cancel is a no-op
	cancelled   bool
	finished    bool
	progress    polling.Progress
	onProgress  []func(polling.Progress)
	result      pack.Pack
	err         error
}

// PackID returns the id of the pack the job writes, if known yet.
func (h *JobHandle) PackID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.packID
}

// Progress returns the latest normalized progress. It is the zero value
// before the first status check and after cancellation.
func (h *JobHandle) Progress() polling.Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Cancelled reports whether Cancel took effect.
func (h *JobHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Done is closed once the job has ended and all cleanup ran.
func (h *JobHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job ends or ctx is done. A cancelled job returns
// polling.ErrCancelled, which callers treat as cleared rather than failed.
func (h *JobHandle) Wait(ctx context.Context) (pack.Pack, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return pack.Pack{}, ctx.Err()
	}
}

// Cancel stops tracking the job and undoes what it wrote locally. Speculative
// packs are also deleted upstream on a best-effort basis, and the backend is
// asked to stop the job without waiting for the answer. Cancel never fails;
// once the result is being committed, it does nothing.
func (h *JobHandle) Cancel() {
	h.mu.Lock()
	if h.committed || h.cancelled || h.finished {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	h.progress = polling.Progress{}
	packID, speculative, previous := h.packID, h.speculative, h.previous
	h.cleanup.Add(1)
	h.mu.Unlock()
	defer h.cleanup.Done()

	h.cancel()
	h.t.stopRemote(h.JobID)
	h.t.undo(h.JobID, packID, speculative, previous)
}

func (h *JobHandle) setProgress(p polling.Progress) {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.progress = p
	listeners := h.onProgress
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(p)
	}
}

// beginCommit claims the right to write the result. It fails if Cancel got
// there first.
func (h *JobHandle) beginCommit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	h.committed = true
	return true
}

// finish records the outcome once Cancel's teardown is over. Cancellation
// wins over whatever the run ended with. Done stays open until release.
func (h *JobHandle) finish(p pack.Pack, err error) (cancelled bool) {
	h.mu.Lock()
	if h.cancelled {
		p, err = pack.Pack{}, polling.ErrCancelled
	}
	h.result, h.err = p, err
	h.finished = true
	cancelled = h.cancelled
	h.mu.Unlock()

	h.stop()
	h.cancel()
	h.cleanup.Wait()
	return cancelled
}

func (h *JobHandle) release() { close(h.done) }
