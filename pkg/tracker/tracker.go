package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/polling"
	"github.com/packsync/packsync/pkg/storage"
)

const (
	DefaultMaxAttempts        = 600 // about 20 minutes at the default interval
	DefaultRefreshMaxAttempts = 300
	defaultCleanupTimeout     = 10 * time.Second
)

// Config holds the tracker's tunables. Zero values pick the defaults.
type Config struct {
	Interval           time.Duration
	MaxAttempts        int // imports
	RefreshMaxAttempts int
	DetailTTL          time.Duration
	Filter             pack.ItemFilter // counts towards stats; nil = video only
	CleanupTimeout     time.Duration   // bound on best-effort remote calls

	Log      polling.Logger    // optional; nil = no logging
	Tracer   trace.Tracer      // optional; nil = no-op
	Notifier Notifier          // optional; nil = notices are dropped
	Sleep    polling.SleepFunc // optional; tests inject a fake clock
	Now      func() time.Time  // optional
}

// Tracker submits jobs, polls them and writes their results to the local
// tiers.
type Tracker struct {
	remote   adsapi.Remote
	cache    *storage.Cache
	registry *polling.Registry
	mat      *Materializer
	cfg      Config
	log      polling.Logger
	tracer   trace.Tracer
	notifier Notifier

	mu      sync.Mutex
	handles map[string]*JobHandle
}

// New builds a Tracker. registry may be shared between trackers; a nil
// registry gets a private one.
func New(remote adsapi.Remote, cache *storage.Cache, registry *polling.Registry, cfg Config) *Tracker {
	if registry == nil {
		registry = polling.NewRegistry()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RefreshMaxAttempts <= 0 {
		cfg.RefreshMaxAttempts = DefaultRefreshMaxAttempts
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	if cfg.DetailTTL <= 0 {
		cfg.DetailTTL = cache.DetailTTL()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	t := &Tracker{
		remote:   remote,
		cache:    cache,
		registry: registry,
		mat:      NewMaterializer(remote, cfg.Filter, cfg.Now),
		cfg:      cfg,
		log:      cfg.Log,
		tracer:   cfg.Tracer,
		notifier: cfg.Notifier,
		handles:  make(map[string]*JobHandle),
	}
	if t.log == nil {
		t.log = nopLogger{}
	}
	if t.tracer == nil {
		t.tracer = noop.NewTracerProvider().Tracer("packsync/tracker")
	}
	if t.notifier == nil {
		t.notifier = nopNotifier{}
	}
	return t
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Option customizes a single tracked job.
type Option func(*JobHandle)

// WithProgress registers a callback for every normalized progress update.
func WithProgress(fn func(polling.Progress)) Option {
	return func(h *JobHandle) {
		if fn != nil {
			h.onProgress = append(h.onProgress, fn)
		}
	}
}

// Registry returns the registry of jobs being polled.
func (t *Tracker) Registry() *polling.Registry { return t.registry }

// Handle returns the handle of a job tracked by this tracker.
func (t *Tracker) Handle(jobID string) (*JobHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[jobID]
	return h, ok
}

// SubmitAndTrack validates params, submits the job and starts polling it in
// the background. Cancelling ctx cancels the job.
func (t *Tracker) SubmitAndTrack(ctx context.Context, params adsapi.SubmitParams, opts ...Option) (*JobHandle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var previous *pack.Pack
	if params.Kind == adsapi.KindRefresh {
		if p, err := t.cache.Get(ctx, params.PackID); err == nil {
			previous = &p
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	sub, err := t.remote.SubmitJob(ctx, params)
	if err != nil {
		return nil, err
	}
	t.log.Infof("Submitted %s job %s", params.Kind, sub.JobID)

	if !t.claim(sub.JobID) {
		return nil, polling.ErrAlreadyTracking
	}
	h := t.newHandle(ctx, sub.JobID, params.Kind, opts)
	// Local bookkeeping outlives the caller's ctx; Cancel undoes it.
	wctx := context.WithoutCancel(ctx)

	switch {
	case params.Kind == adsapi.KindRefresh:
		h.packID = params.PackID
		if previous != nil {
			h.previous = previous
			marked := *previous
			marked.RefreshStatus = pack.StatusRefreshing
			marked.JobID = sub.JobID
			if err := t.cache.UpsertSummary(wctx, marked); err != nil {
				t.log.Warnf("Could not mark pack %s as refreshing: %v", params.PackID, err)
			}
		}
	case sub.PackID != "":
		// The backend reserved the record already; show it as pending.
		h.packID = sub.PackID
		now := t.cfg.Now().UTC()
		pending := pack.Pack{
			ID:            sub.PackID,
			Name:          params.Name,
			AdAccountID:   params.AdAccountID,
			DateStart:     params.DateStart,
			DateStop:      params.DateStop,
			Filters:       params.Filters,
			AutoRefresh:   params.AutoRefresh,
			RefreshStatus: pack.StatusPending,
			JobID:         sub.JobID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := t.cache.UpsertSummary(wctx, pending); err != nil {
			t.log.Warnf("Could not store pending pack %s: %v", sub.PackID, err)
		} else {
			h.speculative = true
		}
	}

	t.start(ctx, h, params)
	return h, nil
}

// Resume starts polling a job submitted earlier, e.g. by a previous run.
func (t *Tracker) Resume(ctx context.Context, jobID string, kind adsapi.JobKind, packID string, opts ...Option) (*JobHandle, error) {
	if !t.claim(jobID) {
		return nil, polling.ErrAlreadyTracking
	}
	params := adsapi.SubmitParams{Kind: kind, PackID: packID}
	h := t.newHandle(ctx, jobID, kind, opts)
	h.packID = packID
	if packID != "" {
		if p, err := t.cache.Get(ctx, packID); err == nil {
			if p.IsSpeculative() && p.JobID == jobID {
				h.speculative = true
			}
			params.Name, params.AdAccountID = p.Name, p.AdAccountID
			params.DateStart, params.DateStop = p.DateStart, p.DateStop
			params.Filters, params.AutoRefresh = p.Filters, p.AutoRefresh
			if kind == adsapi.KindRefresh {
				prev := p
				prev.RefreshStatus, prev.JobID = pack.StatusReady, ""
				h.previous = &prev
			}
		}
	}
	t.start(ctx, h, params)
	return h, nil
}

// claim reserves jobID for a single poller. The claim is handed to PollJob,
// which releases it when the loop ends.
func (t *Tracker) claim(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handles[jobID]; ok {
		return false
	}
	return t.registry.Register(jobID)
}

func (t *Tracker) newHandle(ctx context.Context, jobID string, kind adsapi.JobKind, opts []Option) *JobHandle {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &JobHandle{
		JobID:  jobID,
		Kind:   kind,
		t:      t,
		ctx:    hctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// start publishes h and begins polling. The parent watcher is armed last so
// an early Cancel sees the pack state set up by the caller.
func (t *Tracker) start(parent context.Context, h *JobHandle, params adsapi.SubmitParams) {
	t.mu.Lock()
	t.handles[h.JobID] = h
	t.mu.Unlock()

	h.stop = context.AfterFunc(parent, h.Cancel)

	go t.run(h, params)
}

func (t *Tracker) run(h *JobHandle, params adsapi.SubmitParams) {
	ctx, span := t.tracer.Start(h.ctx, "tracker.job", trace.WithAttributes(
		attribute.String("job.id", h.JobID),
		attribute.String("job.kind", string(h.Kind)),
	))
	defer span.End()

	p, err := t.execute(ctx, h, params)

	if err != nil && !h.Cancelled() {
		t.rollback(h, polling.IsCancelled(err))
	}
	cancelled := h.finish(p, err)

	t.mu.Lock()
	if t.handles[h.JobID] == h {
		delete(t.handles, h.JobID)
	}
	t.mu.Unlock()

	n := Notice{JobID: h.JobID, PackID: h.PackID()}
	switch {
	case cancelled || polling.IsCancelled(err):
		n.Kind, n.Message = NoticeCleared, "Job cancelled"
		span.SetStatus(codes.Unset, "cancelled")
		t.log.Infof("Job %s cancelled", h.JobID)
	case err == nil:
		n.Kind, n.PackID = NoticeSuccess, p.ID
		n.Message = fmt.Sprintf("Pack %q ready with %d ads", p.Name, p.Stats.TotalAds)
		span.SetStatus(codes.Ok, "")
		t.log.Infof("Job %s finished: pack %s", h.JobID, p.ID)
	case errors.Is(err, ErrEmptyResult):
		n.Kind, n.Message, n.Err = NoticeEmpty, err.Error(), err
		span.SetStatus(codes.Ok, "empty")
		t.log.Infof("Job %s finished without results", h.JobID)
	default:
		n.Kind, n.Message, n.Err = NoticeFailure, err.Error(), err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.log.Errorf("Job %s failed: %v", h.JobID, err)
	}
	t.notifier.Notify(n)
	h.release()
}

func (t *Tracker) execute(ctx context.Context, h *JobHandle, params adsapi.SubmitParams) (pack.Pack, error) {
	maxAttempts := t.cfg.MaxAttempts
	if h.Kind == adsapi.KindRefresh {
		maxAttempts = t.cfg.RefreshMaxAttempts
	}

	job, err := polling.PollJob(ctx, polling.JobConfig{
		JobID:       h.JobID,
		Fetcher:     t.remote,
		Registry:    t.registry,
		Claimed:     true,
		Interval:    t.cfg.Interval,
		MaxAttempts: maxAttempts,
		Log:         t.log,
		Sleep:       t.cfg.Sleep,
		Cancelled:   h.Cancelled,
		OnProgress:  h.setProgress,
		OnWarning: func(w string) {
			t.log.Warnf("Job %s: %s", h.JobID, w)
		},
	})
	if err != nil {
		return pack.Pack{}, err
	}
	if job.ResultCount != nil && *job.ResultCount == 0 {
		return pack.Pack{}, ErrEmptyResult
	}
	if job.ResultRef == "" {
		return pack.Pack{}, &MaterializationError{Err: errors.New("completed job has no result reference")}
	}

	base := pack.Pack{
		ID:          h.PackID(),
		Name:        params.Name,
		AdAccountID: params.AdAccountID,
		DateStart:   params.DateStart,
		DateStop:    params.DateStop,
		Filters:     params.Filters,
		AutoRefresh: params.AutoRefresh,
	}
	if h.previous != nil {
		base = merge(base, *h.previous)
	}

	p, ads, err := t.mat.Materialize(ctx, job.ResultRef, base)
	if err != nil {
		return pack.Pack{}, err
	}

	if !h.beginCommit() {
		return pack.Pack{}, polling.ErrCancelled
	}
	return p, t.commit(context.WithoutCancel(ctx), h, p, ads)
}

func (t *Tracker) commit(ctx context.Context, h *JobHandle, p pack.Pack, ads []pack.Ad) error {
	if err := t.cache.UpsertSummary(ctx, p); err != nil {
		return fmt.Errorf("save pack %s: %w", p.ID, err)
	}
	if h.Kind == adsapi.KindRefresh {
		if err := t.cache.InvalidateDetail(ctx, p.DetailRef); err != nil {
			t.log.Warnf("Could not invalidate details of pack %s: %v", p.ID, err)
		}
	}
	t.cache.UpsertDetail(ctx, p.DetailRef, ads, t.cfg.DetailTTL)

	h.mu.Lock()
	oldID, speculative := h.packID, h.speculative
	h.packID = p.ID
	h.mu.Unlock()
	if speculative && oldID != p.ID {
		if err := t.cache.Remove(ctx, oldID); err != nil {
			t.log.Warnf("Could not drop pending pack %s: %v", oldID, err)
		}
	}
	return nil
}

// rollback undoes local writes of a job that ended without a result. A job
// cancelled by the backend restores the previous record instead of marking it
// failed.
func (t *Tracker) rollback(h *JobHandle, cancelled bool) {
	h.mu.Lock()
	packID, speculative, previous := h.packID, h.speculative, h.previous
	committed := h.committed
	h.mu.Unlock()
	if committed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CleanupTimeout)
	defer cancel()
	switch {
	case speculative:
		if err := t.cache.Remove(ctx, packID); err != nil {
			t.log.Warnf("Could not drop pending pack %s: %v", packID, err)
		}
	case previous != nil && cancelled:
		if err := t.cache.UpsertSummary(ctx, *previous); err != nil {
			t.log.Warnf("Could not restore pack %s: %v", packID, err)
		}
	case previous != nil:
		failed := *previous
		failed.RefreshStatus = pack.StatusFailed
		failed.JobID = ""
		if err := t.cache.UpsertSummary(ctx, failed); err != nil {
			t.log.Warnf("Could not mark pack %s as failed: %v", packID, err)
		}
	}
}

// stopRemote asks the backend to stop a job without waiting for the answer.
func (t *Tracker) stopRemote(jobID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CleanupTimeout)
		defer cancel()
		if err := t.remote.CancelJob(ctx, jobID); err != nil {
			t.log.Debugf("Stop request for job %s failed: %v", jobID, err)
		}
	}()
}

// undo is the teardown after Cancel: remote delete of a speculative pack,
// then local removal. Errors are logged and dropped.
func (t *Tracker) undo(jobID, packID string, speculative bool, previous *pack.Pack) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CleanupTimeout)
	defer cancel()

	switch {
	case speculative && packID != "":
		if err := t.remote.DeletePack(ctx, packID); err != nil {
			t.log.Debugf("Best-effort delete of pack %s failed: %v", packID, err)
		}
		if err := t.cache.Remove(ctx, packID); err != nil {
			t.log.Warnf("Could not remove pending pack %s: %v", packID, err)
		}
	case previous != nil:
		if err := t.cache.UpsertSummary(ctx, *previous); err != nil {
			t.log.Warnf("Could not restore pack %s: %v", packID, err)
		}
	}
	t.log.Debugf("Job %s cleared", jobID)
}
