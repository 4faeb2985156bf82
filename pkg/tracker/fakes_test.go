package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/polling"
	"github.com/packsync/packsync/pkg/storage"
)

type statusStep struct {
	job polling.Job
	err error
}

// fakeRemote replays scripted status responses and records the best-effort
// calls it receives.
type fakeRemote struct {
	mu sync.Mutex

	submission adsapi.Submission
	submitErr  error
	steps      []statusStep
	result     adsapi.Result
	resultErr  error
	packAds    map[string][]pack.Ad
	deleteErr  error
	onSubmit   func()

	submitted   []adsapi.SubmitParams
	statusCalls int
	fetchCalls  int
	cancelled   []string
	deleted     []string
}

func (f *fakeRemote) SubmitJob(_ context.Context, params adsapi.SubmitParams) (adsapi.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, params)
	if f.onSubmit != nil {
		f.onSubmit()
	}
	return f.submission, f.submitErr
}

func (f *fakeRemote) JobStatus(_ context.Context, jobID string) (polling.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.statusCalls
	f.statusCalls++
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	s := f.steps[i]
	s.job.ID = jobID
	return s.job, s.err
}

func (f *fakeRemote) FetchResult(context.Context, string) (adsapi.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.result, f.resultErr
}

func (f *fakeRemote) CancelJob(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return errors.New("cancel endpoint unavailable")
}

func (f *fakeRemote) DeletePack(_ context.Context, packID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, packID)
	return f.deleteErr
}

func (f *fakeRemote) ListPacks(context.Context) ([]pack.Pack, error) { return nil, nil }

func (f *fakeRemote) FetchPackAds(_ context.Context, id string) ([]pack.Ad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packAds[id], nil
}

func (f *fakeRemote) snapshot() (statusCalls int, cancelled, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, append([]string(nil), f.cancelled...), append([]string(nil), f.deleted...)
}

// noticeLog collects notices.
type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) Notify(x Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, x)
	n.mu.Unlock()
}

func (n *noticeLog) All() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

func instantSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// blockingSleep never lets the next attempt run; only cancellation ends it.
func blockingSleep(ctx context.Context, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

var now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type harness struct {
	remote  *fakeRemote
	db      *storage.DB
	cache   *storage.Cache
	notices *noticeLog
	tracker *Tracker
}

func newHarness(t *testing.T, remote *fakeRemote, sleep polling.SleepFunc) *harness {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "packsync.sqlite"))
	require.NoError(t, err)
	cache := storage.NewCache(db, storage.CacheConfig{DetailTTL: time.Hour, Source: remote, Now: func() time.Time { return now }})
	t.Cleanup(func() {
		cache.Close()
		_ = db.Close()
	})
	notices := &noticeLog{}
	tr := New(remote, cache, polling.NewRegistry(), Config{
		Interval: time.Millisecond,
		Sleep:    sleep,
		Notifier: notices,
		Now:      func() time.Time { return now },
	})
	return &harness{remote: remote, db: db, cache: cache, notices: notices, tracker: tr}
}

func wait(t *testing.T, h *JobHandle) (pack.Pack, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "job did not finish")
	return p, err
}

func intPtr(n int) *int { return &n }

func importParams() adsapi.SubmitParams {
	return adsapi.SubmitParams{
		Kind:        adsapi.KindImport,
		Name:        "Spring videos",
		AdAccountID: "act_42",
		DateStart:   "2026-03-01",
		DateStop:    "2026-03-31",
	}
}

func sampleAds() []pack.Ad {
	return []pack.Ad{
		{ID: "a1", CampaignID: "c1", AdsetID: "s1", CreativeID: "cr1", Format: "VIDEO", LinkURL: "https://shop.example.com/x", Impressions: 1000, Clicks: 10, Spend: decimal.RequireFromString("5")},
		{ID: "a2", CampaignID: "c1", AdsetID: "s2", CreativeID: "cr2", Format: "SHARE", VideoID: "v2", Impressions: 1000, Clicks: 30, Spend: decimal.RequireFromString("15")},
		{ID: "a3", CampaignID: "c2", AdsetID: "s3", CreativeID: "cr3", Format: "IMAGE", Impressions: 500, Clicks: 5, Spend: decimal.RequireFromString("2")},
	}
}

func completedSteps(ref string, count int) []statusStep {
	return []statusStep{
		{job: polling.Job{Status: polling.StatusRunning, RawProgress: 15}},
		{job: polling.Job{Status: polling.StatusProcessing, Stage: polling.Paginating{PageCount: 5}}},
		{job: polling.Job{Status: polling.StatusCompleted, ResultRef: ref, ResultCount: intPtr(count)}},
	}
}
