package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/polling"
	"github.com/packsync/packsync/pkg/storage"
)

func TestSubmitAndTrackImport(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      completedSteps("abc", 3),
		result: adsapi.Result{
			Pack: pack.Pack{ID: "p1", Name: "Spring videos"},
			Ads:  sampleAds(),
		},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		percents []int
	)
	h, err := hs.tracker.SubmitAndTrack(ctx, importParams(), WithProgress(func(p polling.Progress) {
		mu.Lock()
		percents = append(percents, p.Percent)
		mu.Unlock()
	}))
	require.NoError(t, err)
	assert.Equal(t, "job-1", h.JobID)

	p, err := wait(t, h)
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, pack.StatusReady, p.RefreshStatus)
	assert.Empty(t, p.JobID)
	assert.Equal(t, "act_42", p.AdAccountID, "missing fields come from the submit params")
	assert.Equal(t, 2, p.Stats.TotalAds, "stats count video ads only")
	assert.Equal(t, "20", p.Stats.Spend.String())

	stored, err := hs.cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, pack.StatusReady, stored.RefreshStatus)

	hs.cache.Flush()
	ads, err := hs.db.GetDetail(ctx, "p1", now)
	require.NoError(t, err)
	assert.Len(t, ads, 3, "detail cache keeps the unfiltered list")

	mu.Lock()
	assert.Equal(t, []int{15, 40, 100}, percents)
	mu.Unlock()

	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeSuccess, notices[0].Kind)
	assert.False(t, hs.tracker.Registry().Active("job-1"))
	_, tracked := hs.tracker.Handle("job-1")
	assert.False(t, tracked)
}

func TestSpeculativeRecordWhilePolling(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusRunning}}},
	}
	hs := newHarness(t, remote, blockingSleep)
	ctx := context.Background()

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)
	defer func() {
		h.Cancel()
		_, _ = wait(t, h)
	}()

	p, err := hs.cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.IsSpeculative())
	assert.Equal(t, "job-1", p.JobID)
	assert.Equal(t, "p1", h.PackID())
}

func TestEmptyResultCount(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusCompleted, ResultRef: "abc", ResultCount: intPtr(0)}}},
		result:     adsapi.Result{Pack: pack.Pack{ID: "p1"}, Ads: sampleAds()},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)

	_, err = wait(t, h)
	assert.ErrorIs(t, err, ErrEmptyResult)

	_, err = hs.cache.Get(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "no record written")
	list, err := hs.cache.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)

	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeEmpty, notices[0].Kind)
}

func TestEmptyAfterFilter(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusCompleted, ResultRef: "abc"}}},
		result:     adsapi.Result{Pack: pack.Pack{ID: "p1"}, Ads: []pack.Ad{{ID: "a", Format: "IMAGE"}}},
	}
	hs := newHarness(t, remote, instantSleep)

	h, err := hs.tracker.SubmitAndTrack(context.Background(), importParams())
	require.NoError(t, err)
	_, err = wait(t, h)
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestServerFailureSurfacesVerbatim(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps: []statusStep{
			{job: polling.Job{Status: polling.StatusRunning}},
			{job: polling.Job{Status: polling.StatusFailed, Error: "(#17) User request limit reached"}},
		},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)

	_, err = wait(t, h)
	var failed *polling.JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "(#17) User request limit reached", err.Error())

	calls, _, _ := remote.snapshot()
	assert.Equal(t, 2, calls)

	_, err = hs.cache.Get(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "pending record dropped on failure")

	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeFailure, notices[0].Kind)
	assert.Equal(t, "(#17) User request limit reached", notices[0].Message)
}

func TestMaterializationFailure(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusCompleted, ResultRef: "abc"}}},
		resultErr:  &adsapi.HTTPError{Method: "GET", Path: "/results/abc", StatusCode: 404},
	}
	hs := newHarness(t, remote, instantSleep)

	h, err := hs.tracker.SubmitAndTrack(context.Background(), importParams())
	require.NoError(t, err)
	_, err = wait(t, h)

	var me *MaterializationError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "abc", me.Ref)
	var failed *polling.JobFailedError
	assert.False(t, errors.As(err, &failed), "distinct from a job failure")
}

func TestCancelAfterSpeculativeRecord(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusRunning}}},
		deleteErr:  errors.New("backend down"),
	}
	hs := newHarness(t, remote, blockingSleep)
	ctx := context.Background()

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)
	_, err = hs.cache.Get(ctx, "p1")
	require.NoError(t, err)

	assert.NotPanics(t, h.Cancel)
	assert.NotPanics(t, h.Cancel, "second cancel is a no-op")

	_, err = wait(t, h)
	assert.ErrorIs(t, err, polling.ErrCancelled)
	assert.True(t, h.Cancelled())
	assert.Equal(t, polling.Progress{}, h.Progress())

	_, err = hs.cache.Get(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "local record removed")

	_, _, deleted := remote.snapshot()
	assert.Equal(t, []string{"p1"}, deleted, "remote delete attempted")
	assert.Eventually(t, func() bool {
		_, cancelled, _ := remote.snapshot()
		return len(cancelled) == 1 && cancelled[0] == "job-1"
	}, time.Second, 5*time.Millisecond)

	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeCleared, notices[0].Kind)
	assert.False(t, hs.tracker.Registry().Active("job-1"))
}

func TestCancelMidLoopWritesNothing(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusRunning, RawProgress: 10}}},
		result:     adsapi.Result{Pack: pack.Pack{ID: "p1"}, Ads: sampleAds()},
	}
	hs := newHarness(t, remote, blockingSleep)
	ctx := context.Background()

	seen := make(chan struct{}, 1)
	h, err := hs.tracker.SubmitAndTrack(ctx, importParams(), WithProgress(func(polling.Progress) {
		select {
		case seen <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, err)

	<-seen
	h.Cancel()
	_, err = wait(t, h)
	assert.ErrorIs(t, err, polling.ErrCancelled)

	calls, _, deleted := remote.snapshot()
	assert.Equal(t, 1, calls, "no status request after cancel")
	assert.Empty(t, deleted, "nothing was created upstream")

	list, err := hs.cache.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestParentContextCancelClearsJob(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusRunning}}},
	}
	hs := newHarness(t, remote, blockingSleep)
	ctx, cancel := context.WithCancel(context.Background())

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)
	cancel()

	_, err = wait(t, h)
	assert.ErrorIs(t, err, polling.ErrCancelled)
	_, err = hs.cache.Get(context.Background(), "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      completedSteps("abc", 3),
		result:     adsapi.Result{Pack: pack.Pack{ID: "p1"}, Ads: sampleAds()},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)
	_, err = wait(t, h)
	require.NoError(t, err)

	h.Cancel()
	assert.False(t, h.Cancelled())
	_, err = hs.cache.Get(ctx, "p1")
	assert.NoError(t, err)
	_, _, deleted := remote.snapshot()
	assert.Empty(t, deleted)
	assert.Len(t, hs.notices.All(), 1)
}

func TestRefreshInvalidatesAndRewritesDetails(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-r"},
		steps:      completedSteps("ref-2", 3),
		result:     adsapi.Result{Pack: pack.Pack{ID: "p1"}, Ads: sampleAds()},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()

	existing := pack.Pack{
		ID: "p1", Name: "Old name", AdAccountID: "act_42", DateStart: "2026-01-01", DateStop: "2026-01-31",
		DetailRef: "p1", RefreshStatus: pack.StatusReady, CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour),
	}
	require.NoError(t, hs.cache.UpsertSummary(ctx, existing))
	hs.cache.UpsertDetail(ctx, "p1", []pack.Ad{{ID: "stale"}}, 0)
	hs.cache.Flush()

	h, err := hs.tracker.SubmitAndTrack(ctx, adsapi.SubmitParams{Kind: adsapi.KindRefresh, PackID: "p1"})
	require.NoError(t, err)
	p, err := wait(t, h)
	require.NoError(t, err)

	assert.Equal(t, "Old name", p.Name, "kept from the existing record")
	assert.True(t, existing.CreatedAt.Equal(p.CreatedAt))
	assert.True(t, now.Equal(p.LastRefreshedAt))

	hs.cache.Flush()
	ads, err := hs.db.GetDetail(ctx, "p1", now)
	require.NoError(t, err)
	require.Len(t, ads, 3)
	assert.Equal(t, "a1", ads[0].ID)
}

func TestRefreshFailureMarksPack(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-r"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusFailed, Message: "token expired"}}},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()
	require.NoError(t, hs.cache.UpsertSummary(ctx, pack.Pack{ID: "p1", Name: "Keep me", AdAccountID: "act_1", DateStart: "2026-01-01", DateStop: "2026-01-02"}))

	h, err := hs.tracker.SubmitAndTrack(ctx, adsapi.SubmitParams{Kind: adsapi.KindRefresh, PackID: "p1"})
	require.NoError(t, err)
	_, err = wait(t, h)
	require.Error(t, err)

	p, err := hs.cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, pack.StatusFailed, p.RefreshStatus)
	assert.Equal(t, "Keep me", p.Name)
}

func TestSubmitValidationFails(t *testing.T) {
	remote := &fakeRemote{}
	hs := newHarness(t, remote, instantSleep)

	_, err := hs.tracker.SubmitAndTrack(context.Background(), adsapi.SubmitParams{Kind: adsapi.KindImport})
	require.Error(t, err)
	assert.Empty(t, remote.submitted)
	assert.Empty(t, hs.notices.All())
}

func TestResumeRejectsDuplicatePoller(t *testing.T) {
	remote := &fakeRemote{steps: []statusStep{{job: polling.Job{Status: polling.StatusRunning}}}}
	hs := newHarness(t, remote, instantSleep)
	hs.tracker.Registry().Register("job-1")

	_, err := hs.tracker.Resume(context.Background(), "job-1", adsapi.KindImport, "")
	assert.ErrorIs(t, err, polling.ErrAlreadyTracking)
	calls, _, _ := remote.snapshot()
	assert.Zero(t, calls)
}

func TestResumeCompletesPendingPack(t *testing.T) {
	remote := &fakeRemote{
		steps:  completedSteps("abc", 3),
		result: adsapi.Result{Pack: pack.Pack{ID: "p1"}, Ads: sampleAds()},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()
	require.NoError(t, hs.cache.UpsertSummary(ctx, pack.Pack{
		ID: "p1", Name: "Pending", AdAccountID: "act_1", DateStart: "2026-01-01", DateStop: "2026-01-02",
		RefreshStatus: pack.StatusPending, JobID: "job-1",
	}))

	h, err := hs.tracker.Resume(ctx, "job-1", adsapi.KindImport, "p1")
	require.NoError(t, err)
	p, err := wait(t, h)
	require.NoError(t, err)
	assert.Equal(t, "Pending", p.Name)
	assert.False(t, p.IsSpeculative())
}

func TestRefreshAll(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-shared"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusCompleted, ResultRef: "r"}}},
		result:     adsapi.Result{Pack: pack.Pack{}, Ads: sampleAds()},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()
	p1 := pack.Pack{ID: "p1", Name: "One", AdAccountID: "act_1", DateStart: "2026-01-01", DateStop: "2026-01-02"}
	require.NoError(t, hs.cache.UpsertSummary(ctx, p1))

	var done int
	var mu sync.Mutex
	results := hs.tracker.RefreshAll(ctx, []pack.Pack{p1}, 2, func(BatchResult) {
		mu.Lock()
		done++
		mu.Unlock()
	})
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "p1", results[0].Pack.ID)
	assert.Equal(t, 1, done)
}

func TestDuplicateSubmitKeepsRunningJob(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusRunning}}},
	}
	hs := newHarness(t, remote, blockingSleep)
	ctx := context.Background()

	first, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)

	second, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	assert.ErrorIs(t, err, polling.ErrAlreadyTracking)
	assert.Nil(t, second)

	got, ok := hs.tracker.Handle("job-1")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Empty(t, hs.notices.All(), "a rejected duplicate sends no notice")
	assert.True(t, hs.tracker.Registry().Active("job-1"))

	_, err = hs.tracker.Resume(ctx, "job-1", adsapi.KindImport, "p1")
	assert.ErrorIs(t, err, polling.ErrAlreadyTracking)

	first.Cancel()
	_, err = wait(t, first)
	assert.ErrorIs(t, err, polling.ErrCancelled)
	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeCleared, notices[0].Kind)
	assert.False(t, hs.tracker.Registry().Active("job-1"))
}

func TestCancelRefreshRestoresPreviousRecord(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-r"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusRunning}}},
	}
	hs := newHarness(t, remote, blockingSleep)
	ctx := context.Background()
	existing := pack.Pack{
		ID: "p1", Name: "Keep me", AdAccountID: "act_1", DateStart: "2026-01-01", DateStop: "2026-01-02",
		DetailRef: "p1", RefreshStatus: pack.StatusReady,
	}
	require.NoError(t, hs.cache.UpsertSummary(ctx, existing))

	h, err := hs.tracker.SubmitAndTrack(ctx, adsapi.SubmitParams{Kind: adsapi.KindRefresh, PackID: "p1"})
	require.NoError(t, err)
	marked, err := hs.cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, pack.StatusRefreshing, marked.RefreshStatus)
	assert.Equal(t, "job-r", marked.JobID)

	h.Cancel()
	_, err = wait(t, h)
	assert.ErrorIs(t, err, polling.ErrCancelled)

	restored, err := hs.cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, pack.StatusReady, restored.RefreshStatus)
	assert.Empty(t, restored.JobID)
	assert.Equal(t, "Keep me", restored.Name)

	_, _, deleted := remote.snapshot()
	assert.Empty(t, deleted, "an existing pack is never deleted upstream")
	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeCleared, notices[0].Kind)
}

func TestServerCancelledImportWritesNothing(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps: []statusStep{
			{job: polling.Job{Status: polling.StatusRunning, RawProgress: 10}},
			{job: polling.Job{Status: polling.StatusCancelled}},
		},
		result: adsapi.Result{Pack: pack.Pack{ID: "p1"}, Ads: sampleAds()},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)
	_, err = wait(t, h)
	assert.True(t, polling.IsCancelled(err))
	assert.False(t, h.Cancelled(), "the backend cancelled, not the caller")

	_, err = hs.cache.Get(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "pending record removed")
	remote.mu.Lock()
	assert.Zero(t, remote.fetchCalls)
	remote.mu.Unlock()

	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeCleared, notices[0].Kind)
}

func TestServerCancelledRefreshRestoresPack(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-r"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusCancelled}}},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()
	require.NoError(t, hs.cache.UpsertSummary(ctx, pack.Pack{
		ID: "p1", Name: "Keep me", AdAccountID: "act_1", DateStart: "2026-01-01", DateStop: "2026-01-02",
		RefreshStatus: pack.StatusReady,
	}))

	h, err := hs.tracker.SubmitAndTrack(ctx, adsapi.SubmitParams{Kind: adsapi.KindRefresh, PackID: "p1"})
	require.NoError(t, err)
	_, err = wait(t, h)
	assert.True(t, polling.IsCancelled(err))

	p, err := hs.cache.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, pack.StatusReady, p.RefreshStatus, "a cancelled refresh is not a failure")
	assert.Empty(t, p.JobID)

	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeCleared, notices[0].Kind)
}

func TestParentCancelledDuringSubmitRemovesPendingPack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusRunning}}},
		onSubmit:   cancel,
	}
	hs := newHarness(t, remote, blockingSleep)

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)
	_, err = wait(t, h)
	assert.ErrorIs(t, err, polling.ErrCancelled)
	assert.True(t, h.Cancelled())

	_, err = hs.cache.Get(context.Background(), "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "pending record removed")
	_, _, deleted := remote.snapshot()
	assert.Equal(t, []string{"p1"}, deleted)
}

func TestCompletedWithoutResultRef(t *testing.T) {
	remote := &fakeRemote{
		submission: adsapi.Submission{JobID: "job-1", PackID: "p1"},
		steps:      []statusStep{{job: polling.Job{Status: polling.StatusCompleted, ResultCount: intPtr(3)}}},
		result:     adsapi.Result{Pack: pack.Pack{ID: "p1"}, Ads: sampleAds()},
	}
	hs := newHarness(t, remote, instantSleep)
	ctx := context.Background()

	h, err := hs.tracker.SubmitAndTrack(ctx, importParams())
	require.NoError(t, err)
	_, err = wait(t, h)
	var me *MaterializationError
	require.ErrorAs(t, err, &me)
	assert.Empty(t, me.Ref)

	remote.mu.Lock()
	assert.Zero(t, remote.fetchCalls, "no fetch without a reference")
	remote.mu.Unlock()
	_, err = hs.cache.Get(ctx, "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	notices := hs.notices.All()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeFailure, notices[0].Kind)
}
