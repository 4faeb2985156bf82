package tracker

import (
	"context"
	"sync"

	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
)

// BatchResult is the outcome of refreshing one pack in RefreshAll.
type BatchResult struct {
	PackID string
	Pack   pack.Pack
	Err    error
}

// RefreshAll refreshes packs with at most concurrency jobs in flight and
// returns one result per pack, in completion order. onDone, if set, is called
// from worker goroutines as each pack finishes.
func (t *Tracker) RefreshAll(ctx context.Context, packs []pack.Pack, concurrency int, onDone func(BatchResult)) []BatchResult {
	if len(packs) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 3
	}

	packChan := make(chan pack.Pack, len(packs))

	var (
		mu      sync.Mutex
		results = make([]BatchResult, 0, len(packs))
		wg      sync.WaitGroup
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range packChan {
				res := t.refreshOne(ctx, p)

				mu.Lock()
				results = append(results, res)
				mu.Unlock()

				if onDone != nil {
					onDone(res)
				}
			}
		}()
	}

	for _, p := range packs {
		packChan <- p
	}
	close(packChan)
	wg.Wait()

	return results
}

func (t *Tracker) refreshOne(ctx context.Context, p pack.Pack) BatchResult {
	if ctx.Err() != nil {
		return BatchResult{PackID: p.ID, Err: ctx.Err()}
	}
	h, err := t.SubmitAndTrack(ctx, adsapi.SubmitParams{Kind: adsapi.KindRefresh, PackID: p.ID})
	if err != nil {
		t.log.Warnf("Could not start refresh of pack %s: %v", p.ID, err)
		return BatchResult{PackID: p.ID, Err: err}
	}
	// Wait on Done rather than ctx: a cancelled ctx cancels the job, and the
	// handle still reports how it ended.
	<-h.Done()
	refreshed, err := h.Wait(context.Background())
	return BatchResult{PackID: p.ID, Pack: refreshed, Err: err}
}
