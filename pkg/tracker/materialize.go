package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
)

// ResultFetcher loads the finalized resource of a completed job.
type ResultFetcher interface {
	FetchResult(ctx context.Context, resultRef string) (adsapi.Result, error)
}

// Materializer turns a job result into the canonical pack record.
type Materializer struct {
	remote ResultFetcher
	filter pack.ItemFilter
	now    func() time.Time
}

// NewMaterializer returns a Materializer that counts only ads accepted by
// filter. A nil filter keeps video ads.
func NewMaterializer(remote ResultFetcher, filter pack.ItemFilter, now func() time.Time) *Materializer {
	if filter == nil {
		filter = pack.VideoOnly
	}
	if now == nil {
		now = time.Now
	}
	return &Materializer{remote: remote, filter: filter, now: now}
}

// Materialize fetches resultRef and builds the pack record. Fields the backend
// leaves empty are taken from base. The returned ads are the unfiltered list
// for the detail cache.
func (m *Materializer) Materialize(ctx context.Context, resultRef string, base pack.Pack) (pack.Pack, []pack.Ad, error) {
	res, err := m.remote.FetchResult(ctx, resultRef)
	if err != nil {
		return pack.Pack{}, nil, &MaterializationError{Ref: resultRef, Err: err}
	}
	if res.Pack.ID == "" && res.Pack.Name == "" && len(res.Ads) == 0 {
		return pack.Pack{}, nil, &MaterializationError{Ref: resultRef, Err: errors.New("empty resource")}
	}
	if len(res.Ads) == 0 {
		return pack.Pack{}, nil, ErrEmptyResult
	}
	filtered := pack.Apply(res.Ads, m.filter)
	if len(filtered) == 0 {
		return pack.Pack{}, nil, ErrEmptyResult
	}

	p := merge(res.Pack, base)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if res.Stats != nil {
		p.Stats = *res.Stats
	} else {
		p.Stats = pack.ComputeStats(filtered)
	}

	now := m.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.LastRefreshedAt = now
	p.DetailRef = p.ID
	p.RefreshStatus = pack.StatusReady
	p.JobID = ""
	return p, res.Ads, nil
}

func merge(p, base pack.Pack) pack.Pack {
	if p.ID == "" {
		p.ID = base.ID
	}
	if p.Name == "" {
		p.Name = base.Name
	}
	if p.AdAccountID == "" {
		p.AdAccountID = base.AdAccountID
	}
	if p.DateStart == "" {
		p.DateStart = base.DateStart
	}
	if p.DateStop == "" {
		p.DateStop = base.DateStop
	}
	if p.Filters == nil {
		p.Filters = base.Filters
	}
	if !p.AutoRefresh {
		p.AutoRefresh = base.AutoRefresh
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = base.CreatedAt
	}
	return p
}
