package pack

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefreshStatus tracks where a pack is in its import/refresh lifecycle.
type RefreshStatus string

const (
	StatusReady      RefreshStatus = "ready"
	StatusPending    RefreshStatus = "pending"
	StatusRefreshing RefreshStatus = "refreshing"
	StatusFailed     RefreshStatus = "failed"
)

// Filter is a single ad-level filter applied by the backend when collecting ads.
type Filter struct {
	Field    string `json:"field" validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    string `json:"value"`
}

// Pack is the durable, named collection of ads produced by a completed job.
// It never embeds the ad list; DetailRef points into the detail cache.
type Pack struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AdAccountID string   `json:"adaccount_id"`
	DateStart   string   `json:"date_start"`
	DateStop    string   `json:"date_stop"`
	Filters     []Filter `json:"filters"`
	AutoRefresh bool     `json:"auto_refresh"`
	Stats       Stats    `json:"stats"`
	DetailRef   string   `json:"detail_ref"`

	RefreshStatus RefreshStatus `json:"refresh_status"`
	// JobID is only set on speculative entries written before the job finished.
	JobID string `json:"job_id,omitempty"`

	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

// IsSpeculative reports whether the entry was written before its job completed.
func (p Pack) IsSpeculative() bool {
	return p.RefreshStatus == StatusPending && p.JobID != ""
}

// Ad is one item of a pack's heavy payload.
type Ad struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CampaignID  string          `json:"campaign_id"`
	AdsetID     string          `json:"adset_id"`
	CreativeID  string          `json:"creative_id"`
	Format      string          `json:"format"`
	VideoID     string          `json:"video_id,omitempty"`
	LinkURL     string          `json:"link_url,omitempty"`
	PreviewURL  string          `json:"preview_url,omitempty"`
	PreviewHTML string          `json:"preview_html,omitempty"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Spend       decimal.Decimal `json:"spend"`
}

// ItemFilter selects the ads that count towards UI-facing numbers.
type ItemFilter func(Ad) bool

// VideoOnly keeps video ads.
func VideoOnly(a Ad) bool {
	return a.VideoID != "" || NormalizeFormat(a.Format) == "video"
}

// AllItems keeps every ad.
func AllItems(Ad) bool { return true }

// Apply returns the ads accepted by f. The input slice is not modified.
func Apply(ads []Ad, f ItemFilter) []Ad {
	if f == nil {
		f = AllItems
	}
	out := make([]Ad, 0, len(ads))
	for _, a := range ads {
		if f(a) {
			out = append(out, a)
		}
	}
	return out
}
