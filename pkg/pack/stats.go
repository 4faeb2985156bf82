package pack

import (
	"math"

	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Stats is the aggregate summary of a pack. The backend may precompute it;
// otherwise ComputeStats derives the same fields from the ad list.
type Stats struct {
	TotalAds        int             `json:"total_ads"`
	UniqueCampaigns int             `json:"unique_campaigns"`
	UniqueAdsets    int             `json:"unique_adsets"`
	UniqueCreatives int             `json:"unique_creatives"`
	UniqueDomains   int             `json:"unique_domains"`
	Impressions     int64           `json:"impressions"`
	Clicks          int64           `json:"clicks"`
	Spend           decimal.Decimal `json:"spend"`
	CTR             float64         `json:"ctr"`
	CPC             decimal.Decimal `json:"cpc"`
	CPM             decimal.Decimal `json:"cpm"`
}

// ComputeStats recomputes every aggregate from the given ads.
func ComputeStats(ads []Ad) Stats {
	campaigns := make(map[string]struct{})
	adsets := make(map[string]struct{})
	creatives := make(map[string]struct{})
	domains := make(map[string]struct{})

	s := Stats{TotalAds: len(ads), Spend: decimal.Zero}
	for _, a := range ads {
		addKey(campaigns, a.CampaignID)
		addKey(adsets, a.AdsetID)
		addKey(creatives, a.CreativeID)
		if d, ok := LandingDomain(a.LinkURL); ok {
			domains[d] = struct{}{}
		}
		s.Impressions += a.Impressions
		s.Clicks += a.Clicks
		s.Spend = s.Spend.Add(a.Spend)
	}
	s.UniqueCampaigns = len(campaigns)
	s.UniqueAdsets = len(adsets)
	s.UniqueCreatives = len(creatives)
	s.UniqueDomains = len(domains)
	s.Derive()
	return s
}

// Derive fills the ratio fields from the summed counters.
func (s *Stats) Derive() {
	s.CTR = 0
	s.CPC = decimal.Zero
	s.CPM = decimal.Zero
	if s.Impressions > 0 {
		s.CTR = math.Round(float64(s.Clicks)/float64(s.Impressions)*10000) / 100
		s.CPM = s.Spend.Mul(thousand).Div(decimal.NewFromInt(s.Impressions)).Round(2)
	}
	if s.Clicks > 0 {
		s.CPC = s.Spend.Div(decimal.NewFromInt(s.Clicks)).Round(2)
	}
}

// NeedsDerive reports whether ratios are missing while counters are present,
// which happens when the backend only reports sums.
func (s Stats) NeedsDerive() bool {
	return s.CTR == 0 && s.CPC.IsZero() && s.CPM.IsZero() && (s.Impressions > 0 || s.Clicks > 0)
}

func addKey(m map[string]struct{}, k string) {
	if k != "" {
		m[k] = struct{}{}
	}
}
