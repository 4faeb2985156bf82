package pack

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	ads := []Ad{
		{ID: "1", CampaignID: "c1", AdsetID: "s1", CreativeID: "cr1", LinkURL: "https://shop.example.com/a", Impressions: 1000, Clicks: 10, Spend: decimal.RequireFromString("5.00")},
		{ID: "2", CampaignID: "c1", AdsetID: "s2", CreativeID: "cr2", LinkURL: "https://www.example.com/b", Impressions: 3000, Clicks: 30, Spend: decimal.RequireFromString("15.00")},
		{ID: "3", CampaignID: "c2", AdsetID: "s3", CreativeID: "cr2", LinkURL: "other.co.uk/landing", Impressions: 0, Clicks: 0, Spend: decimal.Zero},
	}

	s := ComputeStats(ads)
	assert.Equal(t, 3, s.TotalAds)
	assert.Equal(t, 2, s.UniqueCampaigns)
	assert.Equal(t, 3, s.UniqueAdsets)
	assert.Equal(t, 2, s.UniqueCreatives)
	assert.Equal(t, 2, s.UniqueDomains)
	assert.Equal(t, int64(4000), s.Impressions)
	assert.Equal(t, int64(40), s.Clicks)
	assert.Equal(t, "20.00", s.Spend.StringFixed(2))
	assert.Equal(t, 1.0, s.CTR)
	assert.Equal(t, "0.50", s.CPC.StringFixed(2))
	assert.Equal(t, "5.00", s.CPM.StringFixed(2))
}

func TestComputeStatsEmpty(t *testing.T) {
	s := ComputeStats(nil)
	assert.Equal(t, 0, s.TotalAds)
	assert.True(t, s.Spend.IsZero())
	assert.Equal(t, 0.0, s.CTR)
	assert.True(t, s.CPC.IsZero())
}

func TestStatsKeysStableAcrossSources(t *testing.T) {
	local := ComputeStats([]Ad{{ID: "1", Impressions: 10, Clicks: 1, Spend: decimal.NewFromInt(1)}})
	server := Stats{TotalAds: 7, Spend: decimal.RequireFromString("3.5")}

	assert.Equal(t, jsonKeys(t, local), jsonKeys(t, server))
}

func TestNeedsDerive(t *testing.T) {
	s := Stats{Impressions: 200, Clicks: 4, Spend: decimal.NewFromInt(2)}
	require.True(t, s.NeedsDerive())
	s.Derive()
	assert.False(t, s.NeedsDerive())
	assert.Equal(t, 2.0, s.CTR)
	assert.Equal(t, "0.50", s.CPC.StringFixed(2))
	assert.Equal(t, "10.00", s.CPM.StringFixed(2))
}

func TestApplyVideoOnly(t *testing.T) {
	ads := []Ad{
		{ID: "1", Format: "VIDEO"},
		{ID: "2", Format: "SHARE"},
		{ID: "3", Format: "MULTI_SHARE", VideoID: "v3"},
		{ID: "4", Format: "reels"},
	}

	got := Apply(ads, VideoOnly)
	ids := make([]string, 0, len(got))
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"1", "3", "4"}, ids)
	assert.Len(t, ads, 4, "input must not be modified")
	assert.Len(t, Apply(ads, nil), 4)
}

func TestLandingDomain(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"https://sub.foo.example.co.uk/path", "example.co.uk", true},
		{"shop.example.com", "example.com", true},
		{"HTTP://WWW.Example.COM.", "example.com", true},
		{"", "", false},
		{"localhost", "", false},
	}
	for _, tc := range tests {
		got, ok := LandingDomain(tc.in)
		assert.Equal(t, tc.wantOK, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func jsonKeys(t *testing.T, v any) []string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
