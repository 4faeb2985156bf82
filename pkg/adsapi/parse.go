package adsapi

import (
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/packsync/packsync/pkg/pack"
)

// ErrNoPack is returned by ParseResult when the payload carries no pack.
var ErrNoPack = errors.New("result has no pack")

// ParseResult decodes a finalized job result.
func ParseResult(body string) (Result, error) {
	doc := gjson.Parse(body)

	p := firstResult(doc, "pack", "data.pack")
	if !p.IsObject() {
		return Result{}, ErrNoPack
	}

	res := Result{
		Pack: parsePack(p),
		Ads:  parseAdArray(firstResult(doc, "ads", "data.ads", "pack.ads")),
	}
	if s := firstResult(doc, "stats", "pack.stats"); s.IsObject() {
		stats := parseStats(s)
		res.Stats = &stats
	}
	return res, nil
}

// ParsePacks decodes a pack listing, either a bare array or {"packs": [...]}.
func ParsePacks(body string) []pack.Pack {
	doc := gjson.Parse(body)
	arr := doc
	if !doc.IsArray() {
		arr = firstResult(doc, "packs", "data")
	}
	var out []pack.Pack
	for _, p := range arr.Array() {
		if p.IsObject() {
			out = append(out, parsePack(p))
		}
	}
	return out
}

// ParseAds decodes an ad listing, either a bare array or {"ads": [...]}.
func ParseAds(body string) []pack.Ad {
	doc := gjson.Parse(body)
	if doc.IsArray() {
		return parseAdArray(doc)
	}
	return parseAdArray(firstResult(doc, "ads", "data"))
}

func parsePack(p gjson.Result) pack.Pack {
	out := pack.Pack{
		ID:            firstString(p, "id", "pack_id"),
		Name:          p.Get("name").String(),
		AdAccountID:   firstString(p, "adaccount_id", "ad_account_id"),
		DateStart:     p.Get("date_start").String(),
		DateStop:      p.Get("date_stop").String(),
		AutoRefresh:   p.Get("auto_refresh").Bool(),
		DetailRef:     p.Get("detail_ref").String(),
		RefreshStatus: pack.RefreshStatus(p.Get("refresh_status").String()),
		CreatedAt:     parseTime(p.Get("created_at")),
		UpdatedAt:     parseTime(p.Get("updated_at")),
	}
	out.LastRefreshedAt = parseTime(p.Get("last_refreshed_at"))
	for _, f := range p.Get("filters").Array() {
		out.Filters = append(out.Filters, pack.Filter{
			Field:    f.Get("field").String(),
			Operator: f.Get("operator").String(),
			Value:    f.Get("value").String(),
		})
	}
	if s := p.Get("stats"); s.IsObject() {
		out.Stats = parseStats(s)
	}
	return out
}

func parseAdArray(arr gjson.Result) []pack.Ad {
	items := arr.Array()
	ads := make([]pack.Ad, 0, len(items))
	for _, a := range items {
		if !a.IsObject() {
			continue
		}
		ad := pack.Ad{
			ID:          firstString(a, "id", "ad_id"),
			Name:        firstString(a, "name", "ad_name"),
			CampaignID:  firstString(a, "campaign_id", "campaign.id"),
			AdsetID:     firstString(a, "adset_id", "adset.id"),
			CreativeID:  firstString(a, "creative_id", "creative.id"),
			Format:      firstString(a, "format", "creative.object_type"),
			VideoID:     firstString(a, "video_id", "creative.video_id"),
			LinkURL:     firstString(a, "link_url", "creative.link_url"),
			PreviewURL:  a.Get("preview_url").String(),
			PreviewHTML: a.Get("preview_html").String(),
			Impressions: firstResult(a, "impressions", "insights.impressions").Int(),
			Clicks:      firstResult(a, "clicks", "insights.clicks").Int(),
			Spend:       parseDecimal(firstResult(a, "spend", "insights.spend")),
		}
		if ad.PreviewURL == "" && ad.PreviewHTML != "" {
			ad.PreviewURL = previewSrc(ad.PreviewHTML)
		}
		ads = append(ads, ad)
	}
	return ads
}

func parseStats(s gjson.Result) pack.Stats {
	st := pack.Stats{
		TotalAds:        int(s.Get("total_ads").Int()),
		UniqueCampaigns: int(s.Get("unique_campaigns").Int()),
		UniqueAdsets:    int(s.Get("unique_adsets").Int()),
		UniqueCreatives: int(s.Get("unique_creatives").Int()),
		UniqueDomains:   int(s.Get("unique_domains").Int()),
		Impressions:     s.Get("impressions").Int(),
		Clicks:          s.Get("clicks").Int(),
		Spend:           parseDecimal(s.Get("spend")),
		CTR:             s.Get("ctr").Float(),
		CPC:             parseDecimal(s.Get("cpc")),
		CPM:             parseDecimal(s.Get("cpm")),
	}
	if st.NeedsDerive() {
		st.Derive()
	}
	return st
}

// previewSrc pulls the iframe or image source out of an ad preview snippet.
func previewSrc(snippet string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("iframe[src], img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// parseDecimal keeps the wire digits of numeric fields; gjson's float
// conversion would round them.
func parseDecimal(r gjson.Result) decimal.Decimal {
	if !r.Exists() {
		return decimal.Zero
	}
	raw := r.String()
	if r.Type == gjson.Number {
		raw = r.Raw
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(r gjson.Result) time.Time {
	if !r.Exists() || r.String() == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, r.String()); err == nil {
			return t.UTC()
		}
	}
	if r.Type == gjson.Number {
		return time.Unix(r.Int(), 0).UTC()
	}
	return time.Time{}
}

func firstResult(doc gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := doc.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(doc gjson.Result, paths ...string) string {
	return firstResult(doc, paths...).String()
}
