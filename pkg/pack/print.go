package pack

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PrintPack writes one line describing p. Output flags:
//
//	i  pack id
//	n  name
//	a  ad account id
//	d  date range
//	s  short stats (ads, spend, ctr)
//	r  refresh status
func PrintPack(w io.Writer, p Pack, outputFlags, delimiter string) error {
	var line string
	for _, f := range outputFlags {
		switch f {
		case 'i':
			line += p.ID + delimiter
		case 'n':
			line += p.Name + delimiter
		case 'a':
			line += p.AdAccountID + delimiter
		case 'd':
			line += p.DateStart + ".." + p.DateStop + delimiter
		case 's':
			line += fmt.Sprintf("%d ads, spend %s, ctr %.2f%%", p.Stats.TotalAds, p.Stats.Spend.StringFixed(2), p.Stats.CTR) + delimiter
		case 'r':
			line += string(p.RefreshStatus) + delimiter
		default:
			return fmt.Errorf("invalid print flag %q", f)
		}
	}
	_, err := fmt.Fprintln(w, strings.TrimSuffix(line, delimiter))
	return err
}

// PrintAds writes one line per ad. Output flags:
//
//	i  ad id
//	n  name
//	f  normalized format
//	c  campaign id
//	l  landing link
//	m  impressions/clicks/spend
func PrintAds(w io.Writer, ads []Ad, outputFlags, delimiter string) error {
	for _, a := range ads {
		var line string
		for _, f := range outputFlags {
			switch f {
			case 'i':
				line += a.ID + delimiter
			case 'n':
				line += a.Name + delimiter
			case 'f':
				line += NormalizeFormat(a.Format) + delimiter
			case 'c':
				line += a.CampaignID + delimiter
			case 'l':
				line += a.LinkURL + delimiter
			case 'm':
				line += strconv.FormatInt(a.Impressions, 10) + "/" + strconv.FormatInt(a.Clicks, 10) + "/" + a.Spend.StringFixed(2) + delimiter
			default:
				return fmt.Errorf("invalid print flag %q", f)
			}
		}
		if len(line) == 0 {
			continue
		}
		if _, err := fmt.Fprintln(w, strings.TrimSuffix(line, delimiter)); err != nil {
			return err
		}
	}
	return nil
}

// unificationMap groups raw creative object types under a unified format name.
var unificationMap = map[string][]string{
	"video":    {"video", "video_inline", "reels"},
	"image":    {"image", "photo", "share", "link"},
	"carousel": {"carousel", "multi_share"},
	"dynamic":  {"dynamic", "product_set"},
	"text":     {"status"},
	"other":    {"application", "invalid", "event", "offer"},
}

// formatMap is a reverse map generated from unificationMap for efficient lookups.
var formatMap map[string]string

func init() {
	formatMap = make(map[string]string)
	for unified, raws := range unificationMap {
		for _, raw := range raws {
			formatMap[raw] = unified
		}
	}
}

// NormalizeFormat maps a raw object type (e.g. "MULTI_SHARE") to its unified format.
func NormalizeFormat(format string) string {
	lower := strings.ToLower(strings.TrimSpace(format))
	if unified, ok := formatMap[lower]; ok {
		return unified
	}
	return strings.ReplaceAll(lower, "_", " ")
}
