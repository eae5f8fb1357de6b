package ingest

import (
	"slices"
	"time"

	"github.com/jdholdren/rssmd/internal/rssmd"
)

// Dates are always shown in China Standard Time, which has no daylight saving.
var chinaStandardTime = time.FixedZone("CST", 8*60*60)

const (
	displayLayout = "2006年1月2日 15:04:05"
	unknownDate   = "日期未知"
)

// FormatDate renders t as a long form zh-CN date time in China Standard Time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return unknownDate
	}

	return t.In(chinaStandardTime).Format(displayLayout)
}

// Finalize sorts the items of a cycle newest first and attaches display dates.
//
// Items with the same publish time keep the order they were collected in. The
// input is left untouched; finalizing twice gives the same result.
func Finalize(result rssmd.CycleResult) rssmd.CycleResult {
	items := make([]rssmd.FeedItem, len(result.Items))
	copy(items, result.Items)

	slices.SortStableFunc(items, func(a, b rssmd.FeedItem) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
	for i := range items {
		items[i].FormattedDate = FormatDate(items[i].PublishedAt)
	}

	errs := make([]rssmd.FetchError, len(result.Errors))
	copy(errs, result.Errors)

	return rssmd.CycleResult{
		Items:     items,
		Errors:    errs,
		FetchTime: result.FetchTime,
	}
}
