// Package timeframe models query windows and their time-bucketed keys.
package timeframe

import (
	"fmt"
	"time"
)

// BucketSize selects the calendar granularity of a series.
type BucketSize string

const (
	BucketSizeDay   BucketSize = "day"
	BucketSizeMonth BucketSize = "month"
)

// maxDailyBucketDays is the longest window still bucketed by calendar day.
// Anything longer switches to calendar months.
const maxDailyBucketDays = 35

// DateStat is one point of a time series: a bucket key and its count.
type DateStat struct {
	Date  string
	Count int
}

// Window represents a period between two points in time. All bucket math is
// done in UTC; the caller is responsible for converting user-local boundaries
// before constructing a Window.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow builds a validated Window.
func NewWindow(from, to time.Time) (Window, error) {
	w := Window{From: from.UTC(), To: to.UTC()}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate checks the window boundaries.
func (w Window) Validate() error {
	if w.From.After(w.To) {
		return fmt.Errorf("window from %s is after to %s", w.From, w.To)
	}
	return nil
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// Contains reports whether t falls inside the window (inclusive bounds).
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.From) && !t.After(w.To)
}

// BucketSize returns the granularity appropriate for the window length.
func (w Window) BucketSize() BucketSize {
	days := w.To.Sub(w.From).Hours() / 24
	if days <= maxDailyBucketDays {
		return BucketSizeDay
	}
	return BucketSizeMonth
}

// BucketKey formats a timestamp as the bucket key it belongs to under the
// window's granularity.
func (w Window) BucketKey(t time.Time) string {
	t = t.UTC()
	switch w.BucketSize() {
	case BucketSizeMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// Buckets pre-generates every bucket key across the whole window, in order.
// Empty periods get explicit keys so series length is deterministic and
// independent of how sparse the underlying data is.
func (w Window) Buckets() []string {
	keys := []string{}
	size := w.BucketSize()

	// Safety cap: a one-year window is at most 366 daily buckets.
	const maxBuckets = 1000

	switch size {
	case BucketSizeMonth:
		cur := time.Date(w.From.Year(), w.From.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(w.To.Year(), w.To.Month(), 1, 0, 0, 0, 0, time.UTC)
		for !cur.After(end) && len(keys) < maxBuckets {
			keys = append(keys, cur.Format("2006-01"))
			cur = cur.AddDate(0, 1, 0)
		}
	default:
		cur := time.Date(w.From.Year(), w.From.Month(), w.From.Day(), 0, 0, 0, 0, time.UTC)
		end := time.Date(w.To.Year(), w.To.Month(), w.To.Day(), 0, 0, 0, 0, time.UTC)
		for !cur.After(end) && len(keys) < maxBuckets {
			keys = append(keys, cur.Format("2006-01-02"))
			cur = cur.AddDate(0, 0, 1)
		}
	}

	return keys
}

// BuildSeries folds sparse per-bucket counts into the full zero-filled key
// list, producing a series with one point per bucket.
func (w Window) BuildSeries(grouped map[string]int) []DateStat {
	keys := w.Buckets()
	results := make([]DateStat, len(keys))
	for i, key := range keys {
		results[i] = DateStat{Date: key, Count: grouped[key]}
	}
	return results
}

// LastDays returns a window covering the trailing n calendar days ending at
// ref, with ref's own day counted as the last one. The result spans exactly
// n daily buckets.
func LastDays(n int, ref time.Time) Window {
	ref = ref.UTC()
	start := ref.AddDate(0, 0, -(n - 1))
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	return Window{From: from, To: ref}
}
