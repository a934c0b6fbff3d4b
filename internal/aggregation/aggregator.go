// Package aggregation turns a raw event batch into the derived dashboard
// metrics: per-channel time series, funnel stages, device mix, quality score
// and return rate. Every metric is built from distinct visitor IDs, never raw
// event counts, and everything is recomputed from scratch per cycle so a
// repeated run over the same inputs yields identical output.
package aggregation

import (
	"sort"

	"pulsemetry/internal/attribution"
	"pulsemetry/internal/config"
	"pulsemetry/internal/events"
	"pulsemetry/internal/timeframe"
)

// Config holds the tunables that shape aggregation output. Scale factors are
// surfaced here rather than buried as magic numbers.
type Config struct {
	ConversionKeywords []string

	// Quality score scale factors; see quality.go for the formulas.
	TimeOnPageFactor   float64
	InteractionFactor  float64
	PagesPerSessFactor float64
}

// DefaultConfig derives aggregation tunables from the application config.
func DefaultConfig(appCfg *config.Config) Config {
	return Config{
		ConversionKeywords: appCfg.ConversionKeywords,
		TimeOnPageFactor:   appCfg.QualityTimeOnPageFactor,
		InteractionFactor:  appCfg.QualityInteractionFactor,
		PagesPerSessFactor: appCfg.QualityPagesPerSessFactor,
	}
}

// SeriesPoint is one time bucket with per-channel unique-visitor counts.
type SeriesPoint struct {
	Date    string `json:"date"`
	Direct  int    `json:"direct"`
	Paid    int    `json:"paid"`
	Primary int    `json:"primary"`
}

// DeviceStat is the unique-visitor count for one device type.
type DeviceStat struct {
	Device string `json:"device"`
	Count  int    `json:"count"`
}

// Snapshot is the wholesale-replaced output of one aggregation cycle.
type Snapshot struct {
	Window         timeframe.Window               `json:"-"`
	BucketSize     timeframe.BucketSize           `json:"bucket_size"`
	UniqueVisitors int                            `json:"unique_visitors"`
	Series         []SeriesPoint                  `json:"series"`
	Funnel         Funnel                         `json:"funnel"`
	Devices        []DeviceStat                   `json:"devices"`
	Quality        Quality                        `json:"quality"`
	ReturnRate     float64                        `json:"return_rate"`
	Channels       map[string]attribution.Channel `json:"-"`
}

// Aggregator folds event batches into Snapshots.
type Aggregator struct {
	cfg        Config
	classifier *attribution.Classifier
}

// NewAggregator creates an Aggregator.
func NewAggregator(cfg Config, classifier *attribution.Classifier) *Aggregator {
	return &Aggregator{cfg: cfg, classifier: classifier}
}

// Aggregate computes a Snapshot for the batch inside the window. Events
// without a visitor_id are discarded before anything is counted. The result
// depends only on the inputs; no wall clock is consulted.
func (a *Aggregator) Aggregate(batch []events.Event, window timeframe.Window) Snapshot {
	kept := make([]events.Event, 0, len(batch))
	for _, e := range batch {
		if e.VisitorID == "" {
			continue
		}
		if !window.Contains(e.Timestamp) {
			continue
		}
		kept = append(kept, e)
	}

	channels := a.classifier.ResolveVisitors(kept)

	snap := Snapshot{
		Window:     window,
		BucketSize: window.BucketSize(),
		Channels:   channels,
	}
	snap.UniqueVisitors = len(channels)
	snap.Series = a.buildSeries(kept, window, channels)
	snap.Funnel = a.buildFunnel(kept)
	snap.Devices = a.buildDevices(kept)
	snap.ReturnRate = a.returnRate(kept)
	snap.Quality = a.buildQuality(kept, snap.ReturnRate)
	return snap
}

// buildSeries zero-fills every bucket in the window, then counts distinct
// visitors per bucket under their window-level first-touch channel.
func (a *Aggregator) buildSeries(batch []events.Event, window timeframe.Window, channels map[string]attribution.Channel) []SeriesPoint {
	type bucketVisitors struct {
		direct  map[string]bool
		paid    map[string]bool
		primary map[string]bool
	}

	buckets := make(map[string]*bucketVisitors)
	for _, e := range batch {
		key := window.BucketKey(e.Timestamp)
		bv, ok := buckets[key]
		if !ok {
			bv = &bucketVisitors{
				direct:  make(map[string]bool),
				paid:    make(map[string]bool),
				primary: make(map[string]bool),
			}
			buckets[key] = bv
		}
		switch channels[e.VisitorID] {
		case attribution.ChannelDirect:
			bv.direct[e.VisitorID] = true
		case attribution.ChannelPaid:
			bv.paid[e.VisitorID] = true
		default:
			bv.primary[e.VisitorID] = true
		}
	}

	keys := window.Buckets()
	series := make([]SeriesPoint, len(keys))
	for i, key := range keys {
		point := SeriesPoint{Date: key}
		if bv, ok := buckets[key]; ok {
			point.Direct = len(bv.direct)
			point.Paid = len(bv.paid)
			point.Primary = len(bv.primary)
		}
		series[i] = point
	}
	return series
}

// buildDevices assigns each visitor the device of their chronologically-first
// event (same tie-break as attribution) and counts visitors per device.
func (a *Aggregator) buildDevices(batch []events.Event) []DeviceStat {
	firsts := make(map[string]events.Event)
	for _, e := range batch {
		cur, ok := firsts[e.VisitorID]
		if !ok || e.Timestamp.Before(cur.Timestamp) {
			firsts[e.VisitorID] = e
		}
	}

	counts := make(map[string]int)
	for _, e := range firsts {
		counts[events.NormalizeDeviceType(e.DeviceType)]++
	}

	devices := make([]DeviceStat, 0, len(counts))
	for device, count := range counts {
		devices = append(devices, DeviceStat{Device: device, Count: count})
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Count != devices[j].Count {
			return devices[i].Count > devices[j].Count
		}
		return devices[i].Device < devices[j].Device
	})
	return devices
}

// returnRate is the share of unique visitors seen on more than one calendar
// day or in more than one session.
func (a *Aggregator) returnRate(batch []events.Event) float64 {
	days := make(map[string]map[string]bool)
	sessions := make(map[string]map[string]bool)
	for _, e := range batch {
		if days[e.VisitorID] == nil {
			days[e.VisitorID] = make(map[string]bool)
			sessions[e.VisitorID] = make(map[string]bool)
		}
		days[e.VisitorID][e.Timestamp.UTC().Format("2006-01-02")] = true
		if e.SessionID != "" {
			sessions[e.VisitorID][e.SessionID] = true
		}
	}

	if len(days) == 0 {
		return 0
	}

	returning := 0
	for visitorID, visitorDays := range days {
		if len(visitorDays) > 1 || len(sessions[visitorID]) > 1 {
			returning++
		}
	}
	return float64(returning) / float64(len(days))
}
