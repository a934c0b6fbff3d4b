// Package attribution assigns visitors to acquisition channels using
// first-touch classification over an explicit, ordered rule table.
package attribution

import (
	"sort"
	"strings"
	"sync"

	"go.elara.ws/pcre"

	"pulsemetry/internal/events"
)

// Channel is the closed set of acquisition channels.
type Channel string

const (
	// ChannelDirect covers visits with no referrer and no UTM attribution.
	ChannelDirect Channel = "direct"
	// ChannelPaid covers paid-ad traffic (cpc/cpm/cpv mediums, known ad
	// networks, ads referrers).
	ChannelPaid Channel = "paid"
	// ChannelPrimary is the catch-all organic/social/referral bucket and the
	// default when no rule matches.
	ChannelPrimary Channel = "primary"
)

// paidMediums are the utm_medium values that always mean paid traffic.
var paidMediums = map[string]bool{
	"cpc": true,
	"cpm": true,
	"cpv": true,
}

// adsReferrerPatterns match referrer URLs that carry ad-network tokens.
var adsReferrerPatterns = []string{
	`(^|\.)doubleclick\.net`,
	`(^|\.)googleadservices\.com`,
	`(^|\.)googlesyndication\.com`,
	`[?&]gclid=`,
	`[?&]fbclid=.*[?&]utm_medium=paid`,
	`/aclk\b`,
	`\bads?\.[a-z0-9-]+\.`,
}

// regexCache compiles referrer patterns once and reuses them across
// classifications.
type regexCache struct {
	mu       sync.RWMutex
	compiled map[string]*pcre.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*pcre.Regexp)}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mu.RLock()
	re, ok := rc.compiled[pattern]
	rc.mu.RUnlock()
	if ok {
		return re, nil
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if re, ok := rc.compiled[pattern]; ok {
		return re, nil
	}
	re, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = re
	return re, nil
}

// PaidSourceChecker reports whether a utm_source belongs to a known paid
// network. The application config satisfies this.
type PaidSourceChecker interface {
	IsPaidSource(source string) bool
}

// Classifier applies the ordered channel rule table.
type Classifier struct {
	paidSources PaidSourceChecker
	patterns    []string
	cache       *regexCache
}

// NewClassifier builds a Classifier with the default ads-network referrer
// patterns.
func NewClassifier(paidSources PaidSourceChecker) *Classifier {
	return &Classifier{
		paidSources: paidSources,
		patterns:    adsReferrerPatterns,
		cache:       newRegexCache(),
	}
}

// Classify assigns a single event to exactly one channel. Rule order is
// fixed; the first match wins:
//  1. paid medium, paid source or ads referrer -> Paid
//  2. no referrer and no UTM fields -> Direct
//  3. everything else -> Primary
func (c *Classifier) Classify(e events.Event) Channel {
	medium := strings.ToLower(strings.TrimSpace(e.UTMMedium))
	source := strings.TrimSpace(e.UTMSource)
	referrer := strings.TrimSpace(e.Referrer)

	if paidMediums[medium] {
		return ChannelPaid
	}
	if source != "" && c.paidSources != nil && c.paidSources.IsPaidSource(source) {
		return ChannelPaid
	}
	if referrer != "" && c.referrerIsAdsNetwork(referrer) {
		return ChannelPaid
	}

	if referrer == "" && medium == "" && source == "" {
		return ChannelDirect
	}

	return ChannelPrimary
}

func (c *Classifier) referrerIsAdsNetwork(referrer string) bool {
	lower := strings.ToLower(referrer)
	for _, pattern := range c.patterns {
		re, err := c.cache.get(pattern)
		if err != nil {
			// A bad pattern never fails classification; the rule is skipped.
			continue
		}
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// ResolveVisitors computes first-touch attribution: each visitor's channel is
// the classification of their chronologically-first event in the batch. When
// two events share the minimum timestamp the earlier one in source order wins,
// so recomputing over a superset that contains the same first event always
// yields the same channel.
func (c *Classifier) ResolveVisitors(batch []events.Event) map[string]Channel {
	type firstTouch struct {
		event events.Event
		pos   int
	}

	firsts := make(map[string]firstTouch)
	for i, e := range batch {
		if e.VisitorID == "" {
			continue
		}
		cur, ok := firsts[e.VisitorID]
		if !ok {
			firsts[e.VisitorID] = firstTouch{event: e, pos: i}
			continue
		}
		if e.Timestamp.Before(cur.event.Timestamp) {
			firsts[e.VisitorID] = firstTouch{event: e, pos: i}
		}
		// Equal timestamps keep the earlier source position.
	}

	channels := make(map[string]Channel, len(firsts))
	for visitorID, ft := range firsts {
		channels[visitorID] = c.Classify(ft.event)
	}
	return channels
}

// SortEventsByTime orders a copy of the batch by timestamp ascending with a
// stable source-order tie-break. Useful for callers that need the full
// chronological view rather than just first touches.
func SortEventsByTime(batch []events.Event) []events.Event {
	sorted := make([]events.Event, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}
