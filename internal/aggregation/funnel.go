package aggregation

import (
	"strings"

	"pulsemetry/internal/events"
)

// Funnel holds the three ordered engagement stages as unique-visitor counts.
// Converted <= Engaged <= Visited always holds because each stage's predicate
// implies membership in the stage above.
type Funnel struct {
	Visited   int `json:"visited"`
	Engaged   int `json:"engaged"`
	Converted int `json:"converted"`
}

// engagingEventTypes make a visitor count as engaged regardless of scroll or
// dwell time.
var engagingEventTypes = map[events.EventType]bool{
	events.EventTypeClick:         true,
	events.EventTypeAddToCart:     true,
	events.EventTypeVideoPlay:     true,
	events.EventTypeFormSubmit:    true,
	events.EventTypeCheckoutStart: true,
}

const (
	engagedScrollDepth = 50 // percent
	engagedTimeOnPage  = 30 // seconds
)

// isEngagingEvent reports whether a single event marks its visitor as engaged.
func isEngagingEvent(e events.Event) bool {
	if e.ScrollDepth > engagedScrollDepth {
		return true
	}
	if e.TimeOnPage > engagedTimeOnPage {
		return true
	}
	return engagingEventTypes[e.EventType]
}

// isConvertingEvent reports whether a single event marks its visitor as
// converted. Click-target keyword matching is fuzzy by nature and may over-
// or under-count; the keyword set is configurable for that reason.
func (a *Aggregator) isConvertingEvent(e events.Event) bool {
	if e.EventType == events.EventTypePurchase || e.EventType == events.EventTypeCheckoutStart {
		return true
	}
	if e.EventType == events.EventTypeClick && e.ClickTarget != "" {
		target := strings.ToLower(e.ClickTarget)
		for _, keyword := range a.cfg.ConversionKeywords {
			if strings.Contains(target, strings.ToLower(keyword)) {
				return true
			}
		}
	}
	return false
}

// buildFunnel evaluates the engaged and converted predicates once per visitor
// over all their events in the window.
func (a *Aggregator) buildFunnel(batch []events.Event) Funnel {
	visited := make(map[string]bool)
	engaged := make(map[string]bool)
	converted := make(map[string]bool)

	for _, e := range batch {
		visited[e.VisitorID] = true
		if isEngagingEvent(e) {
			engaged[e.VisitorID] = true
		}
		if a.isConvertingEvent(e) {
			converted[e.VisitorID] = true
		}
	}

	// A converted visitor is by definition engaged, and an engaged visitor
	// visited; folding the sets keeps the stage ordering honest even if a
	// predicate drifts.
	for visitorID := range converted {
		engaged[visitorID] = true
	}

	return Funnel{
		Visited:   len(visited),
		Engaged:   len(engaged),
		Converted: len(converted),
	}
}
