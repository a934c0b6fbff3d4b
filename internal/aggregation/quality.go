package aggregation

import (
	"math"

	"pulsemetry/internal/events"
)

// Quality holds the five normalized (0-100) visit-quality sub-metrics.
type Quality struct {
	TimeOnPage    float64 `json:"time_on_page"`
	ScrollDepth   float64 `json:"scroll_depth"`
	Interactions  float64 `json:"interactions"`
	PagesPerSess  float64 `json:"pages_per_session"`
	ReturnRatePct float64 `json:"return_rate"`
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return math.Round(v)
}

// buildQuality computes the sub-metrics. Averages run over visitors that have
// at least one reading for the metric, so visitors without scroll or dwell
// data do not drag the score down. The scale factors come from Config:
//   - time on page: minutes * TimeOnPageFactor, capped at 100
//   - scroll depth: raw 0-100 average
//   - interactions: clicks per visitor * InteractionFactor, capped
//   - pages/session: pageviews per session * PagesPerSessFactor, capped
//   - return rate: percentage of returning visitors
func (a *Aggregator) buildQuality(batch []events.Event, returnRate float64) Quality {
	timeSum := make(map[string]int)
	timeCount := make(map[string]int)
	scrollSum := make(map[string]int)
	scrollCount := make(map[string]int)
	visitors := make(map[string]bool)
	sessions := make(map[string]bool)
	clicks := 0
	pageviews := 0

	for _, e := range batch {
		visitors[e.VisitorID] = true
		if e.SessionID != "" {
			sessions[e.SessionID] = true
		}
		if e.TimeOnPage > 0 {
			timeSum[e.VisitorID] += e.TimeOnPage
			timeCount[e.VisitorID]++
		}
		if e.ScrollDepth > 0 {
			scrollSum[e.VisitorID] += e.ScrollDepth
			scrollCount[e.VisitorID]++
		}
		switch e.EventType {
		case events.EventTypeClick:
			clicks++
		case events.EventTypePageView:
			pageviews++
		}
	}

	q := Quality{ReturnRatePct: clamp100(returnRate * 100)}

	if len(timeCount) > 0 {
		total := 0.0
		for visitorID, count := range timeCount {
			total += float64(timeSum[visitorID]) / float64(count)
		}
		avgSeconds := total / float64(len(timeCount))
		q.TimeOnPage = clamp100(avgSeconds / 60 * a.cfg.TimeOnPageFactor)
	}

	if len(scrollCount) > 0 {
		total := 0.0
		for visitorID, count := range scrollCount {
			total += float64(scrollSum[visitorID]) / float64(count)
		}
		q.ScrollDepth = clamp100(total / float64(len(scrollCount)))
	}

	if len(visitors) > 0 {
		clicksPerVisitor := float64(clicks) / float64(len(visitors))
		q.Interactions = clamp100(clicksPerVisitor * a.cfg.InteractionFactor)
	}

	if len(sessions) > 0 {
		pagesPerSession := float64(pageviews) / float64(len(sessions))
		q.PagesPerSess = clamp100(pagesPerSession * a.cfg.PagesPerSessFactor)
	}

	return q
}
