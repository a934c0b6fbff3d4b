package events

import (
	"log/slog"
	"strings"
	"time"

	"pulsemetry/internal/pkg/geoip"
)

// CollectEventInput carries one raw event from the public ingest API before
// validation and enrichment.
type CollectEventInput struct {
	ProjectID   uint
	VisitorID   string
	SessionID   string
	EventType   EventType
	Timestamp   time.Time
	Referrer    string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	ClickTarget string
	DeviceType  string
	IPAddress   string
	ScrollDepth int
	TimeOnPage  int
}

// NormalizeDeviceType maps free-text device hints onto the closed device set
// used by aggregation. Unknown values fall back to desktop rather than
// inventing a category.
func NormalizeDeviceType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mobile", "smartphone", "phone":
		return "mobile"
	case "tablet", "ipad":
		return "tablet"
	case "desktop", "computer", "pc":
		return "desktop"
	case "":
		return UnknownDevice
	default:
		return "desktop"
	}
}

// CollectEvent validates, geo-enriches and stores a single ingested event.
func (s *Store) CollectEvent(input *CollectEventInput) error {
	return s.Insert(s.buildEvent(input))
}

// CollectEventBatch stores a batch of ingested events, dropping malformed
// entries individually. It returns the number stored.
func (s *Store) CollectEventBatch(inputs []*CollectEventInput) (int, error) {
	batch := make([]Event, 0, len(inputs))
	for _, input := range inputs {
		batch = append(batch, s.buildEvent(input))
	}
	return s.InsertBatch(batch)
}

func (s *Store) buildEvent(input *CollectEventInput) Event {
	e := Event{
		ProjectID:   input.ProjectID,
		VisitorID:   strings.TrimSpace(input.VisitorID),
		SessionID:   strings.TrimSpace(input.SessionID),
		EventType:   input.EventType,
		Timestamp:   input.Timestamp,
		Referrer:    strings.TrimSpace(input.Referrer),
		UTMSource:   strings.TrimSpace(input.UTMSource),
		UTMMedium:   strings.TrimSpace(input.UTMMedium),
		UTMCampaign: strings.TrimSpace(input.UTMCampaign),
		ClickTarget: strings.TrimSpace(input.ClickTarget),
		DeviceType:  NormalizeDeviceType(input.DeviceType),
		ScrollDepth: clampScrollDepth(input.ScrollDepth),
		TimeOnPage:  input.TimeOnPage,
	}

	if e.EventType == "" {
		e.EventType = EventTypePageView
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	e.Country, e.City = geoLocate(s.logger, input.IPAddress)

	return e
}

func clampScrollDepth(depth int) int {
	if depth < 0 {
		return 0
	}
	if depth > 100 {
		return 100
	}
	return depth
}

func geoLocate(logger *slog.Logger, ipAddress string) (country, city string) {
	country, city = UnknownCountry, UnknownCity
	if ipAddress == "" {
		return country, city
	}

	loc, err := geoip.Lookup(ipAddress)
	if err != nil {
		logger.Debug("GeoIP lookup failed",
			slog.String("ip_address", ipAddress),
			slog.Any("error", err))
		return country, city
	}
	if loc.CountryCode != "" {
		country = strings.ToLower(loc.CountryCode)
	}
	if loc.City != "" {
		city = loc.City
	}
	return country, city
}
