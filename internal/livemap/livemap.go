// Package livemap computes the "who is on the site right now" view: an
// online visitor count over a sliding recent window and the top geographic
// locations with display names and map coordinates.
package livemap

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pulsemetry/internal/events"
)

// Location is one entry of the top-locations leaderboard.
type Location struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Count     int     `json:"count"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// State is the published live view.
type State struct {
	Online    int        `json:"online"`
	Locations []Location `json:"locations"`
}

// Service maintains the live view for one project. It satisfies
// coordinator.Refresher so refresh signals recompute it alongside the
// dashboard snapshot.
type Service struct {
	store  *events.Store
	logger *slog.Logger

	window       time.Duration
	topLocations int

	countries *gountries.Query
	caser     cases.Caser

	mu        sync.RWMutex
	projectID uint
	state     State
	onRise    func(online int)
}

func NewService(store *events.Store, logger *slog.Logger, window time.Duration, topLocations int) *Service {
	if window <= 0 {
		window = 30 * time.Minute
	}
	if topLocations <= 0 {
		topLocations = 5
	}
	return &Service{
		store:        store,
		logger:       logger,
		window:       window,
		topLocations: topLocations,
		countries:    gountries.New(),
		caser:        cases.Title(language.AmericanEnglish),
	}
}

// SetProject selects the project the live view covers.
func (s *Service) SetProject(projectID uint) {
	s.mu.Lock()
	s.projectID = projectID
	s.mu.Unlock()
}

// OnVisitorRise registers a callback fired when the online count increases
// between two recomputations.
func (s *Service) OnVisitorRise(fn func(online int)) {
	s.mu.Lock()
	s.onRise = fn
	s.mu.Unlock()
}

// State returns the last computed live view.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Refresh implements coordinator.Refresher.
func (s *Service) Refresh() {
	if err := s.Recompute(); err != nil {
		s.logger.Warn("Live map recompute failed", slog.Any("error", err))
	}
}

// Recompute queries the recent window and republishes the live view.
func (s *Service) Recompute() (err error) {
	s.mu.RLock()
	projectID := s.projectID
	prev := s.state.Online
	onRise := s.onRise
	s.mu.RUnlock()

	now := time.Now().UTC()
	since := now.Add(-s.window)

	online, err := s.onlineCount(projectID, since)
	if err != nil {
		return err
	}
	locations, err := s.topLocationRows(projectID, since)
	if err != nil {
		return err
	}

	state := State{Online: online, Locations: locations}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if online > prev && onRise != nil {
		onRise(online)
	}
	return nil
}

func (s *Service) onlineCount(projectID uint, since time.Time) (int, error) {
	var count int64
	err := s.store.DB().Model(&events.Event{}).
		Where("project_id = ? AND timestamp >= ?", projectID, since).
		Distinct("visitor_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting online visitors: %w", err)
	}
	return int(count), nil
}

type locationRow struct {
	Country string
	City    string
	Count   int
}

func (s *Service) topLocationRows(projectID uint, since time.Time) ([]Location, error) {
	var rows []locationRow
	err := s.store.DB().Model(&events.Event{}).
		Select("country, city, COUNT(DISTINCT visitor_id) AS count").
		Where("project_id = ? AND timestamp >= ?", projectID, since).
		Group("country, city").
		Order("count DESC, country ASC, city ASC").
		Limit(s.topLocations).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying top locations: %w", err)
	}

	locations := make([]Location, 0, len(rows))
	for _, row := range rows {
		locations = append(locations, s.describe(row))
	}
	return locations, nil
}

// describe turns a raw country code + city pair into a display location. The
// country centroid stands in as the map coordinate; unresolvable codes fall
// back to the raw value at the origin.
func (s *Service) describe(row locationRow) Location {
	loc := Location{
		Country: "Unknown",
		City:    "Unknown",
		Count:   row.Count,
	}

	if row.Country != "" && row.Country != events.UnknownCountry {
		country, err := s.countries.FindCountryByAlpha(strings.ToUpper(row.Country))
		if err != nil {
			loc.Country = s.caser.String(row.Country)
		} else {
			loc.Country = country.Name.Common
			loc.Latitude = country.Latitude
			loc.Longitude = country.Longitude
		}
	}
	if row.City != "" && row.City != events.UnknownCity {
		loc.City = s.caser.String(row.City)
	}
	return loc
}
