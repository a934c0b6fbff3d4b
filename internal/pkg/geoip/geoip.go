// Package geoip wraps the optional GeoLite2 database used to enrich ingested
// events with a country and city.
package geoip

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"pulsemetry/internal/config"
)

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// ErrUnavailable is returned when no GeoLite2 database is configured.
var ErrUnavailable = errors.New("geoip database not available")

// Location is a resolved IP position.
type Location struct {
	CountryCode string
	City        string
}

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 database. Returns nil if the database is not
// configured or not found; geo enrichment is optional and events flow without it.
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - geo enrichment disabled")
		}
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - geo enrichment disabled",
				slog.String("path", cfg.GeoDBPath),
				slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized",
			slog.String("path", cfg.GeoDBPath))
	}
	return db
}

// GetGeoDB returns the GeoLite2 reader, initializing it on first use.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		geoDB = InitGeoDB()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// SetGeoDB swaps the reader; intended for tests and runtime reconfiguration.
func SetGeoDB(db *geoip2.Reader) {
	mu.Lock()
	defer mu.Unlock()
	once.Do(func() {})
	geoDB = db
}

// Lookup resolves an IP address to a country ISO code and city name.
func Lookup(ipAddress string) (Location, error) {
	db := GetGeoDB()
	if db == nil {
		return Location{}, ErrUnavailable
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return Location{}, fmt.Errorf("unparseable ip address %q", ipAddress)
	}

	record, err := db.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("geoip lookup for %s: %w", ip, err)
	}

	loc := Location{}
	if record.Country.IsoCode != "" && record.Country.IsoCode != "--" {
		loc.CountryCode = record.Country.IsoCode
	}
	if name, ok := record.City.Names["en"]; ok {
		loc.City = name
	}
	return loc, nil
}
