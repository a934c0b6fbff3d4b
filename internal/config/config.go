// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Refresh coordination settings
	RefreshDebounceMillis int `mapstructure:"refreshdebouncemillis"`
	PollIntervalSeconds   int `mapstructure:"pollintervalseconds"`

	// Live map settings
	LiveMapWindowMinutes int `mapstructure:"livemapwindowminutes"`
	LiveMapTopLocations  int `mapstructure:"livemaptoplocations"`

	// Attribution settings
	PaidSources        []string `mapstructure:"paidsources"`
	ConversionKeywords []string `mapstructure:"conversionkeywords"`

	// Quality score scale factors. Each sub-metric is normalized to 0-100;
	// these are the multipliers applied before capping.
	QualityTimeOnPageFactor   float64 `mapstructure:"qualitytimeonpagefactor"`
	QualityInteractionFactor  float64 `mapstructure:"qualityinteractionfactor"`
	QualityPagesPerSessFactor float64 `mapstructure:"qualitypagespersessfactor"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "pulsemetry")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("refreshdebouncemillis", 200)
		v.SetDefault("pollintervalseconds", 5)
		v.SetDefault("livemapwindowminutes", 30)
		v.SetDefault("livemaptoplocations", 5)
		v.SetDefault("paidsources", []string{"google_ads", "googleads", "facebook_ads", "fb_ads", "bing_ads", "adwords", "taboola", "outbrain", "criteo"})
		v.SetDefault("conversionkeywords", []string{"signup", "buy", "start", "contact"})
		v.SetDefault("qualitytimeonpagefactor", 20.0)
		v.SetDefault("qualityinteractionfactor", 10.0)
		v.SetDefault("qualitypagespersessfactor", 20.0)

		// Bind environment variables
		v.BindEnv("appname", "PULSEMETRY_APP_NAME")
		v.BindEnv("appport", "PULSEMETRY_APP_PORT")
		v.BindEnv("environment", "PULSEMETRY_ENV")
		v.BindEnv("loglevel", "PULSEMETRY_LOG_LEVEL")
		v.BindEnv("privatekey", "PULSEMETRY_PRIVATE_KEY")
		v.BindEnv("storagepath", "PULSEMETRY_STORAGE_PATH")
		v.BindEnv("geodbpath", "PULSEMETRY_GEO_DB_PATH")
		v.BindEnv("publicdir", "PULSEMETRY_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "PULSEMETRY_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "PULSEMETRY_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "PULSEMETRY_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "PULSEMETRY_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "PULSEMETRY_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "PULSEMETRY_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "PULSEMETRY_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "PULSEMETRY_DB_MAX_IDLE_CONNS")
		v.BindEnv("refreshdebouncemillis", "PULSEMETRY_REFRESH_DEBOUNCE_MILLIS")
		v.BindEnv("pollintervalseconds", "PULSEMETRY_POLL_INTERVAL_SECONDS")
		v.BindEnv("livemapwindowminutes", "PULSEMETRY_LIVEMAP_WINDOW_MINUTES")
		v.BindEnv("livemaptoplocations", "PULSEMETRY_LIVEMAP_TOP_LOCATIONS")
		v.BindEnv("paidsources", "PULSEMETRY_PAID_SOURCES")
		v.BindEnv("conversionkeywords", "PULSEMETRY_CONVERSION_KEYWORDS")
		v.BindEnv("qualitytimeonpagefactor", "PULSEMETRY_QUALITY_TIME_ON_PAGE_FACTOR")
		v.BindEnv("qualityinteractionfactor", "PULSEMETRY_QUALITY_INTERACTION_FACTOR")
		v.BindEnv("qualitypagespersessfactor", "PULSEMETRY_QUALITY_PAGES_PER_SESS_FACTOR")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()

		// Validate private key - in production, must be explicitly set (not empty, not default)
		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique PULSEMETRY_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.RefreshDebounceMillis < 0 {
		return fmt.Errorf("refresh debounce must not be negative: %d", c.RefreshDebounceMillis)
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll interval must be positive: %d", c.PollIntervalSeconds)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment.
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for E2E test stability)
// - Development/Production: 10 (allows concurrent reads for parallel dashboard queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// RefreshDebounce returns the coordinator debounce window.
func (c *Config) RefreshDebounce() time.Duration {
	return time.Duration(c.RefreshDebounceMillis) * time.Millisecond
}

// PollInterval returns the scheduler tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// LiveMapWindow returns how far back the live map looks for active visitors.
func (c *Config) LiveMapWindow() time.Duration {
	return time.Duration(c.LiveMapWindowMinutes) * time.Minute
}

// IsPaidSource reports whether a utm_source value belongs to a known paid-ad network.
func (c *Config) IsPaidSource(source string) bool {
	source = strings.ToLower(strings.TrimSpace(source))
	for _, s := range c.PaidSources {
		if source == s {
			return true
		}
	}
	return false
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
