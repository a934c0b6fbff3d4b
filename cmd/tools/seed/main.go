// main.go - Synthetic traffic seeder for local development and demos
package main

import (
	"bytes"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	mrand "math/rand"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	v1 "pulsemetry/api/v1"
	"pulsemetry/internal/events"
)

//go:embed scenarios.yml
var defaultScenarios []byte

// Scenario describes one cohort of synthetic visitors.
type Scenario struct {
	Name             string  `yaml:"name"`
	Visitors         int     `yaml:"visitors"`
	Referrer         string  `yaml:"referrer"`
	UTMSource        string  `yaml:"utm_source"`
	UTMMedium        string  `yaml:"utm_medium"`
	UTMCampaign      string  `yaml:"utm_campaign"`
	EventsPerVisitor int     `yaml:"events_per_visitor"`
	ClickRate        float64 `yaml:"click_rate"`
	ConversionRate   float64 `yaml:"conversion_rate"`
	ScrollDepth      int     `yaml:"scroll_depth"`
	TimeOnPage       int     `yaml:"time_on_page"`
	Device           string  `yaml:"device"`
}

type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

func main() {
	configPath := flag.String("config", "", "path to a scenarios YAML file (embedded defaults when empty)")
	baseURL := flag.String("url", "http://localhost:3000", "pulsemetry base URL")
	projectID := flag.Uint("project", 1, "project id to seed")
	spreadHours := flag.Int("spread", 24, "spread events over the last N hours")
	logDir := flag.String("logdir", "logs", "directory for the seeder log file")
	flag.Parse()

	log := newLogger(*logDir)

	scenarios, err := loadScenarios(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load scenarios")
	}

	log.WithFields(logrus.Fields{
		"scenarios": len(scenarios),
		"url":       *baseURL,
		"project":   *projectID,
	}).Info("Seeding traffic")

	client := &http.Client{Timeout: 10 * time.Second}
	total := 0
	for _, scenario := range scenarios {
		batch := buildBatch(scenario, *projectID, *spreadHours)
		if err := postBatch(client, *baseURL, batch); err != nil {
			log.WithError(err).WithField("scenario", scenario.Name).Error("Batch rejected")
			continue
		}
		total += len(batch)
		log.WithFields(logrus.Fields{
			"scenario": scenario.Name,
			"events":   len(batch),
		}).Info("Scenario seeded")
	}

	log.WithField("total_events", total).Info("Seeding complete")
}

func newLogger(logDir string) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   logDir + "/seed.log",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
	}))
	return log
}

func loadScenarios(path string) ([]Scenario, error) {
	raw := defaultScenarios
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var file scenarioFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing scenarios: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios defined")
	}
	return file.Scenarios, nil
}

// buildBatch expands a scenario into concrete events: one pageview per visit
// plus probabilistic clicks and conversions, spread over the recent past.
func buildBatch(s Scenario, projectID uint, spreadHours int) []v1.CreateEventParams {
	batch := make([]v1.CreateEventParams, 0, s.Visitors*(s.EventsPerVisitor+2))
	now := time.Now().UTC()

	for i := 0; i < s.Visitors; i++ {
		visitorID := randomID()
		sessionID := randomID()
		visitStart := now.Add(-time.Duration(mrand.Intn(spreadHours*3600)) * time.Second)

		perVisitor := s.EventsPerVisitor
		if perVisitor < 1 {
			perVisitor = 1
		}
		for j := 0; j < perVisitor; j++ {
			ts := visitStart.Add(time.Duration(j*s.TimeOnPage) * time.Second)
			batch = append(batch, baseEvent(s, projectID, visitorID, sessionID, ts, events.EventTypePageView))

			if mrand.Float64() < s.ClickRate {
				click := baseEvent(s, projectID, visitorID, sessionID, ts.Add(5*time.Second), events.EventTypeClick)
				click.ClickTarget = "cta-learn-more"
				batch = append(batch, click)
			}
		}

		if mrand.Float64() < s.ConversionRate {
			purchase := baseEvent(s, projectID, visitorID, sessionID,
				visitStart.Add(time.Duration(perVisitor*s.TimeOnPage)*time.Second), events.EventTypePurchase)
			batch = append(batch, purchase)
		}
	}
	return batch
}

func baseEvent(s Scenario, projectID uint, visitorID, sessionID string, ts time.Time, eventType events.EventType) v1.CreateEventParams {
	return v1.CreateEventParams{
		ProjectID:   projectID,
		VisitorID:   visitorID,
		SessionID:   sessionID,
		EventType:   eventType,
		Timestamp:   ts,
		Referrer:    s.Referrer,
		UTMSource:   s.UTMSource,
		UTMMedium:   s.UTMMedium,
		UTMCampaign: s.UTMCampaign,
		DeviceType:  s.Device,
		ScrollDepth: s.ScrollDepth,
		TimeOnPage:  s.TimeOnPage,
	}
}

func postBatch(client *http.Client, baseURL string, batch []v1.CreateEventParams) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}

	resp, err := client.Post(baseURL+"/x/api/v1/events/batch", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting batch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func randomID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("v-%d", mrand.Int63())
	}
	return hex.EncodeToString(buf)
}
