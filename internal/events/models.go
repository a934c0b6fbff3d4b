package events

import "time"

// EventType identifies the kind of interaction an Event records.
type EventType string

const (
	EventTypePageView      EventType = "pageview"
	EventTypeClick         EventType = "click"
	EventTypeScroll        EventType = "scroll"
	EventTypeAddToCart     EventType = "add_to_cart"
	EventTypeCheckoutStart EventType = "checkout_start"
	EventTypePurchase      EventType = "purchase"
	EventTypeFormSubmit    EventType = "form_submit"
	EventTypeVideoPlay     EventType = "video_play"
	EventTypeCustom        EventType = "custom"
)

// Constants for unknown or default values
const (
	UnknownCountry = "__unknown_country__"
	UnknownCity    = "__unknown_city__"
	UnknownDevice  = "__unknown_device__"
)

// Event represents one tracked visitor interaction.
type Event struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	ProjectID   uint      `gorm:"index:idx_project_timestamp;not null"`
	VisitorID   string    `gorm:"index;size:64;not null"`
	SessionID   string    `gorm:"index;size:64"`
	EventType   EventType `gorm:"index;not null;default:pageview"`
	Timestamp   time.Time `gorm:"index:idx_project_timestamp;not null"`
	Referrer    string    `gorm:"index"`
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	ClickTarget string
	DeviceType  string
	Country     string `gorm:"index"`
	City        string
	ScrollDepth int // 0-100
	TimeOnPage  int // seconds
	CreatedAt   time.Time
}

// HasUTM reports whether the event carries any UTM attribution fields.
func (e Event) HasUTM() bool {
	return e.UTMSource != "" || e.UTMMedium != "" || e.UTMCampaign != ""
}
