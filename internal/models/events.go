package models

import (
	"time"

	"github.com/google/uuid"
)

// Webhook-visible event type names.
const (
	EventClick      = "click_event"
	EventInstall    = "install_event"
	EventConversion = "conversion_event"
)

// ClickEvent is an immutable record of one public resolution.
type ClickEvent struct {
	ID        uuid.UUID `json:"id"`
	LinkID    uuid.UUID `json:"link_id"`
	ClickedAt time.Time `json:"clicked_at"`

	// Request signals
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	Referer   string `json:"referer,omitempty"`
	Language  string `json:"language,omitempty"`

	// Derived device info
	DeviceType      string `json:"device_type"` // ios, android, web
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	Browser         string `json:"browser,omitempty"`

	// Geo info
	CountryCode string  `json:"country_code,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`

	// UTM captured from the request query string
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`

	// Routing outcome
	RedirectURL string `json:"redirect_url"`
	Reason      string `json:"reason"`
}

// FingerprintSignals are the raw device signals hashed into a fingerprint
// and kept individually for later scoring.
type FingerprintSignals struct {
	IPAddress       string `json:"ip_address,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	Language        string `json:"language,omitempty"`
	ScreenWidth     int    `json:"screen_width,omitempty"`
	ScreenHeight    int    `json:"screen_height,omitempty"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
}

// DeviceFingerprint is immutable and 1:1 with a ClickEvent.
type DeviceFingerprint struct {
	ID              uuid.UUID `json:"id"`
	ClickID         uuid.UUID `json:"click_id"`
	FingerprintHash string    `json:"fingerprint_hash"`
	FingerprintSignals
	CreatedAt time.Time `json:"created_at"`
}

// InstallEvent records one install report, attributed or organic. It is
// mutated exactly once, to attach the deep-link payload.
type InstallEvent struct {
	ID      uuid.UUID  `json:"id"`
	LinkID  *uuid.UUID `json:"link_id,omitempty"`
	ClickID *uuid.UUID `json:"click_id,omitempty"`

	FingerprintHash string   `json:"fingerprint_hash"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"` // nil for organic

	InstalledAt   time.Time `json:"installed_at"`
	FirstOpenedAt time.Time `json:"first_opened_at"`

	AttributionWindowHours int `json:"attribution_window_hours"`

	FingerprintSignals
	DeviceID *string `json:"device_id,omitempty"` // IDFA / GAID

	DeepLinkData map[string]any `json:"deep_link_data"`
	Retrieved    bool           `json:"retrieved"`
}

// Attributed reports whether the install was matched to a click.
func (e *InstallEvent) Attributed() bool {
	return e.LinkID != nil && e.ClickID != nil
}

// InAppEvent is an immutable conversion event, child of an InstallEvent.
type InAppEvent struct {
	ID         uuid.UUID      `json:"id"`
	InstallID  uuid.UUID      `json:"install_id"`
	EventName  string         `json:"event_name"`
	Properties map[string]any `json:"properties,omitempty"`
	EventTime  time.Time      `json:"event_timestamp"`
	CreatedAt  time.Time      `json:"created_at"`
}
