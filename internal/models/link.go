package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Device classes derived from the User-Agent. These drive both targeting
// evaluation and destination selection.
const (
	DeviceIOS     = "ios"
	DeviceAndroid = "android"
	DeviceWeb     = "web"
)

// Reason codes describe which branch of the destination-selection table
// produced the chosen URL. Attached to every click event.
const (
	ReasonIOSUniversalLink = "ios_universal_link"
	ReasonAndroidAppLink   = "android_app_link"
	ReasonAppScheme        = "app_scheme"
	ReasonIOSAppStore      = "ios_app_store_url"
	ReasonAndroidAppStore  = "android_app_store_url"
	ReasonWebFallback      = "web_fallback_url"
	ReasonOriginalURL      = "original_url"
	ReasonSDKResolve       = "sdk_resolve"
)

// Attribution window bounds, in hours. The default matches a 7-day window;
// the maximum is 90 days.
const (
	AttributionWindowMin     = 1
	AttributionWindowMax     = 2160
	AttributionWindowDefault = 168
)

// TargetingRules restricts who may resolve a link. Empty slices match
// everything; a non-empty slice requires membership.
type TargetingRules struct {
	Countries []string `json:"countries,omitempty"` // ISO 3166-1 alpha-2 codes
	Devices   []string `json:"devices,omitempty"`   // ios, android, web
	Languages []string `json:"languages,omitempty"` // ISO 639-1 primary subtags
}

// IsEmpty reports whether no targeting restrictions are set.
func (t *TargetingRules) IsEmpty() bool {
	return t == nil || (len(t.Countries) == 0 && len(t.Devices) == 0 && len(t.Languages) == 0)
}

// UTMParameters are appended to HTTPS destinations as utm_* query parameters.
type UTMParameters struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// IsEmpty reports whether all UTM fields are blank.
func (u *UTMParameters) IsEmpty() bool {
	return u == nil || (u.Source == "" && u.Medium == "" && u.Campaign == "" && u.Term == "" && u.Content == "")
}

// Link is a routing rule mapping a short code to platform-aware destinations.
type Link struct {
	ID           uuid.UUID  `json:"id"`
	ShortCode    string     `json:"short_code"`
	TemplateID   *uuid.UUID `json:"template_id,omitempty"`
	TemplateSlug *string    `json:"template_slug,omitempty"`

	// Owner is an opaque tenant identifier; nil in single-tenant mode.
	UserID *uuid.UUID `json:"user_id,omitempty"`

	OriginalURL string `json:"original_url"`

	// Per-platform store and fallback destinations.
	IOSAppStoreURL      *string `json:"ios_app_store_url,omitempty"`
	AndroidPlayStoreURL *string `json:"android_play_store_url,omitempty"`
	WebFallbackURL      *string `json:"web_fallback_url,omitempty"`

	// Associated-domain URLs opened in-app when the app is installed.
	IOSUniversalLink *string `json:"ios_universal_link,omitempty"`
	AndroidAppLink   *string `json:"android_app_link,omitempty"`

	// Custom-scheme deep linking.
	AppScheme          *string        `json:"app_scheme,omitempty"`     // e.g. "myapp"
	DeepLinkPath       *string        `json:"deep_link_path,omitempty"` // e.g. "/product/42"
	DeepLinkParameters map[string]any `json:"deep_link_parameters,omitempty"`

	// Open Graph preview fields.
	OGTitle       *string `json:"og_title,omitempty"`
	OGDescription *string `json:"og_description,omitempty"`
	OGImageURL    *string `json:"og_image_url,omitempty"`

	UTMParameters *UTMParameters  `json:"utm_parameters,omitempty"`
	Targeting     *TargetingRules `json:"targeting_rules,omitempty"`

	AttributionWindowHours int        `json:"attribution_window_hours"`
	IsActive               bool       `json:"is_active"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks link invariants before persistence.
func (l *Link) Validate() error {
	if l.ShortCode == "" {
		return errors.New("short code is required")
	}
	if l.OriginalURL == "" {
		return errors.New("original URL is required")
	}
	if l.AttributionWindowHours < AttributionWindowMin || l.AttributionWindowHours > AttributionWindowMax {
		return errors.New("attribution window must be between 1 and 2160 hours")
	}
	return nil
}

// IsExpired reports whether the link has passed its absolute expiry.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Resolvable reports whether the link should behave as present for public
// resolution. Inactive and expired links are indistinguishable from absent.
func (l *Link) Resolvable(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now)
}

// Template is a named short-code namespace with a URL-safe slug.
type Template struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DeepLinkData is the payload handed to the mobile SDK after a resolve or a
// matched deferred attribution.
type DeepLinkData struct {
	ShortCode           string         `json:"short_code"`
	OriginalURL         string         `json:"original_url"`
	IOSUniversalLink    *string        `json:"ios_universal_link,omitempty"`
	IOSAppStoreURL      *string        `json:"ios_app_store_url,omitempty"`
	AndroidAppLink      *string        `json:"android_app_link,omitempty"`
	AndroidPlayStoreURL *string        `json:"android_play_store_url,omitempty"`
	WebFallbackURL      *string        `json:"web_fallback_url,omitempty"`
	AppScheme           *string        `json:"app_scheme,omitempty"`
	DeepLinkPath        *string        `json:"deep_link_path,omitempty"`
	DeepLinkParameters  map[string]any `json:"deep_link_parameters,omitempty"`
	UTMParameters       *UTMParameters `json:"utm_parameters,omitempty"`
}

// NewDeepLinkData composes the SDK payload from a link.
func NewDeepLinkData(l *Link) *DeepLinkData {
	return &DeepLinkData{
		ShortCode:           l.ShortCode,
		OriginalURL:         l.OriginalURL,
		IOSUniversalLink:    l.IOSUniversalLink,
		IOSAppStoreURL:      l.IOSAppStoreURL,
		AndroidAppLink:      l.AndroidAppLink,
		AndroidPlayStoreURL: l.AndroidPlayStoreURL,
		WebFallbackURL:      l.WebFallbackURL,
		AppScheme:           l.AppScheme,
		DeepLinkPath:        l.DeepLinkPath,
		DeepLinkParameters:  l.DeepLinkParameters,
		UTMParameters:       l.UTMParameters,
	}
}
