package models

import (
	"time"

	"github.com/google/uuid"
)

// InstallRequest is the body of POST /api/sdk/v1/install. A missing
// ip_address falls back to the connection's remote address.
type InstallRequest struct {
	IPAddress              string         `json:"ip_address,omitempty"`
	UserAgent              string         `json:"user_agent" validate:"required"`
	Timezone               string         `json:"timezone,omitempty"`
	Language               string         `json:"language,omitempty"`
	ScreenWidth            int            `json:"screen_width,omitempty" validate:"gte=0"`
	ScreenHeight           int            `json:"screen_height,omitempty" validate:"gte=0"`
	Platform               string         `json:"platform,omitempty"`
	PlatformVersion        string         `json:"platform_version,omitempty"`
	DeviceID               *string        `json:"device_id,omitempty"`
	AttributionWindowHours *int           `json:"attribution_window_hours,omitempty" validate:"omitempty,gte=1,lte=2160"`
}

// Signals converts the request body into fingerprint signals.
func (r *InstallRequest) Signals() FingerprintSignals {
	return FingerprintSignals{
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		Timezone:        r.Timezone,
		Language:        r.Language,
		ScreenWidth:     r.ScreenWidth,
		ScreenHeight:    r.ScreenHeight,
		Platform:        r.Platform,
		PlatformVersion: r.PlatformVersion,
	}
}

// InstallResponse is the body returned from POST /api/sdk/v1/install.
type InstallResponse struct {
	InstallID       uuid.UUID      `json:"install_id"`
	Attributed      bool           `json:"attributed"`
	ConfidenceScore float64        `json:"confidence_score"`
	MatchedFactors  []string       `json:"matched_factors"`
	DeepLinkData    map[string]any `json:"deep_link_data"`
}

// InAppEventRequest is the body of POST /api/sdk/v1/event.
type InAppEventRequest struct {
	InstallID  uuid.UUID      `json:"install_id" validate:"required"`
	EventName  string         `json:"event_name" validate:"required"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
}

// CreateLinkRequest is the management-surface body for creating a link.
// ShortCode is optional; a random code is generated when absent.
type CreateLinkRequest struct {
	ShortCode    string     `json:"short_code,omitempty" validate:"omitempty,min=4,max=32,alphanum"`
	TemplateSlug *string    `json:"template_slug,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`

	OriginalURL string `json:"original_url" validate:"required,http_url"`

	IOSAppStoreURL      *string `json:"ios_app_store_url,omitempty" validate:"omitempty,http_url"`
	AndroidPlayStoreURL *string `json:"android_play_store_url,omitempty" validate:"omitempty,http_url"`
	WebFallbackURL      *string `json:"web_fallback_url,omitempty" validate:"omitempty,http_url"`
	IOSUniversalLink    *string `json:"ios_universal_link,omitempty" validate:"omitempty,http_url"`
	AndroidAppLink      *string `json:"android_app_link,omitempty" validate:"omitempty,http_url"`

	AppScheme          *string        `json:"app_scheme,omitempty" validate:"omitempty,alphanum"`
	DeepLinkPath       *string        `json:"deep_link_path,omitempty"`
	DeepLinkParameters map[string]any `json:"deep_link_parameters,omitempty"`

	OGTitle       *string `json:"og_title,omitempty"`
	OGDescription *string `json:"og_description,omitempty"`
	OGImageURL    *string `json:"og_image_url,omitempty" validate:"omitempty,http_url"`

	UTMParameters *UTMParameters  `json:"utm_parameters,omitempty"`
	Targeting     *TargetingRules `json:"targeting_rules,omitempty"`

	AttributionWindowHours *int       `json:"attribution_window_hours,omitempty" validate:"omitempty,gte=1,lte=2160"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
}

// CreateWebhookRequest is the management-surface body for creating a webhook.
type CreateWebhookRequest struct {
	UserID      *uuid.UUID        `json:"user_id,omitempty"`
	Name        string            `json:"name" validate:"required"`
	URL         string            `json:"url" validate:"required,http_url"`
	Events      []string          `json:"events" validate:"required,min=1,dive,oneof=click_event install_event conversion_event"`
	MaxAttempts *int              `json:"max_attempts,omitempty" validate:"omitempty,gte=1,lte=10"`
	TimeoutMs   *int              `json:"timeout_ms,omitempty" validate:"omitempty,gte=1000,lte=60000"`
	Headers     map[string]string `json:"headers,omitempty"`
}
