// Package useragent classifies request User-Agent strings for routing,
// targeting, and click enrichment.
package useragent

import (
	"strings"

	"github.com/linkforty/linkforty/internal/models"
	"github.com/mssola/user_agent"
)

// Signals holds everything derived from one User-Agent string.
type Signals struct {
	DeviceClass     string // ios, android, web
	Platform        string // iOS, Android, Windows, Mac OS X, Linux, ...
	PlatformVersion string
	Browser         string
	BrowserVersion  string
}

// DeviceClass derives the routing device class by case-insensitive
// substring matching.
func DeviceClass(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"), strings.Contains(lower, "ipod"):
		return models.DeviceIOS
	case strings.Contains(lower, "android"):
		return models.DeviceAndroid
	default:
		return models.DeviceWeb
	}
}

// Parse extracts device class, platform, and browser details.
func Parse(ua string) Signals {
	parsed := user_agent.New(ua)
	browser, browserVersion := parsed.Browser()

	s := Signals{
		DeviceClass:     DeviceClass(ua),
		Platform:        parsed.OSInfo().Name,
		PlatformVersion: parsed.OSInfo().Version,
		Browser:         browser,
		BrowserVersion:  browserVersion,
	}

	// Normalize Apple OS names to the conventional mobile label.
	if s.DeviceClass == models.DeviceIOS {
		s.Platform = "iOS"
	}
	return s
}

// inAppBrowserPatterns identify embedded web views that do not honor
// Universal Links; escaping them needs an interstitial.
var inAppBrowserPatterns = []string{
	"gsa/", // Google app / Gmail on iOS
	"fban", // Facebook app
	"fbav", // Facebook app
	"instagram",
	"twitter",
	"linkedin",
	"micromessenger", // WeChat
	"outlook",
	"yahoomail",
	"ymobile",
}

// IsInAppBrowser reports whether the UA belongs to a known in-app browser.
func IsInAppBrowser(ua string) bool {
	lower := strings.ToLower(ua)
	for _, p := range inAppBrowserPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// scraperPatterns identify social and search crawlers that should receive
// Open Graph HTML instead of a redirect. Matched case-insensitively.
var scraperPatterns = []string{
	"facebookexternalhit",
	"facebot",
	"twitterbot",
	"linkedinbot",
	"slackbot",
	"discordbot",
	"telegrambot",
	"whatsapp",
	"pinterestbot",
	"skypeuripreview",
	"googlebot",
	"bingbot",
	"ia_archiver",
}

// IsSocialScraper reports whether the UA belongs to a known link scraper.
func IsSocialScraper(ua string) bool {
	lower := strings.ToLower(ua)
	for _, p := range scraperPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// PrimaryLanguage extracts the two-letter primary language from an
// Accept-Language header value, lowercased. Empty when absent.
func PrimaryLanguage(acceptLanguage string) string {
	if acceptLanguage == "" {
		return ""
	}
	first := acceptLanguage
	if idx := strings.IndexAny(first, ",;"); idx >= 0 {
		first = first[:idx]
	}
	first = strings.TrimSpace(first)
	if len(first) < 2 {
		return ""
	}
	return strings.ToLower(first[:2])
}
