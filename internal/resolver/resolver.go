// Package resolver implements the link-resolution hot path: cached lookup,
// targeting evaluation, device-aware destination selection, and the
// interstitial and scraper branches.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/linkforty/linkforty/internal/cache"
	"github.com/linkforty/linkforty/internal/geo"
	"github.com/linkforty/linkforty/internal/metrics"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/linkforty/linkforty/internal/storage"
	"github.com/linkforty/linkforty/internal/useragent"
	"go.uber.org/zap"
)

// ErrNotFound is returned for missing, inactive, expired, and targeted-out
// links alike; callers must not be able to tell these apart.
var ErrNotFound = storage.ErrNotFound

// interstitialDelayMs is how long the interstitial waits for the custom
// scheme to open the app before falling back to the store.
const interstitialDelayMs = 1500

// Request carries everything the resolver needs from one HTTP request.
type Request struct {
	Code string
	Slug string // optional template slug scope

	IPAddress      string
	UserAgent      string
	AcceptLanguage string
	Referer        string
	Query          url.Values
}

// Interstitial describes the escape hatch served to iOS in-app browsers.
type Interstitial struct {
	AppURL      string // custom-scheme URL, assigned to window.location
	FallbackURL string // store fallback after the delay
	DelayMs     int
}

// Decision is the outcome of a successful resolution, handed to the click
// recorder after the response is written.
type Decision struct {
	Link        *models.Link
	URL         string
	Reason      string
	DeviceClass string
	UASignals   useragent.Signals
	Location    *geo.Location
	Language    string

	// TargetingMatched is false only on the SDK resolve path, which skips
	// targeting enforcement.
	TargetingMatched bool

	// Interstitial is non-nil when the response should be the in-app
	// browser escape page instead of a 302.
	Interstitial *Interstitial
}

// Resolver performs link lookups and destination selection.
type Resolver struct {
	links   storage.LinkRepo
	cache   *cache.LinkCache
	geo     geo.Provider
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewResolver creates a resolver.
func NewResolver(links storage.LinkRepo, c *cache.LinkCache, g geo.Provider, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		links:   links,
		cache:   c,
		geo:     g,
		logger:  logger,
		metrics: m,
	}
}

// Lookup fetches a resolvable link through the cache. Cache failures fall
// through to the store; store misses are ErrNotFound.
func (r *Resolver) Lookup(ctx context.Context, slug, code string) (*models.Link, error) {
	if link := r.cache.Get(ctx, slug, code); link != nil {
		r.metrics.RecordCache(true)
		// The cached row may have expired since it was written.
		if !link.Resolvable(time.Now()) {
			return nil, ErrNotFound
		}
		return link, nil
	}
	r.metrics.RecordCache(false)

	var (
		link *models.Link
		err  error
	)
	if slug != "" {
		link, err = r.links.GetBySlugAndCode(ctx, slug, code)
	} else {
		link, err = r.links.GetByShortCode(ctx, code)
	}
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, slug, link)
	return link, nil
}

// Resolve performs the full public resolution: lookup, targeting,
// destination selection, parameter appending, and the interstitial check.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (*Decision, error) {
	start := time.Now()

	link, err := r.Lookup(ctx, req.Slug, req.Code)
	if err != nil {
		if err == ErrNotFound {
			r.metrics.RecordResolve("not_found", "", time.Since(start).Seconds())
		}
		return nil, err
	}

	ua := useragent.Parse(req.UserAgent)
	lang := useragent.PrimaryLanguage(req.AcceptLanguage)
	loc := r.lookupGeo(req.IPAddress)

	if !targetingMatches(link.Targeting, loc.CountryCode, ua.DeviceClass, lang) {
		r.metrics.RecordResolve("targeting_reject", "", time.Since(start).Seconds())
		return nil, ErrNotFound
	}

	dest, reason := SelectDestination(link, ua.DeviceClass)
	finalURL := AppendParameters(dest, reason, link)

	dec := &Decision{
		Link:             link,
		URL:              finalURL,
		Reason:           reason,
		DeviceClass:      ua.DeviceClass,
		UASignals:        ua,
		Location:         loc,
		Language:         lang,
		TargetingMatched: true,
	}

	if ua.DeviceClass == models.DeviceIOS && useragent.IsInAppBrowser(req.UserAgent) {
		if schemeURL, ok := SchemeURL(link); ok {
			dec.URL = schemeURL
			dec.Reason = models.ReasonAppScheme
			dec.Interstitial = &Interstitial{
				AppURL:      schemeURL,
				FallbackURL: interstitialFallback(link),
				DelayMs:     interstitialDelayMs,
			}
		}
	}

	r.metrics.RecordResolve("ok", dec.Reason, time.Since(start).Seconds())
	return dec, nil
}

// ResolveSDK performs lookup for an SDK client that already has the app
// open. Targeting is skipped; the click is tracked with the sdk_resolve
// reason.
func (r *Resolver) ResolveSDK(ctx context.Context, req *Request) (*Decision, *models.DeepLinkData, error) {
	start := time.Now()

	link, err := r.Lookup(ctx, req.Slug, req.Code)
	if err != nil {
		return nil, nil, err
	}

	ua := useragent.Parse(req.UserAgent)
	dec := &Decision{
		Link:        link,
		URL:         link.OriginalURL,
		Reason:      models.ReasonSDKResolve,
		DeviceClass: ua.DeviceClass,
		UASignals:   ua,
		Location:    r.lookupGeo(req.IPAddress),
		Language:    useragent.PrimaryLanguage(req.AcceptLanguage),
	}

	r.metrics.RecordResolve("ok", models.ReasonSDKResolve, time.Since(start).Seconds())
	return dec, models.NewDeepLinkData(link), nil
}

func (r *Resolver) lookupGeo(ip string) *geo.Location {
	loc, err := r.geo.Lookup(ip)
	if err != nil {
		r.logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return &geo.Location{}
	}
	return loc
}

// targetingMatches evaluates the link's targeting rules. Empty rule slices
// match everything.
func targetingMatches(rules *models.TargetingRules, countryCode, deviceClass, language string) bool {
	if rules.IsEmpty() {
		return true
	}
	if len(rules.Countries) > 0 && !containsFold(rules.Countries, countryCode) {
		return false
	}
	if len(rules.Devices) > 0 && !containsFold(rules.Devices, deviceClass) {
		return false
	}
	if len(rules.Languages) > 0 && !containsFold(rules.Languages, language) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// SelectDestination walks the per-device priority table and returns the
// chosen raw URL with its reason code.
func SelectDestination(l *models.Link, deviceClass string) (string, string) {
	switch deviceClass {
	case models.DeviceIOS:
		if l.IOSUniversalLink != nil && *l.IOSUniversalLink != "" {
			return *l.IOSUniversalLink, models.ReasonIOSUniversalLink
		}
		if u, ok := SchemeURL(l); ok {
			return u, models.ReasonAppScheme
		}
		if l.IOSAppStoreURL != nil && *l.IOSAppStoreURL != "" {
			return *l.IOSAppStoreURL, models.ReasonIOSAppStore
		}
	case models.DeviceAndroid:
		if l.AndroidAppLink != nil && *l.AndroidAppLink != "" {
			return *l.AndroidAppLink, models.ReasonAndroidAppLink
		}
		if u, ok := SchemeURL(l); ok {
			return u, models.ReasonAppScheme
		}
		if l.AndroidPlayStoreURL != nil && *l.AndroidPlayStoreURL != "" {
			return *l.AndroidPlayStoreURL, models.ReasonAndroidAppStore
		}
	default:
		if l.WebFallbackURL != nil && *l.WebFallbackURL != "" {
			return *l.WebFallbackURL, models.ReasonWebFallback
		}
	}
	return l.OriginalURL, models.ReasonOriginalURL
}

// SchemeURL builds the custom-scheme deep link ({scheme}://{path}) with the
// link's deep-link parameters appended as an encoded query string. Returns
// false when the link has no scheme or no path.
func SchemeURL(l *models.Link) (string, bool) {
	if l.AppScheme == nil || *l.AppScheme == "" || l.DeepLinkPath == nil || *l.DeepLinkPath == "" {
		return "", false
	}
	path := strings.TrimPrefix(*l.DeepLinkPath, "/")
	u := *l.AppScheme + "://" + path
	if len(l.DeepLinkParameters) > 0 {
		u += "?" + encodeParams(l.DeepLinkParameters)
	}
	return u, true
}

// AppendParameters appends UTM and deep-link parameters to an HTTPS
// destination. Custom-scheme URLs already carry their parameters and never
// get UTM.
func AppendParameters(dest, reason string, l *models.Link) string {
	if reason == models.ReasonAppScheme {
		return dest
	}

	parsed, err := url.Parse(dest)
	if err != nil {
		return dest
	}

	q := parsed.Query()
	if parsed.Scheme == "https" && !l.UTMParameters.IsEmpty() {
		setNonEmpty(q, "utm_source", l.UTMParameters.Source)
		setNonEmpty(q, "utm_medium", l.UTMParameters.Medium)
		setNonEmpty(q, "utm_campaign", l.UTMParameters.Campaign)
		setNonEmpty(q, "utm_term", l.UTMParameters.Term)
		setNonEmpty(q, "utm_content", l.UTMParameters.Content)
	}
	for k, v := range l.DeepLinkParameters {
		q.Set(k, fmt.Sprint(v))
	}
	if len(q) == 0 {
		return dest
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func setNonEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func encodeParams(params map[string]any) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}
	return q.Encode()
}

// interstitialFallback picks where the interstitial sends the user when the
// app does not open: App Store, then web fallback, then origin.
func interstitialFallback(l *models.Link) string {
	if l.IOSAppStoreURL != nil && *l.IOSAppStoreURL != "" {
		return *l.IOSAppStoreURL
	}
	if l.WebFallbackURL != nil && *l.WebFallbackURL != "" {
		return *l.WebFallbackURL
	}
	return l.OriginalURL
}
