package resolver

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/linkforty/linkforty/internal/cache"
	"github.com/linkforty/linkforty/internal/geo"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/linkforty/linkforty/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	uaIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Version/17.0 Safari/604.1"
	uaAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) Chrome/120.0 Mobile Safari/537.36"
	uaDesktop = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0 Safari/537.36"
	uaGmail   = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) GSA/290.0 Mobile/15E148"
)

func str(s string) *string { return &s }

func newTestResolver(t *testing.T, links storage.LinkRepo, loc geo.Location) *Resolver {
	t.Helper()
	logger := zap.NewNop()
	return NewResolver(links, cache.NewLinkCache(nil, logger), &geo.StaticProvider{Location: loc}, logger, nil)
}

func seedLink(t *testing.T, repo storage.LinkRepo, link *models.Link) *models.Link {
	t.Helper()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	link.IsActive = true
	if link.AttributionWindowHours == 0 {
		link.AttributionWindowHours = models.AttributionWindowDefault
	}
	require.NoError(t, repo.Create(context.Background(), link))
	return link
}

func resolveReq(code, ua string) *Request {
	return &Request{
		Code:      code,
		IPAddress: "8.8.8.8",
		UserAgent: ua,
		Query:     url.Values{},
	}
}

func TestResolveUniversalLink(t *testing.T) {
	repo := storage.NewMemoryLinkRepo()
	seedLink(t, repo, &models.Link{
		ShortCode:        "abc12345",
		OriginalURL:      "https://example.com",
		IOSUniversalLink: str("https://shop.example.com/p/42"),
	})
	r := newTestResolver(t, repo, geo.Location{CountryCode: "US"})

	dec, err := r.Resolve(context.Background(), resolveReq("abc12345", uaIPhone))
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com/p/42", dec.URL)
	assert.Equal(t, models.ReasonIOSUniversalLink, dec.Reason)
	assert.Equal(t, models.DeviceIOS, dec.DeviceClass)
	assert.Nil(t, dec.Interstitial)
	assert.True(t, dec.TargetingMatched)
}

func TestResolveNotFound(t *testing.T) {
	r := newTestResolver(t, storage.NewMemoryLinkRepo(), geo.Location{})

	_, err := r.Resolve(context.Background(), resolveReq("missing1", uaDesktop))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveInactiveAndExpiredLookLikeMissing(t *testing.T) {
	repo := storage.NewMemoryLinkRepo()
	inactive := seedLink(t, repo, &models.Link{
		ShortCode:   "inactive1",
		OriginalURL: "https://example.com",
	})
	inactive.IsActive = false
	require.NoError(t, repo.Update(context.Background(), inactive))

	past := time.Now().Add(-time.Hour)
	seedLink(t, repo, &models.Link{
		ShortCode:   "expired12",
		OriginalURL: "https://example.com",
		ExpiresAt:   &past,
	})

	r := newTestResolver(t, repo, geo.Location{})
	_, err := r.Resolve(context.Background(), resolveReq("inactive1", uaDesktop))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(context.Background(), resolveReq("expired12", uaDesktop))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveTargetedOutCountry(t *testing.T) {
	repo := storage.NewMemoryLinkRepo()
	seedLink(t, repo, &models.Link{
		ShortCode:   "abc12345",
		OriginalURL: "https://example.com",
		Targeting:   &models.TargetingRules{Countries: []string{"DE"}},
	})
	r := newTestResolver(t, repo, geo.Location{CountryCode: "US"})

	_, err := r.Resolve(context.Background(), resolveReq("abc12345", uaDesktop))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveTargetingMatches(t *testing.T) {
	repo := storage.NewMemoryLinkRepo()
	seedLink(t, repo, &models.Link{
		ShortCode:   "abc12345",
		OriginalURL: "https://example.com",
		Targeting: &models.TargetingRules{
			Countries: []string{"de"},
			Devices:   []string{models.DeviceIOS},
			Languages: []string{"de"},
		},
	})
	r := newTestResolver(t, repo, geo.Location{CountryCode: "DE"})

	req := resolveReq("abc12345", uaIPhone)
	req.AcceptLanguage = "de-DE,de;q=0.9"
	_, err := r.Resolve(context.Background(), req)
	assert.NoError(t, err)

	// Wrong device class fails the same rules.
	_, err = r.Resolve(context.Background(), resolveReq("abc12345", uaDesktop))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveInterstitialForInAppBrowser(t *testing.T) {
	repo := storage.NewMemoryLinkRepo()
	seedLink(t, repo, &models.Link{
		ShortCode:      "abc12345",
		OriginalURL:    "https://example.com",
		AppScheme:      str("myapp"),
		DeepLinkPath:   str("/product/42"),
		IOSAppStoreURL: str("https://apps.apple.com/app/id123"),
	})
	r := newTestResolver(t, repo, geo.Location{})

	dec, err := r.Resolve(context.Background(), resolveReq("abc12345", uaGmail))
	require.NoError(t, err)

	require.NotNil(t, dec.Interstitial)
	assert.Equal(t, "myapp://product/42", dec.Interstitial.AppURL)
	assert.Equal(t, "https://apps.apple.com/app/id123", dec.Interstitial.FallbackURL)
	assert.Equal(t, 1500, dec.Interstitial.DelayMs)
	assert.Equal(t, models.ReasonAppScheme, dec.Reason)
}

func TestResolveNoInterstitialInRealBrowser(t *testing.T) {
	repo := storage.NewMemoryLinkRepo()
	seedLink(t, repo, &models.Link{
		ShortCode:    "abc12345",
		OriginalURL:  "https://example.com",
		AppScheme:    str("myapp"),
		DeepLinkPath: str("/product/42"),
	})
	r := newTestResolver(t, repo, geo.Location{})

	dec, err := r.Resolve(context.Background(), resolveReq("abc12345", uaIPhone))
	require.NoError(t, err)
	assert.Nil(t, dec.Interstitial)
	assert.Equal(t, "myapp://product/42", dec.URL)
}

func TestSelectDestinationPriority(t *testing.T) {
	full := &models.Link{
		OriginalURL:         "https://origin.example.com",
		IOSUniversalLink:    str("https://ul.example.com"),
		AndroidAppLink:      str("https://al.example.com"),
		IOSAppStoreURL:      str("https://apps.apple.com/app/id123"),
		AndroidPlayStoreURL: str("https://play.google.com/store/apps/details?id=x"),
		WebFallbackURL:      str("https://web.example.com"),
		AppScheme:           str("myapp"),
		DeepLinkPath:        str("/p"),
	}

	tests := []struct {
		name       string
		device     string
		strip      func(*models.Link)
		wantURL    string
		wantReason string
	}{
		{"ios universal link first", models.DeviceIOS, func(*models.Link) {},
			"https://ul.example.com", models.ReasonIOSUniversalLink},
		{"ios scheme second", models.DeviceIOS,
			func(l *models.Link) { l.IOSUniversalLink = nil },
			"myapp://p", models.ReasonAppScheme},
		{"ios store third", models.DeviceIOS,
			func(l *models.Link) { l.IOSUniversalLink = nil; l.AppScheme = nil },
			"https://apps.apple.com/app/id123", models.ReasonIOSAppStore},
		{"ios origin last", models.DeviceIOS,
			func(l *models.Link) { l.IOSUniversalLink = nil; l.AppScheme = nil; l.IOSAppStoreURL = nil },
			"https://origin.example.com", models.ReasonOriginalURL},
		{"android app link first", models.DeviceAndroid, func(*models.Link) {},
			"https://al.example.com", models.ReasonAndroidAppLink},
		{"android store third", models.DeviceAndroid,
			func(l *models.Link) { l.AndroidAppLink = nil; l.DeepLinkPath = nil },
			"https://play.google.com/store/apps/details?id=x", models.ReasonAndroidAppStore},
		{"web fallback", models.DeviceWeb, func(*models.Link) {},
			"https://web.example.com", models.ReasonWebFallback},
		{"web origin", models.DeviceWeb,
			func(l *models.Link) { l.WebFallbackURL = nil },
			"https://origin.example.com", models.ReasonOriginalURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := *full
			tt.strip(&l)
			gotURL, gotReason := SelectDestination(&l, tt.device)
			assert.Equal(t, tt.wantURL, gotURL)
			assert.Equal(t, tt.wantReason, gotReason)
		})
	}
}

func TestAppendParametersUTM(t *testing.T) {
	l := &models.Link{
		UTMParameters: &models.UTMParameters{
			Source:   "newsletter",
			Campaign: "spring",
		},
		DeepLinkParameters: map[string]any{"ref": "qr", "v": 2},
	}

	got := AppendParameters("https://example.com/page", models.ReasonOriginalURL, l)
	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "newsletter", q.Get("utm_source"))
	assert.Equal(t, "spring", q.Get("utm_campaign"))
	assert.Empty(t, q.Get("utm_medium"))
	assert.Equal(t, "qr", q.Get("ref"))
	assert.Equal(t, "2", q.Get("v"))
}

func TestAppendParametersNoUTMForPlainHTTP(t *testing.T) {
	l := &models.Link{
		UTMParameters: &models.UTMParameters{Source: "newsletter"},
	}
	got := AppendParameters("http://example.com/page", models.ReasonOriginalURL, l)
	assert.NotContains(t, got, "utm_source")
}

func TestSchemeURLEncodesParameters(t *testing.T) {
	l := &models.Link{
		AppScheme:          str("myapp"),
		DeepLinkPath:       str("/product/42"),
		DeepLinkParameters: map[string]any{"name": "a b"},
	}
	got, ok := SchemeURL(l)
	require.True(t, ok)
	assert.Equal(t, "myapp://product/42?name=a+b", got)

	// UTM parameters never reach custom-scheme URLs.
	l.UTMParameters = &models.UTMParameters{Source: "x"}
	final := AppendParameters(got, models.ReasonAppScheme, l)
	assert.NotContains(t, final, "utm_source")
}

func TestSchemeURLRequiresSchemeAndPath(t *testing.T) {
	_, ok := SchemeURL(&models.Link{AppScheme: str("myapp")})
	assert.False(t, ok)
	_, ok = SchemeURL(&models.Link{DeepLinkPath: str("/p")})
	assert.False(t, ok)
}

func TestResolveSDKSkipsTargeting(t *testing.T) {
	repo := storage.NewMemoryLinkRepo()
	seedLink(t, repo, &models.Link{
		ShortCode:   "abc12345",
		OriginalURL: "https://example.com",
		Targeting:   &models.TargetingRules{Countries: []string{"DE"}},
	})
	r := newTestResolver(t, repo, geo.Location{CountryCode: "US"})

	dec, payload, err := r.ResolveSDK(context.Background(), resolveReq("abc12345", uaIPhone))
	require.NoError(t, err)
	assert.Equal(t, models.ReasonSDKResolve, dec.Reason)
	assert.Equal(t, "abc12345", payload.ShortCode)
	assert.Equal(t, "https://example.com", payload.OriginalURL)
}

func TestLookupWithSlug(t *testing.T) {
	repo := storage.NewMemoryLinkRepo()
	seedLink(t, repo, &models.Link{
		ShortCode:    "abc12345",
		TemplateSlug: str("promo"),
		OriginalURL:  "https://example.com",
	})
	r := newTestResolver(t, repo, geo.Location{})

	_, err := r.Lookup(context.Background(), "promo", "abc12345")
	assert.NoError(t, err)
	_, err = r.Lookup(context.Background(), "other", "abc12345")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenderInterstitial(t *testing.T) {
	var sb strings.Builder
	err := RenderInterstitial(&sb, &Interstitial{
		AppURL:      "myapp://product/42",
		FallbackURL: "https://apps.apple.com/app/id123",
		DelayMs:     1500,
	})
	require.NoError(t, err)

	body := sb.String()
	// The anchor must carry the custom scheme verbatim; html/template's
	// URL filter would otherwise neutralize it to #ZgotmplZ.
	assert.Contains(t, body, `href="myapp://product/42"`)
	assert.NotContains(t, body, "ZgotmplZ")
	assert.Contains(t, body, `href="https://apps.apple.com/app/id123"`)
	assert.Contains(t, body, "window.location.href")
	assert.Contains(t, body, "1500")
	assert.NotContains(t, body, "302")
}

func TestRenderInterstitialEscapes(t *testing.T) {
	var sb strings.Builder
	err := RenderInterstitial(&sb, &Interstitial{
		AppURL:      `myapp://x?q="</script><script>alert(1)</script>`,
		FallbackURL: "https://example.com",
		DelayMs:     1500,
	})
	require.NoError(t, err)
	assert.NotContains(t, sb.String(), "<script>alert(1)</script>")
}

func TestRenderOG(t *testing.T) {
	l := &models.Link{
		OriginalURL:   "https://example.com/p",
		OGTitle:       str("Great Product"),
		OGDescription: str("Buy it <now>"),
		OGImageURL:    str("https://cdn.example.com/p.png"),
	}

	var sb strings.Builder
	err := RenderOG(&sb, NewOGData(l))
	require.NoError(t, err)

	body := sb.String()
	assert.Contains(t, body, `og:title`)
	assert.Contains(t, body, "Great Product")
	assert.Contains(t, body, "Buy it &lt;now&gt;")
	assert.Contains(t, body, "https://cdn.example.com/p.png")
	assert.Contains(t, body, "twitter:card")
	assert.NotContains(t, body, "http-equiv")
}

func TestRenderOGWithRefresh(t *testing.T) {
	l := &models.Link{OriginalURL: "https://example.com/p"}
	og := NewOGData(l)
	og.RefreshURL = "https://example.com/p"

	var sb strings.Builder
	require.NoError(t, RenderOG(&sb, og))
	assert.Contains(t, sb.String(), `http-equiv="refresh"`)
}
