package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linkforty/linkforty/internal/attribution"
	"github.com/linkforty/linkforty/internal/config"
	"github.com/linkforty/linkforty/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	uaIPhoneSafari = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Version/17.0 Safari/604.1"
	uaFacebookBot  = "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)"
)

func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	handler := NewServer(&Dependencies{
		Ctx:    context.Background(),
		Config: &config.Config{},
		Logger: zap.NewNop(),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return srv, client
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createLink(t *testing.T, client *http.Client, base string, req map[string]any) *models.Link {
	t.Helper()
	resp := postJSON(t, client, base+"/api/v1/links", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var link models.Link
	decodeBody(t, resp, &link)
	return &link
}

func TestHealth(t *testing.T) {
	srv, client := newTestServer(t)

	resp, err := client.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestLinkLifecycle(t *testing.T) {
	srv, client := newTestServer(t)

	link := createLink(t, client, srv.URL, map[string]any{
		"original_url": "https://example.com/product",
	})
	assert.Len(t, link.ShortCode, 8)
	assert.True(t, link.IsActive)

	resp, err := client.Get(srv.URL + "/api/v1/links/" + link.ID.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Link
	decodeBody(t, resp, &got)
	assert.Equal(t, link.ShortCode, got.ShortCode)

	update, err := http.NewRequest(http.MethodPut,
		srv.URL+"/api/v1/links/"+link.ID.String(),
		strings.NewReader(`{"original_url": "https://example.com/v2"}`))
	require.NoError(t, err)
	resp, err = client.Do(update)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &got)
	assert.Equal(t, "https://example.com/v2", got.OriginalURL)

	del, err := http.NewRequest(http.MethodDelete,
		srv.URL+"/api/v1/links/"+link.ID.String(), nil)
	require.NoError(t, err)
	resp, err = client.Do(del)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/api/v1/links/" + link.ID.String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateLinkValidation(t *testing.T) {
	srv, client := newTestServer(t)

	resp := postJSON(t, client, srv.URL+"/api/v1/links", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRedirectUniversalLink(t *testing.T) {
	srv, client := newTestServer(t)

	link := createLink(t, client, srv.URL, map[string]any{
		"original_url":       "https://example.com/product",
		"ios_universal_link": "https://app.example.com/product",
	})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/"+link.ShortCode, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", uaIPhoneSafari)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://app.example.com/product", resp.Header.Get("Location"))
}

func TestRedirectUnknownCode(t *testing.T) {
	srv, client := newTestServer(t)

	resp, err := client.Get(srv.URL + "/nope1234")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScraperGetsPreviewHTML(t *testing.T) {
	srv, client := newTestServer(t)

	link := createLink(t, client, srv.URL, map[string]any{
		"original_url": "https://example.com/product",
		"og_title":     "Check this out",
	})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/"+link.ShortCode, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", uaFacebookBot)

	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `og:title`)
	assert.Contains(t, string(body), "Check this out")
	assert.Empty(t, resp.Header.Get("Location"))
}

func TestPreviewEndpoint(t *testing.T) {
	srv, client := newTestServer(t)

	link := createLink(t, client, srv.URL, map[string]any{
		"original_url": "https://example.com/product",
	})

	resp, err := client.Get(srv.URL + "/" + link.ShortCode + "/preview")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "https://example.com/product")
}

func TestSDKResolve(t *testing.T) {
	srv, client := newTestServer(t)

	link := createLink(t, client, srv.URL, map[string]any{
		"original_url":   "https://example.com/product",
		"app_scheme":     "myapp",
		"deep_link_path": "/product/42",
	})

	resp, err := client.Get(srv.URL + "/api/sdk/v1/resolve/" + link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload models.DeepLinkData
	decodeBody(t, resp, &payload)
	assert.Equal(t, link.ShortCode, payload.ShortCode)
	assert.Equal(t, "https://example.com/product", payload.OriginalURL)
}

func TestInstallAttributionRoundTrip(t *testing.T) {
	srv, client := newTestServer(t)

	link := createLink(t, client, srv.URL, map[string]any{
		"original_url":   "https://example.com/product",
		"app_scheme":     "myapp",
		"deep_link_path": "/product/42",
	})

	click, err := http.NewRequest(http.MethodGet, srv.URL+"/"+link.ShortCode, nil)
	require.NoError(t, err)
	click.Header.Set("User-Agent", uaIPhoneSafari)
	resp, err := client.Do(click)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	// Click persistence is asynchronous; retry the install until the
	// fingerprint row lands.
	var install models.InstallResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = postJSON(t, client, srv.URL+"/api/sdk/v1/install", map[string]any{
			"user_agent": uaIPhoneSafari,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeBody(t, resp, &install)
		if install.Attributed || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	require.True(t, install.Attributed, "install never attributed")
	assert.GreaterOrEqual(t, install.ConfidenceScore, 70.0)
	assert.Contains(t, install.MatchedFactors, "ip")
	assert.Contains(t, install.MatchedFactors, "user_agent")
	assert.Equal(t, link.ShortCode, install.DeepLinkData["short_code"])

	// The stored install is retrievable by its fingerprint hash. The server
	// saw the click and the install from the same loopback address.
	hash := attribution.HashSignals(models.FingerprintSignals{
		IPAddress: "127.0.0.1",
		UserAgent: uaIPhoneSafari,
	})
	resp, err = client.Get(srv.URL + "/api/sdk/v1/attribution/" + hash)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var stored models.InstallEvent
	decodeBody(t, resp, &stored)
	assert.Equal(t, install.InstallID, stored.ID)

	resp = postJSON(t, client, srv.URL+"/api/sdk/v1/event", map[string]any{
		"install_id": install.InstallID,
		"event_name": "purchase",
		"properties": map[string]any{"value": 9.99},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookLifecycle(t *testing.T) {
	srv, client := newTestServer(t)

	resp := postJSON(t, client, srv.URL+"/api/v1/webhooks", map[string]any{
		"name":   "clicks",
		"url":    "https://hooks.example.com/x",
		"events": []string{models.EventClick},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Webhook models.Webhook `json:"webhook"`
		Secret  string         `json:"secret"`
	}
	decodeBody(t, resp, &created)
	assert.Len(t, created.Secret, 64)

	// The stored representation never carries the secret.
	resp, err := client.Get(srv.URL + "/api/v1/webhooks/" + created.Webhook.ID.String())
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(raw), created.Secret)
	assert.NotContains(t, string(raw), "secret")

	resp = postJSON(t, client, srv.URL+"/api/v1/webhooks/"+created.Webhook.ID.String()+"/rotate-secret", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rotated map[string]string
	decodeBody(t, resp, &rotated)
	assert.Len(t, rotated["secret"], 64)
	assert.NotEqual(t, created.Secret, rotated["secret"])

	del, err := http.NewRequest(http.MethodDelete,
		srv.URL+"/api/v1/webhooks/"+created.Webhook.ID.String(), nil)
	require.NoError(t, err)
	resp, err = client.Do(del)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Get(srv.URL + "/api/v1/webhooks/" + created.Webhook.ID.String())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvalidUUIDParam(t *testing.T) {
	srv, client := newTestServer(t)

	resp, err := client.Get(srv.URL + "/api/v1/links/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTemplateSlugRouting(t *testing.T) {
	srv, client := newTestServer(t)

	resp := postJSON(t, client, srv.URL+"/api/v1/templates", map[string]any{
		"slug": "promo",
		"name": "Promotions",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	link := createLink(t, client, srv.URL, map[string]any{
		"original_url":  "https://example.com/product",
		"template_slug": "promo",
	})

	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/promo/%s", srv.URL, link.ShortCode), nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/product", resp.Header.Get("Location"))

	// A mismatched slug must not resolve the code.
	resp, err = client.Get(srv.URL + "/other/" + link.ShortCode)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
