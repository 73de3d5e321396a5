package resolver

import (
	"html/template"
	"io"

	"github.com/linkforty/linkforty/internal/models"
)

// interstitialTmpl escapes the in-app browser: assign the custom scheme
// immediately, fall back to the store after the delay, and expose both as
// plain links. html/template's URL filter only admits http/https/mailto in
// href context, so the custom-scheme URL is marked template.URL; it is
// assembled server-side from the link's validated app_scheme and
// deep_link_path, never from request input, and attribute escaping still
// applies to its content.
var interstitialTmpl = template.Must(template.New("interstitial").Funcs(template.FuncMap{
	"schemeURL": func(s string) template.URL { return template.URL(s) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Opening app...</title>
</head>
<body>
<p>Opening app...</p>
<p><a href="{{schemeURL .AppURL}}">Open in app</a></p>
<p><a href="{{.FallbackURL}}">Continue in browser</a></p>
<script>
window.location.href = "{{.AppURL}}";
setTimeout(function() {
	window.location.replace("{{.FallbackURL}}");
}, {{.DelayMs}});
</script>
</body>
</html>
`))

// RenderInterstitial writes the in-app browser escape page.
func RenderInterstitial(w io.Writer, in *Interstitial) error {
	return interstitialTmpl.Execute(w, in)
}

// OGData holds the values rendered into the scraper and preview pages.
type OGData struct {
	Title       string
	Description string
	ImageURL    string
	URL         string

	// RefreshURL, when set, adds a meta refresh to the destination. Used
	// by the preview endpoint, never for scrapers.
	RefreshURL string
}

// NewOGData derives preview metadata from a link, falling back to the
// origin URL for missing fields.
func NewOGData(l *models.Link) *OGData {
	d := &OGData{
		Title: l.OriginalURL,
		URL:   l.OriginalURL,
	}
	if l.OGTitle != nil && *l.OGTitle != "" {
		d.Title = *l.OGTitle
	}
	if l.OGDescription != nil && *l.OGDescription != "" {
		d.Description = *l.OGDescription
	}
	if l.OGImageURL != nil && *l.OGImageURL != "" {
		d.ImageURL = *l.OGImageURL
	}
	return d
}

var ogTmpl = template.Must(template.New("og").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<meta property="og:title" content="{{.Title}}">
{{- if .Description}}
<meta property="og:description" content="{{.Description}}">
{{- end}}
{{- if .ImageURL}}
<meta property="og:image" content="{{.ImageURL}}">
{{- end}}
<meta property="og:url" content="{{.URL}}">
<meta property="og:type" content="website">
<meta name="twitter:card" content="summary_large_image">
<meta name="twitter:title" content="{{.Title}}">
{{- if .Description}}
<meta name="twitter:description" content="{{.Description}}">
{{- end}}
{{- if .ImageURL}}
<meta name="twitter:image" content="{{.ImageURL}}">
{{- end}}
{{- if .RefreshURL}}
<meta http-equiv="refresh" content="0;url={{.RefreshURL}}">
{{- end}}
</head>
<body>
<p><a href="{{.URL}}">{{.Title}}</a></p>
</body>
</html>
`))

// RenderOG writes the Open Graph page served to scrapers and the preview
// endpoint.
func RenderOG(w io.Writer, d *OGData) error {
	return ogTmpl.Execute(w, d)
}
