package useragent

import (
	"testing"

	"github.com/linkforty/linkforty/internal/models"
	"github.com/stretchr/testify/assert"
)

const (
	uaIPhoneSafari  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaAndroidChrome = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaMacChrome     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaGmailIOS      = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) GSA/290.0 Mobile/15E148 Safari/604.1"
)

func TestDeviceClass(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"iphone", uaIPhoneSafari, models.DeviceIOS},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", models.DeviceIOS},
		{"ipod", "Mozilla/5.0 (iPod touch; CPU iPhone OS 15_0 like Mac OS X)", models.DeviceIOS},
		{"android", uaAndroidChrome, models.DeviceAndroid},
		{"desktop", uaMacChrome, models.DeviceWeb},
		{"case insensitive", "mozilla/5.0 (IPHONE)", models.DeviceIOS},
		{"empty", "", models.DeviceWeb},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeviceClass(tt.ua))
		})
	}
}

func TestParse(t *testing.T) {
	s := Parse(uaIPhoneSafari)
	assert.Equal(t, models.DeviceIOS, s.DeviceClass)
	assert.Equal(t, "iOS", s.Platform)
	assert.Equal(t, "Safari", s.Browser)

	s = Parse(uaAndroidChrome)
	assert.Equal(t, models.DeviceAndroid, s.DeviceClass)
	assert.Equal(t, "Chrome", s.Browser)
}

func TestIsInAppBrowser(t *testing.T) {
	assert.True(t, IsInAppBrowser(uaGmailIOS))
	assert.True(t, IsInAppBrowser("Mozilla/5.0 (iPhone) [FBAN/FBIOS;FBAV/400.0]"))
	assert.True(t, IsInAppBrowser("Mozilla/5.0 (iPhone) Instagram 300.0"))
	assert.True(t, IsInAppBrowser("Mozilla/5.0 (iPhone) MicroMessenger/8.0"))
	assert.False(t, IsInAppBrowser(uaIPhoneSafari))
	assert.False(t, IsInAppBrowser(uaMacChrome))
}

func TestIsSocialScraper(t *testing.T) {
	assert.True(t, IsSocialScraper("facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)"))
	assert.True(t, IsSocialScraper("Twitterbot/1.0"))
	assert.True(t, IsSocialScraper("Slackbot-LinkExpanding 1.0"))
	assert.True(t, IsSocialScraper("WhatsApp/2.23.20"))
	assert.True(t, IsSocialScraper("Mozilla/5.0 (compatible; Googlebot/2.1)"))
	assert.False(t, IsSocialScraper(uaIPhoneSafari))
	assert.False(t, IsSocialScraper(uaGmailIOS))
}

func TestPrimaryLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"en-US,en;q=0.9", "en"},
		{"de-DE,de;q=0.9,en;q=0.8", "de"},
		{"fr", "fr"},
		{"PT-BR", "pt"},
		{"en;q=0.5", "en"},
		{"", ""},
		{"x", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PrimaryLanguage(tt.header), "header %q", tt.header)
	}
}
