package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/linkforty/linkforty/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestHashSignals(t *testing.T) {
	s := models.FingerprintSignals{
		IPAddress:       "1.2.3.4",
		UserAgent:       "ua",
		Timezone:        "America/New_York",
		Language:        "en",
		ScreenWidth:     390,
		ScreenHeight:    844,
		Platform:        "iOS",
		PlatformVersion: "17.0",
	}

	sum := sha256.Sum256([]byte("1.2.3.4|ua|America/New_York|en|390|844|iOS|17.0"))
	assert.Equal(t, hex.EncodeToString(sum[:]), HashSignals(s))
}

func TestHashSignalsMissingComponents(t *testing.T) {
	s := models.FingerprintSignals{IPAddress: "1.2.3.4", UserAgent: "ua"}

	sum := sha256.Sum256([]byte("1.2.3.4|ua||||||"))
	assert.Equal(t, hex.EncodeToString(sum[:]), HashSignals(s))
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.42", "192.168.1"},
		{"192.168.1.99", "192.168.1"},
		{"2001:db8:85a3:8d3:1319:8a2e:370:7348", "2001:db8:85a3:8d3"},
		{"not-an-ip", "not-an-ip"},
		{"1.2.3", "1.2.3"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeIP(tt.in), "ip %q", tt.in)
	}
}

func TestNormalizeUA(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"iphone safari", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Version/17.0 Safari/604.1", "iphone|safari"},
		{"android chrome", "Mozilla/5.0 (Linux; Android 14) Chrome/120.0 Mobile Safari/537.36", "android|chrome"},
		{"windows edge", "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0 Edge/120.0", "windows|chrome"},
		{"no tokens", "curl/8.0", "|"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeUA(tt.ua))
		})
	}
}

func TestScoreMatchWeights(t *testing.T) {
	assert.Equal(t, 100, WeightIP+WeightUA+WeightTimezone+WeightLanguage+WeightScreen)
}

func TestScoreMatchFullMatch(t *testing.T) {
	install := models.FingerprintSignals{
		IPAddress:    "203.0.113.10",
		UserAgent:    "Mozilla/5.0 (iPhone) Safari/604.1",
		Timezone:     "Europe/Berlin",
		Language:     "de-DE",
		ScreenWidth:  390,
		ScreenHeight: 844,
	}
	candidate := models.FingerprintSignals{
		IPAddress:    "203.0.113.99", // same /24
		UserAgent:    "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Safari/604.1",
		Timezone:     "Europe/Berlin",
		Language:     "de",
		ScreenWidth:  390,
		ScreenHeight: 844,
	}

	assert.Equal(t, 100.0, ScoreMatch(install, candidate))
	assert.Equal(t, []string{"ip", "user_agent", "timezone", "language", "screen"},
		MatchedFactors(install, candidate))
}

func TestScoreMatchPartial(t *testing.T) {
	install := models.FingerprintSignals{
		IPAddress: "203.0.113.10",
		UserAgent: "Mozilla/5.0 (iPhone) Safari/604.1",
		Timezone:  "Europe/Berlin",
	}
	candidate := models.FingerprintSignals{
		IPAddress: "203.0.113.99",
		UserAgent: "Mozilla/5.0 (iPhone) Safari/604.1",
		Timezone:  "America/New_York",
	}

	// IP (40) + UA (30); timezone differs, language and screen missing.
	assert.Equal(t, 70.0, ScoreMatch(install, candidate))
	assert.Equal(t, []string{"ip", "user_agent"}, MatchedFactors(install, candidate))
}

func TestScoreMatchMissingSignalScoresZero(t *testing.T) {
	install := models.FingerprintSignals{IPAddress: "203.0.113.10"}
	candidate := models.FingerprintSignals{
		IPAddress: "", // missing on one side
		Timezone:  "Europe/Berlin",
	}
	assert.Equal(t, 0.0, ScoreMatch(install, candidate))
	assert.Empty(t, MatchedFactors(install, candidate))
}

func TestScoreMatchDifferentSubnet(t *testing.T) {
	install := models.FingerprintSignals{IPAddress: "203.0.113.10"}
	candidate := models.FingerprintSignals{IPAddress: "203.0.114.10"}
	assert.Equal(t, 0.0, ScoreMatch(install, candidate))
}
