// Package attribution implements probabilistic install attribution:
// device fingerprinting, candidate scoring, and the install and conversion
// entry points.
package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/linkforty/linkforty/internal/models"
)

// Scoring weights. They sum to 100 so a confidence score is a percentage.
const (
	WeightIP       = 40
	WeightUA       = 30
	WeightTimezone = 10
	WeightLanguage = 10
	WeightScreen   = 10

	// MatchThreshold is the minimum score for an install to be attributed
	// to a click.
	MatchThreshold = 70
)

// HashSignals computes the canonical device fingerprint: SHA-256 over the
// UTF-8 bytes of the pipe-joined signals in fixed order, empty string for
// missing components.
func HashSignals(s models.FingerprintSignals) string {
	parts := []string{
		s.IPAddress,
		s.UserAgent,
		s.Timezone,
		s.Language,
		intField(s.ScreenWidth),
		intField(s.ScreenHeight),
		s.Platform,
		s.PlatformVersion,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func intField(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// NormalizeIP reduces an IP to its network prefix for matching: IPv4 keeps
// the first three octets, IPv6 the first four groups. Anything else is
// returned unchanged.
func NormalizeIP(ip string) string {
	if strings.Contains(ip, ".") {
		parts := strings.Split(ip, ".")
		if len(parts) == 4 {
			return strings.Join(parts[:3], ".")
		}
		return ip
	}
	if strings.Contains(ip, ":") {
		parts := strings.Split(ip, ":")
		if len(parts) >= 4 {
			return strings.Join(parts[:4], ":")
		}
	}
	return ip
}

var platformTokens = []string{"iPhone", "iPad", "Android", "Windows", "Macintosh", "Linux"}
var browserTokens = []string{"Chrome", "Safari", "Firefox", "Edge", "Opera"}

// NormalizeUA reduces a User-Agent to "platform|browser", lowercased, with
// missing tokens left empty.
func NormalizeUA(ua string) string {
	var platform, browser string
	for _, t := range platformTokens {
		if strings.Contains(ua, t) {
			platform = t
			break
		}
	}
	for _, t := range browserTokens {
		if strings.Contains(ua, t) {
			browser = t
			break
		}
	}
	return strings.ToLower(platform + "|" + browser)
}

// ScoreMatch computes the weighted similarity between an install's signals
// and a candidate click's signals. A component scores zero when either side
// is missing the signal.
func ScoreMatch(install, candidate models.FingerprintSignals) float64 {
	var score float64

	if install.IPAddress != "" && candidate.IPAddress != "" &&
		NormalizeIP(install.IPAddress) == NormalizeIP(candidate.IPAddress) {
		score += WeightIP
	}
	if install.UserAgent != "" && candidate.UserAgent != "" &&
		NormalizeUA(install.UserAgent) == NormalizeUA(candidate.UserAgent) {
		score += WeightUA
	}
	if install.Timezone != "" && candidate.Timezone != "" &&
		install.Timezone == candidate.Timezone {
		score += WeightTimezone
	}
	if install.Language != "" && candidate.Language != "" &&
		normalizeLang(install.Language) == normalizeLang(candidate.Language) {
		score += WeightLanguage
	}
	if install.ScreenWidth > 0 && candidate.ScreenWidth > 0 &&
		install.ScreenWidth == candidate.ScreenWidth &&
		install.ScreenHeight == candidate.ScreenHeight {
		score += WeightScreen
	}

	return score
}

func normalizeLang(lang string) string {
	if len(lang) > 2 {
		lang = lang[:2]
	}
	return strings.ToLower(lang)
}

// MatchedFactors lists which components contributed to a score, in fixed
// order.
func MatchedFactors(install, candidate models.FingerprintSignals) []string {
	factors := make([]string, 0, 5)
	if install.IPAddress != "" && candidate.IPAddress != "" &&
		NormalizeIP(install.IPAddress) == NormalizeIP(candidate.IPAddress) {
		factors = append(factors, "ip")
	}
	if install.UserAgent != "" && candidate.UserAgent != "" &&
		NormalizeUA(install.UserAgent) == NormalizeUA(candidate.UserAgent) {
		factors = append(factors, "user_agent")
	}
	if install.Timezone != "" && candidate.Timezone != "" &&
		install.Timezone == candidate.Timezone {
		factors = append(factors, "timezone")
	}
	if install.Language != "" && candidate.Language != "" &&
		normalizeLang(install.Language) == normalizeLang(candidate.Language) {
		factors = append(factors, "language")
	}
	if install.ScreenWidth > 0 && candidate.ScreenWidth > 0 &&
		install.ScreenWidth == candidate.ScreenWidth &&
		install.ScreenHeight == candidate.ScreenHeight {
		factors = append(factors, "screen")
	}
	return factors
}
