// Package geo resolves request IPs to a location tuple used for click
// enrichment and country targeting.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location holds the geo tuple attached to click events.
type Location struct {
	CountryCode string
	CountryName string
	Region      string
	City        string
	Latitude    float64
	Longitude   float64
	Timezone    string
}

// Provider looks up geo information for an IP address.
type Provider interface {
	Lookup(ip string) (*Location, error)
	Close() error
}

// MaxMindProvider implements Provider using a MaxMind GeoLite2 database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindProvider opens a GeoLite2 City database.
func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

// Lookup returns geo information for an IP address.
func (m *MaxMindProvider) Lookup(ip string) (*Location, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.City(parsedIP)
	if err != nil {
		return nil, err
	}

	loc := &Location{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
		Timezone:    record.Location.TimeZone,
	}

	if loc.CountryName == "" && loc.CountryCode != "" {
		loc.CountryName = CountryName(loc.CountryCode)
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	if record.City.Names["en"] != "" {
		loc.City = record.City.Names["en"]
	}

	return loc, nil
}

// Close closes the GeoIP database.
func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// NoopProvider is used when no GeoIP database is configured.
type NoopProvider struct{}

func (NoopProvider) Lookup(string) (*Location, error) { return &Location{}, nil }
func (NoopProvider) Close() error                     { return nil }

// StaticProvider returns a fixed location for every lookup. Test helper.
type StaticProvider struct {
	Location Location
}

func (s *StaticProvider) Lookup(string) (*Location, error) {
	loc := s.Location
	return &loc, nil
}

func (s *StaticProvider) Close() error { return nil }
