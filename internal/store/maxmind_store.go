package store

import (
	"context"
	"fmt"
	"net"

	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// asnRecord mirrors the GeoLite2-ASN layout
type asnRecord struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// MaxMindStore implements Store on memory-mapped MaxMind databases
// The City database is required; the ASN database is optional and only fills ISP fields
type MaxMindStore struct {
	cityDB *geoip2.Reader
	asnDB  *maxminddb.Reader
	lang   string
}

// NewMaxMindStore opens the City database and, when asnPath is set, the ASN database
func NewMaxMindStore(cityPath, asnPath string) (*MaxMindStore, error) {
	cityDB, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open City database: %w", err)
	}

	s := &MaxMindStore{cityDB: cityDB, lang: "en"}

	if asnPath != "" {
		asnDB, err := maxminddb.Open(asnPath)
		if err != nil {
			cityDB.Close()
			return nil, fmt.Errorf("failed to open ASN database: %w", err)
		}
		if asnDB.Metadata.DatabaseType != "GeoLite2-ASN" && asnDB.Metadata.DatabaseType != "GeoIP2-ISP" {
			asnDB.Close()
			cityDB.Close()
			return nil, fmt.Errorf("unexpected ASN database type %q", asnDB.Metadata.DatabaseType)
		}
		s.asnDB = asnDB
	}

	return s, nil
}

// FindByIP reads the City record and merges ASN data when available
// mmdb reads are in-memory, so ctx is not consulted
func (s *MaxMindStore) FindByIP(ctx context.Context, ip string) (*models.Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address %q", ip)
	}

	city, err := s.cityDB.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("City lookup failed: %w", err)
	}
	// A zero record means the address is not in any network of the database
	if city.Country.GeoNameID == 0 && city.City.GeoNameID == 0 && city.RegisteredCountry.GeoNameID == 0 {
		return nil, ErrNotFound
	}

	location := &models.Location{
		Country:     city.Country.Names[s.lang],
		CountryCode: city.Country.IsoCode,
		City:        city.City.Names[s.lang],
		Latitude:    city.Location.Latitude,
		Longitude:   city.Location.Longitude,
		Timezone:    city.Location.TimeZone,
		PostalCode:  city.Postal.Code,
	}
	if location.Country == "" {
		location.Country = city.RegisteredCountry.Names[s.lang]
		location.CountryCode = city.RegisteredCountry.IsoCode
	}
	if len(city.Subdivisions) > 0 {
		location.Region = city.Subdivisions[0].Names[s.lang]
	}

	if s.asnDB != nil {
		var asn asnRecord
		_, ok, err := s.asnDB.LookupNetwork(parsed, &asn)
		// ISP data is best effort; a failed ASN read never fails the lookup
		if err == nil && ok {
			location.ASN = asn.AutonomousSystemNumber
			location.ISP = asn.AutonomousSystemOrganization
			location.Organization = asn.AutonomousSystemOrganization
		}
	}

	return location, nil
}

// Close releases both memory maps
func (s *MaxMindStore) Close() error {
	var firstErr error
	if s.asnDB != nil {
		if err := s.asnDB.Close(); err != nil {
			firstErr = err
		}
		s.asnDB = nil
	}
	if s.cityDB != nil {
		if err := s.cityDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.cityDB = nil
	}
	return firstErr
}
