package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/evyataryagoni/geoquery/internal/models"
)

// CSVStore implements Store using a CSV file loaded fully into memory
//
// CSV Format (header row required, trailing columns optional):
//
//	ip,city,country,country_code,region,latitude,longitude,timezone,postal_code,isp,asn
type CSVStore struct {
	// data maps normalized IP addresses to location information
	data map[string]models.Location
}

// NewCSVStore creates a new CSV store by reading a CSV file
func NewCSVStore(filePath string) (*CSVStore, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // rows may omit trailing columns

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	store := &CSVStore{
		data: make(map[string]models.Location, len(records)-1),
	}

	for i, record := range records {
		// Skip header row
		if i == 0 {
			continue
		}

		ip, location, ok := parseCSVRecord(record)
		if !ok {
			// Skip malformed rows instead of failing the whole load
			continue
		}
		store.data[ip] = location
	}

	return store, nil
}

// parseCSVRecord converts one CSV row into a normalized key and a Location
func parseCSVRecord(record []string) (string, models.Location, bool) {
	if len(record) < 3 {
		return "", models.Location{}, false
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(record[0]))
	if err != nil {
		return "", models.Location{}, false
	}

	col := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	location := models.Location{
		City:        col(1),
		Country:     col(2),
		CountryCode: col(3),
		Region:      col(4),
		Timezone:    col(7),
		PostalCode:  col(8),
		ISP:         col(9),
	}
	location.Latitude, _ = strconv.ParseFloat(col(5), 64)
	location.Longitude, _ = strconv.ParseFloat(col(6), 64)
	if asn, err := strconv.ParseUint(col(10), 10, 32); err == nil {
		location.ASN = uint(asn)
	}

	return addr.Unmap().String(), location, true
}

// FindByIP looks up an IP address in the in-memory map
func (s *CSVStore) FindByIP(ctx context.Context, ip string) (*models.Location, error) {
	location, exists := s.data[ip]
	if !exists {
		return nil, ErrNotFound
	}

	// Return a copy so callers cannot mutate the loaded data
	out := location
	return &out, nil
}

// Each calls fn for every record in the file, stopping at the first error
func (s *CSVStore) Each(fn func(ip string, location models.Location) error) error {
	for ip, location := range s.data {
		if err := fn(ip, location); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of loaded records
func (s *CSVStore) Len() int {
	return len(s.data)
}

// Close is a no-op; all data lives in memory
func (s *CSVStore) Close() error {
	return nil
}
