package store

import (
	"context"
	"sync"
	"time"

	"github.com/evyataryagoni/geoquery/internal/models"
)

// MockStore is a test double for the Store interface
// It is safe for concurrent use and records how many lookups ran at the same time
type MockStore struct {
	mu sync.Mutex

	// Data holds the mock data (IP address -> location mapping)
	Data map[string]models.Location

	// Control behavior for error scenarios
	FindByIPError error            // returned for every address when set
	Errors        map[string]error // per-address errors
	Panics        map[string]bool  // addresses whose lookup panics
	Delay         time.Duration    // simulated blocking time per lookup
	IgnoreContext bool             // keep sleeping past ctx cancellation, like a hung driver
	CloseError    error

	// Track method calls for verification in tests
	FindByIPCalls []string
	CloseCalled   bool

	inFlight     int
	peakInFlight int
}

// NewMockStore creates a mock store with sample test data
func NewMockStore() *MockStore {
	return &MockStore{
		Data: map[string]models.Location{
			"8.8.8.8": {
				City:        "Mountain View",
				Country:     "United States",
				CountryCode: "US",
				Latitude:    37.386,
				Longitude:   -122.0838,
				Timezone:    "America/Los_Angeles",
				ISP:         "Google LLC",
			},
			"1.1.1.1": {
				City:        "Sydney",
				Country:     "Australia",
				CountryCode: "AU",
				Latitude:    -33.8688,
				Longitude:   151.2093,
				Timezone:    "Australia/Sydney",
				ISP:         "Cloudflare",
			},
			"2001:4860:4860::8888": {
				City:        "Mountain View",
				Country:     "United States",
				CountryCode: "US",
			},
		},
		Errors:        map[string]error{},
		Panics:        map[string]bool{},
		FindByIPCalls: []string{},
	}
}

// NewEmptyMockStore creates a mock store with no data
func NewEmptyMockStore() *MockStore {
	m := NewMockStore()
	m.Data = map[string]models.Location{}
	return m
}

// Add registers a location for ip
func (m *MockStore) Add(ip string, location models.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[ip] = location
}

// FindByIP implements the Store interface
func (m *MockStore) FindByIP(ctx context.Context, ip string) (*models.Location, error) {
	m.mu.Lock()
	m.FindByIPCalls = append(m.FindByIPCalls, ip)
	m.inFlight++
	if m.inFlight > m.peakInFlight {
		m.peakInFlight = m.inFlight
	}
	delay := m.Delay
	ignoreCtx := m.IgnoreContext
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		if ignoreCtx {
			time.Sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Panics[ip] {
		panic("mock store: simulated backend crash for " + ip)
	}
	if m.FindByIPError != nil {
		return nil, m.FindByIPError
	}
	if err, ok := m.Errors[ip]; ok {
		return nil, err
	}

	location, exists := m.Data[ip]
	if !exists {
		return nil, ErrNotFound
	}

	return &location, nil
}

// Calls returns the number of FindByIP invocations so far
func (m *MockStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.FindByIPCalls)
}

// CallsFor returns how many times ip was looked up
func (m *MockStore) CallsFor(ip string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.FindByIPCalls {
		if c == ip {
			n++
		}
	}
	return n
}

// PeakConcurrency returns the highest number of simultaneous FindByIP calls observed
func (m *MockStore) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakInFlight
}

// Close implements the Store interface
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return m.CloseError
}
