package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/evyataryagoni/geoquery/internal/cache"
	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/evyataryagoni/geoquery/internal/pool"
	"github.com/evyataryagoni/geoquery/internal/service"
	"github.com/evyataryagoni/geoquery/internal/stats"
	"github.com/evyataryagoni/geoquery/internal/store"
)

// newTestHandler wires a real GeoService over the given mock backend
func newTestHandler(t *testing.T, backend *store.MockStore, maxBatchSize int) *GeoHandler {
	t.Helper()

	p, err := pool.New(backend, pool.Config{Size: 4}, nil)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	svc, err := service.New(service.Deps{
		Backend: backend,
		Cache:   cache.NewMemoryCache(0, 0),
		Pool:    p,
	}, service.Options{Pacing: -1})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	return NewGeoHandler(svc, maxBatchSize, nil)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

// TestGeoHandler_Lookup_Success tests successful response
func TestGeoHandler_Lookup_Success(t *testing.T) {
	h := newTestHandler(t, store.NewMockStore(), 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/lookup?ip=8.8.8.8", nil)
	rec := httptest.NewRecorder()

	h.Lookup(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	result := decode[models.LookupResult](t, rec)
	if result.City != "Mountain View" {
		t.Errorf("expected city 'Mountain View', got '%s'", result.City)
	}
	if result.Country != "United States" {
		t.Errorf("expected country 'United States', got '%s'", result.Country)
	}
	if result.FromCache {
		t.Error("first lookup must not come from cache")
	}
}

// TestGeoHandler_Lookup_StatusCodes tests the mapping from error kind to status
func TestGeoHandler_Lookup_StatusCodes(t *testing.T) {
	backend := store.NewMockStore()
	backend.Errors["1.1.1.1"] = errors.New("database connection failed")
	h := newTestHandler(t, backend, 0)

	tests := []struct {
		name           string
		url            string
		expectedStatus int
		expectedKind   models.ErrorKind
	}{
		{"found", "/v1/lookup?ip=8.8.8.8", http.StatusOK, ""},
		{"invalid", "/v1/lookup?ip=not-an-ip", http.StatusBadRequest, models.ErrInvalidAddressFormat},
		{"not found", "/v1/lookup?ip=192.168.1.1", http.StatusNotFound, models.ErrAddressNotFound},
		{"backend failure", "/v1/lookup?ip=1.1.1.1", http.StatusBadGateway, models.ErrLookupFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Lookup(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			result := decode[models.LookupResult](t, rec)
			if result.Error != tt.expectedKind {
				t.Errorf("expected error kind %q, got %q", tt.expectedKind, result.Error)
			}
		})
	}
}

// TestGeoHandler_Lookup_MissingParameter tests missing IP parameter
func TestGeoHandler_Lookup_MissingParameter(t *testing.T) {
	backend := store.NewMockStore()
	h := newTestHandler(t, backend, 0)

	rec := httptest.NewRecorder()
	h.Lookup(rec, httptest.NewRequest(http.MethodGet, "/v1/lookup", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	errResp := decode[models.ErrorResponse](t, rec)
	if errResp.Error != "Missing 'ip' query parameter" {
		t.Errorf("unexpected error message: %s", errResp.Error)
	}
	if backend.Calls() != 0 {
		t.Errorf("expected no backend calls, got %d", backend.Calls())
	}
}

// TestGeoHandler_Batch_Success tests a mixed batch answers 200 with per-item errors
func TestGeoHandler_Batch_Success(t *testing.T) {
	h := newTestHandler(t, store.NewMockStore(), 0)

	body := `{"addresses":["8.8.8.8","1.1.1.1","not-an-ip"],"chunk_size":2}`
	rec := httptest.NewRecorder()
	h.Batch(rec, httptest.NewRequest(http.MethodPost, "/v1/batch", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	result := decode[models.BatchResult](t, rec)
	if len(result.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Results))
	}
	if result.SuccessCount != 2 {
		t.Errorf("expected success_count 2, got %d", result.SuccessCount)
	}
	if result.Results[2].Error != models.ErrInvalidAddressFormat {
		t.Errorf("expected third result to be invalid, got %q", result.Results[2].Error)
	}
	if result.Results[0].Address != "8.8.8.8" || result.Results[1].Address != "1.1.1.1" {
		t.Errorf("results out of order: %+v", result.Results)
	}
}

// TestGeoHandler_Batch_BadRequests tests body validation
func TestGeoHandler_Batch_BadRequests(t *testing.T) {
	tooMany := make([]string, 4)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("%q", fmt.Sprintf("10.0.0.%d", i))
	}

	tests := []struct {
		name            string
		body            string
		expectedStatus  int
		expectedMessage string
	}{
		{"invalid json", `{"addresses":`, http.StatusBadRequest, "Invalid JSON body"},
		{"unknown field", `{"ips":["8.8.8.8"]}`, http.StatusBadRequest, "Invalid JSON body"},
		{"missing addresses", `{}`, http.StatusBadRequest, "'addresses' must be a non-empty list"},
		{"empty addresses", `{"addresses":[]}`, http.StatusBadRequest, "'addresses' must be a non-empty list"},
		{"negative chunk", `{"addresses":["8.8.8.8"],"chunk_size":-1}`, http.StatusBadRequest, "'chunk_size' must not be negative"},
		{"too many", `{"addresses":[` + strings.Join(tooMany, ",") + `]}`, http.StatusBadRequest, "At most 3 addresses per batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := store.NewMockStore()
			h := newTestHandler(t, backend, 3)

			rec := httptest.NewRecorder()
			h.Batch(rec, httptest.NewRequest(http.MethodPost, "/v1/batch", strings.NewReader(tt.body)))

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			errResp := decode[models.ErrorResponse](t, rec)
			if errResp.Error != tt.expectedMessage {
				t.Errorf("expected message %q, got %q", tt.expectedMessage, errResp.Error)
			}
			if backend.Calls() != 0 {
				t.Errorf("rejected batch must not reach the backend, got %d calls", backend.Calls())
			}
		})
	}
}

// TestGeoHandler_Stats tests the stats snapshot endpoint
func TestGeoHandler_Stats(t *testing.T) {
	h := newTestHandler(t, store.NewMockStore(), 0)

	h.Lookup(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/lookup?ip=8.8.8.8", nil))
	h.Lookup(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/lookup?ip=8.8.8.8", nil))

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	snap := decode[stats.Snapshot](t, rec)
	if snap.Queries != 2 || snap.CacheHits != 1 || snap.CacheMisses != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.CacheBackend != "memory" {
		t.Errorf("expected cache_backend memory, got %q", snap.CacheBackend)
	}
	if snap.PoolSize != 4 {
		t.Errorf("expected pool_size 4, got %d", snap.PoolSize)
	}
}

// TestGeoHandler_Health tests the health endpoint reports the cache backend
func TestGeoHandler_Health(t *testing.T) {
	h := newTestHandler(t, store.NewMockStore(), 0)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	health := decode[HealthResponse](t, rec)
	if health.Status != "ok" || health.CacheBackend != "memory" {
		t.Errorf("unexpected health response: %+v", health)
	}
}
