package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/evyataryagoni/geoquery/internal/cache"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/models"
	"github.com/evyataryagoni/geoquery/internal/stats"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultMaxBatchSize caps addresses per POST /v1/batch
	DefaultMaxBatchSize = 1000

	maxBodyBytes = 1 << 20
)

// GeoQuerier is the query engine as seen by the HTTP layer
// *service.GeoService is the production implementation
type GeoQuerier interface {
	QueryOne(ctx context.Context, address string) models.LookupResult
	QueryBatch(ctx context.Context, addresses []string, chunkSize int) models.BatchResult
	Stats(ctx context.Context) stats.Snapshot
	CacheBackend() cache.Kind
}

// GeoHandler handles HTTP requests for the query engine
// This is the handler layer - it deals with HTTP concerns only
//
// Responsibilities:
//   - Parse and validate HTTP requests
//   - Call the query engine
//   - Map result error kinds to status codes
//   - Format HTTP responses (JSON)
type GeoHandler struct {
	geo          GeoQuerier
	validator    *validator.Validate
	maxBatchSize int
	logger       *logger.Logger
}

// NewGeoHandler creates a handler; maxBatchSize <= 0 selects DefaultMaxBatchSize
func NewGeoHandler(geo GeoQuerier, maxBatchSize int, log *logger.Logger) *GeoHandler {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &GeoHandler{
		geo:          geo,
		validator:    validator.New(),
		maxBatchSize: maxBatchSize,
		logger:       log.WithComponent("GeoHandler"),
	}
}

// Lookup handles GET /v1/lookup?ip=<ip>
//
// Status codes:
//   - 200 location found
//   - 400 missing or malformed address
//   - 404 address not in the backend
//   - 502 backend failure or timeout
func (h *GeoHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		h.respondError(w, http.StatusBadRequest, "Missing 'ip' query parameter")
		return
	}

	result := h.geo.QueryOne(r.Context(), ip)
	h.respondJSON(w, statusFor(result.Error), result)
}

// Batch handles POST /v1/batch
// Item failures are reported per result; the batch itself answers 200
func (h *GeoHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if err := h.validator.Var(req.Addresses, fmt.Sprintf("max=%d", h.maxBatchSize)); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("At most %d addresses per batch", h.maxBatchSize))
		return
	}

	result := h.geo.QueryBatch(r.Context(), req.Addresses, req.ChunkSize)
	h.respondJSON(w, http.StatusOK, result)
}

// Stats handles GET /v1/stats
func (h *GeoHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.geo.Stats(r.Context()))
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status       string `json:"status"`
	CacheBackend string `json:"cache_backend"`
}

// Health handles GET /health
func (h *GeoHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		CacheBackend: string(h.geo.CacheBackend()),
	})
}

func statusFor(kind models.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case models.ErrInvalidAddressFormat:
		return http.StatusBadRequest
	case models.ErrAddressNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Addresses":
		return "'addresses' must be a non-empty list"
	case "ChunkSize":
		return "'chunk_size' must not be negative"
	}
	return fmt.Sprintf("Invalid field %s", fe.Field())
}

// respondJSON writes a JSON response with the given status code
func (h *GeoHandler) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; all we can do is log
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// respondError writes an error response with consistent formatting
func (h *GeoHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, models.ErrorResponse{Error: message})
}
