package models

// ErrorKind classifies why a lookup did not produce a location
// An empty ErrorKind means the lookup succeeded
type ErrorKind string

const (
	ErrInvalidAddressFormat ErrorKind = "InvalidAddressFormat"
	ErrAddressNotFound      ErrorKind = "AddressNotFound"
	ErrLookupFailure        ErrorKind = "LookupFailure"
	ErrCacheUnavailable     ErrorKind = "CacheUnavailable"
)

// Location holds the geographic and network data the backend knows about an IP
// ISP, Organization and ASN are best effort and may be empty
type Location struct {
	Country      string  `json:"country"`
	CountryCode  string  `json:"country_code,omitempty"`
	Region       string  `json:"region,omitempty"`
	City         string  `json:"city"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Timezone     string  `json:"timezone,omitempty"`
	PostalCode   string  `json:"postal_code,omitempty"`
	ISP          string  `json:"isp,omitempty"`
	Organization string  `json:"organization,omitempty"`
	ASN          uint    `json:"asn,omitempty"`
}

// LookupResult is the outcome of resolving one address
// It is a plain value (no pointers or slices), so every copy is independent
type LookupResult struct {
	Address string `json:"address"`
	Location
	FromCache  bool      `json:"from_cache"`
	DurationMs float64   `json:"duration_ms"`
	Error      ErrorKind `json:"error,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// OK reports whether the lookup produced a location
func (r LookupResult) OK() bool {
	return r.Error == ""
}

// NewErrorResult builds a result carrying only an error
func NewErrorResult(address string, kind ErrorKind, message string) LookupResult {
	return LookupResult{
		Address: address,
		Error:   kind,
		Message: message,
	}
}

// BatchRequest is the body of POST /v1/batch
type BatchRequest struct {
	Addresses []string `json:"addresses" validate:"required,min=1"`
	ChunkSize int      `json:"chunk_size,omitempty" validate:"gte=0"`
}

// BatchResult holds one result per input address, in input order
type BatchResult struct {
	Results       []LookupResult `json:"results"`
	SuccessCount  int            `json:"success_count"`
	CacheHitCount int            `json:"cache_hit_count"`
	ElapsedMs     float64        `json:"elapsed_ms"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error string `json:"error"`
}
