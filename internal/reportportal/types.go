package reportportal

import (
	"errors"
	"fmt"

	"github.com/rpinsight/rpinsight/internal/entity"
)

var (
	// ErrAuthentication indicates the API token was rejected (HTTP 401).
	ErrAuthentication = errors.New("reportportal: authentication failed")

	// ErrRateLimited indicates the server throttled the request (HTTP 429).
	ErrRateLimited = errors.New("reportportal: rate limit exceeded")
)

// APIError is returned for non-auth, non-throttle HTTP failures.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reportportal: API error (status %d): %s", e.StatusCode, e.Body)
}

// PageRequest addresses one page of a paginated listing.
// Number is zero-based.
type PageRequest struct {
	Number int
	Size   int
}

// Page is one page of API results.
type Page struct {
	Items  []entity.Record
	Total  int
	Number int
	Size   int
}

// HasNext reports whether another page follows this one.
func (p *Page) HasNext() bool {
	return (p.Number+1)*p.Size < p.Total
}

// pageResponse mirrors the wire shape of paginated endpoints.
type pageResponse struct {
	Content       []entity.Record `json:"content"`
	TotalElements int             `json:"totalElements"`
}
