// Package fetcher downloads source pages and feeds over HTTP with per-host
// rate limiting, retries and conditional requests.
package fetcher

import "context"

// Validators are the cache validators from a previous response.
type Validators struct {
	ETag         string
	LastModified string
}

// IsZero reports whether no validators are set.
func (v Validators) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Response is the result of a conditional GET.
type Response struct {
	// NotModified is true when the server answered 304; Body is then nil.
	NotModified bool
	Body        []byte
	Validators  Validators
	// URL is the final URL after redirects.
	URL string
}

// Fetcher retrieves remote documents.
type Fetcher interface {
	// Get fetches url. When prev is non-zero the request is conditional and
	// an unchanged document yields a Response with NotModified set.
	Get(ctx context.Context, url string, prev Validators) (*Response, error)
}
