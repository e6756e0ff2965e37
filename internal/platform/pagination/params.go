// Package pagination parses page_size/page_token query parameters and encodes
// keyset cursors into opaque page tokens.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits page_size.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps page_size to keep list queries bounded.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params is the normalised paging input extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options adjusts the defaults per handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) normalised() (def, max int) {
	max = o.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	if def > max {
		def = max
	}
	return def, max
}

// FromRequest parses page_size and page_token from the request query.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse normalises the paging query values. A non-integer page_size fails
// with ErrInvalidPageSize; zero and negative values fall back to the default
// and oversized values clamp to the maximum. A malformed page_token fails
// with ErrInvalidPageToken.
func Parse(values url.Values, opts Options) (Params, error) {
	def, max := opts.normalised()

	pageSize := def
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		switch {
		case parsed <= 0:
			pageSize = def
		case parsed > max:
			pageSize = max
		default:
			pageSize = parsed
		}
	}

	params := Params{PageSize: pageSize}
	if token := strings.TrimSpace(values.Get("page_token")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = token
		params.Cursor = cursor
	}
	return params, nil
}
