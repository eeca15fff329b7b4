// Package pagination parses page_size/page_token query parameters and the keyset cursors behind
// the order list endpoints.
package pagination

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page size")
	ErrInvalidPageToken = errors.New("pagination: invalid page token")
)

// Params is the paging request of one list call.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options sets per-endpoint size limits. Zero values use the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (def, limit int) {
	def, limit = o.DefaultPageSize, o.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, limit), limit
}

// NormalisePageSize maps a non-positive size to the default and caps it at the maximum.
func NormalisePageSize(size int, opts Options) int {
	def, limit := opts.limits()
	if size <= 0 {
		return def
	}
	return min(size, limit)
}

// FromRequest parses the paging parameters of r.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page_size (or its alias size) and page_token.
func Parse(values url.Values, opts Options) (Params, error) {
	raw := strings.TrimSpace(values.Get("page_size"))
	if raw == "" {
		raw = strings.TrimSpace(values.Get("size"))
	}
	var params Params
	if raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, ErrInvalidPageSize
		}
		params.PageSize = size
	}
	params.PageSize = NormalisePageSize(params.PageSize, opts)

	if token := strings.TrimSpace(values.Get("page_token")); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Params{}, err
		}
		params.PageToken, params.Cursor = token, cursor
	}
	return params, nil
}
