package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBodyLimit bounds request bodies read by DecodeJSON.
const DefaultBodyLimit int64 = 64 * 1024

var (
	// ErrEmptyBody is returned when the request carries no body.
	ErrEmptyBody = errors.New("httpx: request body is empty")
	// ErrBodyTooLarge is returned when the body exceeds the limit.
	ErrBodyTooLarge = errors.New("httpx: request body too large")
	// ErrInvalidJSON is returned when the body is not a single JSON value of the target shape.
	ErrInvalidJSON = errors.New("httpx: invalid JSON body")
)

// ReadLimitedBody reads at most limit bytes from the request body.
func ReadLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, ErrEmptyBody
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("httpx: read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBody
	}
	return data, nil
}

// DecodeJSON reads the body and decodes it into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	data, err := ReadLimitedBody(r, limit)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return nil
}
