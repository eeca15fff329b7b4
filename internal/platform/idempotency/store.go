// Package idempotency lets clients retry order and payment mutations safely: a request repeated
// with the same Idempotency-Key gets the first response back instead of running twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Outcome tells the caller of Reserve what to do next.
type Outcome int

const (
	// OutcomeRun means the caller now owns the key and runs the request.
	OutcomeRun Outcome = iota
	// OutcomeReplay means the record holds a response to send back.
	OutcomeReplay
	// OutcomeInFlight means another request owns the key and has not finished.
	OutcomeInFlight
)

// Reservation is the result of Reserve.
type Reservation struct {
	Outcome Outcome
	Record  Record
}

// Record is the persisted state of one key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is the captured handler output.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func (r Record) live(now time.Time) bool {
	return r.ExpiresAt.IsZero() || now.Before(r.ExpiresAt)
}

// claim decides what a Reserve call sees given the stored record, if any. replace is true when
// the caller must persist next as a fresh pending record.
func claim(stored *Record, key, fingerprint string, now time.Time, ttl time.Duration) (res Reservation, replace bool, err error) {
	if stored != nil && stored.live(now) {
		switch {
		case stored.Fingerprint != fingerprint:
			return Reservation{}, false, ErrFingerprintMismatch
		case stored.Status == StatusCompleted:
			return Reservation{Outcome: OutcomeReplay, Record: *stored}, false, nil
		default:
			return Reservation{Outcome: OutcomeInFlight, Record: *stored}, false, nil
		}
	}
	next := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttlOrDefault(ttl)),
	}
	return Reservation{Outcome: OutcomeRun, Record: next}, true, nil
}

// finish turns a pending (or missing) record into a completed one holding resp.
func finish(stored *Record, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) (Record, error) {
	record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	if stored != nil {
		if stored.Fingerprint != fingerprint {
			return Record{}, ErrFingerprintMismatch
		}
		record = *stored
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = replayableHeaders(resp.Headers)
	record.ResponseBody = append([]byte(nil), resp.Body...)
	record.ExpiresAt = now.Add(ttlOrDefault(ttl))
	return record, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// documentID hashes the scoped key so it is safe as a Firestore document id.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hopHeaders are recomputed by net/http and never replayed.
var hopHeaders = map[string]bool{
	"Content-Length":    true,
	"Date":              true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Trailer":           true,
}

func replayableHeaders(header http.Header) map[string][]string {
	var kept map[string][]string
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if hopHeaders[name] {
			continue
		}
		if kept == nil {
			kept = make(map[string][]string, len(header))
		}
		kept[name] = append([]string(nil), values...)
	}
	return kept
}
