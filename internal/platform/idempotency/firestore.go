package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/foodcourt/api/internal/platform/firestore"
	"github.com/foodcourt/api/internal/repositories"
)

const (
	defaultCollection = "idempotency_keys"
	defaultPurgeLimit = 100
)

// FirestoreStore keeps records in a Firestore collection keyed by the hashed scoped key.
type FirestoreStore struct {
	provider *pfirestore.Provider
	docs     *pfirestore.Collection[firestoreRecord]
}

// NewFirestoreStore binds the store to the idempotency_keys collection, or to collection when set.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{
		provider: provider,
		docs:     pfirestore.NewCollection[firestoreRecord](provider, collection),
	}, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := documentID(key)
	var result Reservation
	err := s.provider.RunInTx(ctx, func(ctx context.Context) error {
		stored, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		res, replace, err := claim(stored, key, fingerprint, now.UTC(), ttl)
		result = res
		if err != nil || !replace {
			return err
		}
		return s.docs.Set(ctx, id, fromRecord(res.Record))
	})
	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := documentID(key)
	return s.provider.RunInTx(ctx, func(ctx context.Context) error {
		stored, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		record, err := finish(stored, key, fingerprint, resp, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return s.docs.Set(ctx, id, fromRecord(record))
	})
}

// load reads the record for id, returning nil when there is none.
func (s *FirestoreStore) load(ctx context.Context, id string) (*Record, error) {
	doc, err := s.docs.Get(ctx, id)
	if repositories.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := doc.Data.toRecord()
	return &record, nil
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.docs.Delete(ctx, documentID(key))
}

// Purge deletes up to limit expired records in one transaction.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}
	removed := 0
	err := s.provider.RunInTx(ctx, func(ctx context.Context) error {
		removed = 0
		docs, err := s.docs.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
		})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := s.docs.Delete(ctx, doc.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}
