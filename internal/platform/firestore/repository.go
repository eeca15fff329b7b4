package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot with its id and write time.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection gives typed access to one collection. Every call runs through the transaction bound
// to ctx by WithTx when there is one.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Get fetches and decodes the document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	var snap *firestore.DocumentSnapshot
	if tx, ok := TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return decode[T](snap)
}

// Set overwrites the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		err = tx.Set(ref, value)
	} else {
		_, err = ref.Set(ctx, value)
	}
	return WrapError(c.op("set"), err)
}

// Create writes the document and fails with a conflict when it already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		err = tx.Create(ref, value)
	} else {
		_, err = ref.Create(ctx, value)
	}
	return WrapError(c.op("create"), err)
}

// Delete removes the document. Missing documents are not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		err = tx.Delete(ref)
	} else {
		_, err = ref.Delete(ctx)
	}
	return WrapError(c.op("delete"), err)
}

// Query runs a collection query and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TxFromContext(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%s: document id is required", c.op("ref"))
	}
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection[T]) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if c.name == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	return "firestore." + c.name + "." + action
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}
