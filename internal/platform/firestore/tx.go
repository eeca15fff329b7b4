package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
)

type txKey struct{}

// WithTx binds tx to ctx so Collection calls read and write through it.
func WithTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction bound by WithTx.
func TxFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// RunInTx runs fn inside a Firestore transaction bound to ctx. A call made while ctx already
// carries a transaction joins it. Firestore re-runs fn on contention, so fn must keep its side
// effects inside the transaction.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(WithTx(ctx, tx))
	}, firestore.MaxAttempts(txAttempts))
	return WrapError("transaction", err)
}
