package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res, err := store.Reserve(ctx, "k|u", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRun, res.Outcome)

	res, err = store.Reserve(ctx, "k|u", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInFlight, res.Outcome)

	_, err = store.Reserve(ctx, "k|u", "other", fixedTime, time.Hour)
	assert.True(t, errors.Is(err, ErrFingerprintMismatch))

	header := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"2"}}
	require.NoError(t, store.Complete(ctx, "k|u", "fp", Response{Status: 201, Headers: header, Body: []byte("{}")}, fixedTime, time.Hour))

	res, err = store.Reserve(ctx, "k|u", "fp", fixedTime.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, res.Outcome)
	assert.Equal(t, 201, res.Record.ResponseStatus)
	assert.Equal(t, []byte("{}"), res.Record.ResponseBody)
	assert.NotContains(t, res.Record.ResponseHeaders, "Content-Length")

	res, err = store.Reserve(ctx, "k|u", "different", fixedTime.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRun, res.Outcome, "expired records are replaced")
}

func TestJanitorSweepPurgesExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Reserve(ctx, "old", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "fresh", "fp", fixedTime, 48*time.Hour)
	require.NoError(t, err)

	janitor := Janitor{Store: store, BatchSize: 10, Clock: func() time.Time { return fixedTime.Add(time.Hour) }}
	assert.Equal(t, 1, janitor.Sweep(ctx))
	assert.Equal(t, 0, janitor.Sweep(ctx))

	res, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInFlight, res.Outcome)
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Janitor{Store: NewMemoryStore(), Interval: time.Millisecond}.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
