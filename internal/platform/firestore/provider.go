// Package firestore wraps the Cloud Firestore client used by the cart, order, identity and
// idempotency stores.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/foodcourt/api/internal/platform/config"
)

const (
	dialTimeout = 10 * time.Second
	txAttempts  = 5
	txTimeout   = 15 * time.Second
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider owns the Firestore client shared by every store in the process. The client is dialled
// on first use; a failed dial is attempted again by the next caller.
type Provider struct {
	project  string
	emulator string
	extra    []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// NewProvider resolves the project and emulator settings. The project falls back to
// GOOGLE_CLOUD_PROJECT and the emulator to FIRESTORE_EMULATOR_HOST.
func NewProvider(cfg config.FirestoreConfig, extra ...option.ClientOption) *Provider {
	return &Provider{
		project:  firstNonBlank(cfg.ProjectID, os.Getenv("GOOGLE_CLOUD_PROJECT")),
		emulator: firstNonBlank(cfg.EmulatorHost, os.Getenv("FIRESTORE_EMULATOR_HOST")),
		extra:    extra,
	}
}

// Client returns the shared client.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	if p == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}

	if p.project == "" {
		return nil, errors.New("firestore: project id is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, p.project, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial project %s: %w", p.project, err)
	}
	p.client = client
	return client, nil
}

func (p *Provider) clientOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.extra...)
	if p.emulator == "" {
		return opts
	}
	// The client library only switches to emulator mode through the environment.
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		_ = os.Setenv("FIRESTORE_EMULATOR_HOST", p.emulator)
	}
	return append(opts,
		option.WithEndpoint(p.emulator),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Close releases the client. Client fails with ErrProviderClosed afterwards.
func (p *Provider) Close(context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
