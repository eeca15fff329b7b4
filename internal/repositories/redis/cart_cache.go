// Package redis provides a read-through Redis cache in front of the cart repository.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	domain "github.com/foodcourt/api/internal/domain"
	"github.com/foodcourt/api/internal/repositories"
)

const defaultCartTTL = 15 * time.Minute

// storeIfCurrent writes the cart entry only while the generation key still holds the value read
// before the backend load. A missing generation reads as "".
var storeIfCurrent = goredis.NewScript(`
local current = redis.call("GET", KEYS[2])
if current == false then current = "" end
if current ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

type txKey struct{}

// txState collects the carts written inside one RunInTx call so they are invalidated again after
// the transaction settles.
type txState struct {
	mu      sync.Mutex
	touched map[string]struct{}
}

// CartCache decorates a CartRepository. Reads outside a transaction are served from Redis and
// concurrent misses for one user collapse into a single backend read. Every write invalidates the
// cached entry and bumps a per-user generation; a load only fills the cache when no write landed
// while it was reading. Redis failures are logged and the backend is used directly.
type CartCache struct {
	next   repositories.CartRepository
	uow    repositories.UnitOfWork
	client goredis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

var (
	_ repositories.CartRepository = (*CartCache)(nil)
	_ repositories.UnitOfWork     = (*CartCache)(nil)
)

// CartCacheOption customises CartCache.
type CartCacheOption func(*CartCache)

// WithTTL sets how long a cached cart stays valid.
func WithTTL(ttl time.Duration) CartCacheOption {
	return func(c *CartCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger for degraded cache operations.
func WithLogger(logger *zap.Logger) CartCacheOption {
	return func(c *CartCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCartCache wraps next. uow is the unit of work of the backend that stores carts.
func NewCartCache(next repositories.CartRepository, uow repositories.UnitOfWork, client goredis.UniversalClient, opts ...CartCacheOption) (*CartCache, error) {
	if next == nil {
		return nil, errors.New("cart cache: repository is required")
	}
	if uow == nil {
		return nil, errors.New("cart cache: unit of work is required")
	}
	if client == nil {
		return nil, errors.New("cart cache: redis client is required")
	}
	cache := &CartCache{next: next, uow: uow, client: client, ttl: defaultCartTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache, nil
}

// RunInTx delegates to the backend and marks ctx so reads bypass the cache.
func (c *CartCache) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return c.uow.RunInTx(ctx, fn)
	}
	state := &txState{touched: map[string]struct{}{}}
	err := c.uow.RunInTx(context.WithValue(ctx, txKey{}, state), fn)

	state.mu.Lock()
	defer state.mu.Unlock()
	for userID := range state.touched {
		c.invalidate(ctx, userID)
	}
	return err
}

func (c *CartCache) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if _, inTx := ctx.Value(txKey{}).(*txState); inTx {
		return c.next.GetCart(ctx, userID)
	}

	key := cartKey(userID)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cart domain.Cart
		if err := json.Unmarshal(raw, &cart); err == nil {
			return cart, nil
		}
		c.logger.Warn("cart cache entry corrupt", zap.String("userId", userID))
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("cart cache read failed", zap.String("userId", userID), zap.Error(err))
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		gen, genErr := c.client.Get(ctx, generationKey(userID)).Result()
		if errors.Is(genErr, goredis.Nil) {
			gen, genErr = "", nil
		}
		cart, err := c.next.GetCart(ctx, userID)
		if err != nil {
			return domain.Cart{}, err
		}
		if genErr == nil {
			c.store(ctx, userID, gen, cart)
		}
		return cart, nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return value.(domain.Cart).Clone(), nil
}

func (c *CartCache) SaveCart(ctx context.Context, cart domain.Cart) error {
	if err := c.next.SaveCart(ctx, cart); err != nil {
		return err
	}
	c.touch(ctx, cart.UserID)
	return nil
}

func (c *CartCache) DeleteCart(ctx context.Context, userID string) error {
	if err := c.next.DeleteCart(ctx, userID); err != nil {
		return err
	}
	c.touch(ctx, userID)
	return nil
}

func (c *CartCache) touch(ctx context.Context, userID string) {
	c.invalidate(ctx, userID)
	if state, ok := ctx.Value(txKey{}).(*txState); ok {
		state.mu.Lock()
		state.touched[userID] = struct{}{}
		state.mu.Unlock()
	}
}

func (c *CartCache) store(ctx context.Context, userID, gen string, cart domain.Cart) {
	raw, err := json.Marshal(cart)
	if err != nil {
		c.logger.Warn("cart cache encode failed", zap.String("userId", userID), zap.Error(err))
		return
	}
	keys := []string{cartKey(userID), generationKey(userID)}
	stored, err := storeIfCurrent.Run(ctx, c.client, keys, gen, raw, c.ttl.Milliseconds()).Int()
	switch {
	case err != nil:
		c.logger.Warn("cart cache write failed", zap.String("userId", userID), zap.Error(err))
	case stored == 0:
		c.logger.Debug("cart cache fill skipped after concurrent write", zap.String("userId", userID))
	}
}

func (c *CartCache) invalidate(ctx context.Context, userID string) {
	ctx = context.WithoutCancel(ctx)
	gen := generationKey(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, cartKey(userID))
		pipe.Incr(ctx, gen)
		pipe.Expire(ctx, gen, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("cart cache invalidate failed", zap.String("userId", userID), zap.Error(err))
	}
}

// Both keys share a hash tag so the fill script stays on one cluster slot.
func cartKey(userID string) string {
	return fmt.Sprintf("cart:{%s}", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cart:{%s}:gen", userID)
}
