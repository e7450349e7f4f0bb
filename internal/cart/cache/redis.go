package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 15 * time.Minute
	defaultJitter = 5 * time.Minute
)

// setIfUnchanged writes KEYS[1] only while the generation in KEYS[2] still
// equals ARGV[1]. A missing generation counts as 0.
var setIfUnchanged = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if not gen then gen = "0" end
if gen ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// RedisCache stores carts as JSON under cart:{<userID>}. Every entry gets the
// base TTL plus a random jitter so entries written together do not expire
// together. Delete bumps a per-user generation counter kept next to the
// entry.
type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  time.Duration
}

func NewRedisCache(client redis.UniversalClient, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = defaultTTL
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
		jitter:  defaultJitter,
	}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	return &cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// SetIfUnchanged reports false when the cart was invalidated after generation
// was read; the entry is then left alone.
func (r *RedisCache) SetIfUnchanged(ctx context.Context, userID string, cart *domain.Cart, generation int64) (bool, error) {
	data, err := json.Marshal(cart)
	if err != nil {
		return false, fmt.Errorf("marshal cart failed: %w", err)
	}

	keys := []string{cacheKey(userID), generationKey(userID)}
	stored, err := setIfUnchanged.Run(ctx, r.client, keys, generation, data, r.ttl().Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set failed: %w", err)
	}
	return stored == 1, nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cacheKey(userID))
		pipe.Incr(ctx, generationKey(userID))
		pipe.Expire(ctx, generationKey(userID), r.generationTTL())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) ttl() time.Duration {
	if r.jitter <= 0 {
		return r.baseTTL
	}
	return r.baseTTL + rand.N(r.jitter)
}

// generationTTL outlives any entry written under an older generation.
func (r *RedisCache) generationTTL() time.Duration {
	return 2 * (r.baseTTL + r.jitter)
}

// Both keys share a hash tag so the script stays on one cluster slot.
func cacheKey(userID string) string {
	return fmt.Sprintf("cart:{%s}", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cart:{%s}:gen", userID)
}
