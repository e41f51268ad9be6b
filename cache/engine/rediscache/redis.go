package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	rvcache "github.com/Arthur1/remote-views/cache"
)

// Store keeps entry metadata in Redis through go-redis/cache, optionally
// fronted by an in-process local cache.
type Store struct {
	redisCli   RedisClient
	redisCache *cache.Cache
	localCache cache.LocalCache
	prefix     string
	ttl        time.Duration
}

var _ rvcache.Store = (*Store)(nil)

type RedisClient interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetXX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Option interface {
	apply(opts *options)
}

var (
	_ Option = localCacheOption{}
	_ Option = ttlOption(0)
	_ Option = prefixOption("")
)

type options struct {
	localCache cache.LocalCache
	ttl        time.Duration
	prefix     string
}

type localCacheOption struct {
	localCache cache.LocalCache
}

func (o localCacheOption) apply(opts *options) {
	opts.localCache = o.localCache
}

func WithLocalCache(localCache cache.LocalCache) localCacheOption {
	return localCacheOption{localCache}
}

type ttlOption time.Duration

func (o ttlOption) apply(opts *options) {
	opts.ttl = time.Duration(o)
}

// WithTTL sets the lifetime of stored entries. Zero or a negative value keeps
// them forever, like the cached files they describe.
func WithTTL(ttl time.Duration) ttlOption {
	return ttlOption(ttl)
}

type prefixOption string

func (o prefixOption) apply(opts *options) {
	opts.prefix = string(o)
}

func WithPrefix(prefix string) prefixOption {
	return prefixOption(prefix)
}

func New(redisCli RedisClient, opts ...Option) *Store {
	options := &options{
		localCache: nil,
		ttl:        0,
		prefix:     "remoteviews:",
	}
	for _, o := range opts {
		o.apply(options)
	}

	redisCache := cache.New(&cache.Options{
		Redis:      redisCli,
		LocalCache: options.localCache,
	})
	return &Store{
		redisCli:   redisCli,
		redisCache: redisCache,
		localCache: options.localCache,
		prefix:     options.prefix,
		ttl:        options.ttl,
	}
}

func (s *Store) Get(ctx context.Context, key string) (rvcache.Entry, bool, error) {
	var ent rvcache.Entry
	if err := s.redisCache.Get(ctx, s.prefix+key, &ent); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return rvcache.Entry{}, false, nil
		}
		return rvcache.Entry{}, false, err
	}
	return ent, true, nil
}

func (s *Store) Set(ctx context.Context, key string, entry rvcache.Entry) error {
	if s.ttl > 0 {
		item := &cache.Item{
			Ctx:   ctx,
			Key:   s.prefix + key,
			Value: entry,
			TTL:   s.ttl,
		}
		return s.redisCache.Set(item)
	}

	// go-redis/cache only writes to Redis with a positive TTL, so entries
	// without one are encoded the same way and written directly.
	b, err := s.redisCache.Marshal(entry)
	if err != nil {
		return err
	}
	if s.localCache != nil {
		s.localCache.Set(s.prefix+key, b)
	}
	return s.redisCli.Set(ctx, s.prefix+key, b, 0).Err()
}
