package cache

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/racepool/engine/pkg/retry"
)

// ErrMiss is returned when a key is absent. Any other error means the
// cache tier itself is unhealthy; callers degrade and move on.
var ErrMiss = errors.New("cache: miss")

// Client is the cache tier of the layered repository. Entries are
// TTL-bounded: readers that hit this tier may observe staleness up to
// the TTL used on write.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

type redisCache struct {
	client *redis.Client
}

// NewRedis connects and pings a Redis server, retrying the ping a few
// times to ride out a server that is still coming up. A failed ping is
// returned to the caller, who decides whether to run without the cache
// tier.
func NewRedis(addr, password string) (Client, error) {
	cpus := runtime.GOMAXPROCS(0)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		PoolSize:     cpus * 10,
		MinIdleConns: cpus * 2,
	})

	err := retry.Constant(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}, time.Second, 3)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &redisCache{client: client}, nil
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	return val, err
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
