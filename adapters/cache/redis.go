package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Skryldev/image-compositor/core"
	apperrors "github.com/Skryldev/image-compositor/errors"
)

// RedisOptions configures the redis-backed cache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis stores fetch results as JSON values in redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects lazily; call Ping to verify reachability.
func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Redis{client: client, ttl: opts.TTL}
}

func (r *Redis) Ping(ctx context.Context) error {
	return apperrors.Wrap(apperrors.CategoryStorage, "cache.redis.ping", r.client.Ping(ctx).Err())
}

func (r *Redis) Get(ctx context.Context, key string) (*core.Fetched, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, apperrors.Transient("cache.redis.get", err)
	}

	var f core.Fetched
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false, apperrors.Wrap(apperrors.CategoryStorage, "cache.redis.decode", err)
	}
	return &f, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, f *core.Fetched) error {
	data, err := json.Marshal(f)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "cache.redis.encode", err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return apperrors.Transient("cache.redis.set", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
