package claims

import (
	"context"
	"errors"
	"time"

	"github.com/marzen/tandem/pkg/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tandem:claim:"

// renewScript extends a claim only when the caller still holds it.
var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
`)

// releaseScript deletes a claim only when the caller still holds it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisStore implements Store on Redis. Expiry is delegated to key TTLs, so
// no janitor is needed: an expired claim simply stops existing.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using the given URL.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (*models.Claim, error) {
	key := keyPrefix + resource

	ok, err := s.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return nil, NewClaimError("Acquire", resource, err)
	}

	if !ok {
		// the key exists: either we already hold it (renew) or someone else does
		current, err := s.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, NewClaimError("Acquire", resource, err)
		}

		if current != holder {
			return nil, NewClaimError("Acquire", resource, ErrClaimHeld)
		}

		return s.Renew(ctx, resource, holder, ttl)
	}

	now := time.Now().UTC()

	return &models.Claim{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

func (s *RedisStore) Renew(ctx context.Context, resource, holder string, ttl time.Duration) (*models.Claim, error) {
	key := keyPrefix + resource

	renewed, err := renewScript.Run(ctx, s.client, []string{key}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return nil, NewClaimError("Renew", resource, err)
	}

	if renewed == 0 {
		return nil, NewClaimError("Renew", resource, ErrClaimNotHeld)
	}

	now := time.Now().UTC()

	return &models.Claim{
		Resource:  resource,
		Holder:    holder,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (s *RedisStore) Release(ctx context.Context, resource, holder string) error {
	key := keyPrefix + resource

	released, err := releaseScript.Run(ctx, s.client, []string{key}, holder).Int()
	if err != nil {
		return NewClaimError("Release", resource, err)
	}

	if released == 0 {
		return NewClaimError("Release", resource, ErrClaimNotHeld)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, resource string) (*models.Claim, error) {
	key := keyPrefix + resource

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, NewClaimError("Get", resource, ErrClaimNotFound)
		}

		return nil, NewClaimError("Get", resource, err)
	}

	holder := getCmd.Val()
	ttl := ttlCmd.Val()

	if holder == "" || ttl <= 0 {
		return nil, NewClaimError("Get", resource, ErrClaimNotFound)
	}

	return &models.Claim{
		Resource:  resource,
		Holder:    holder,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
