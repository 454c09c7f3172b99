package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/court-scheduler/internal/internaltypes"
)

type RedisStore struct {
	client *redis.Client
	prefix string
	name   string
	codec  Codec
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, name string, codec Codec) *RedisStore {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &RedisStore{
		client: client,
		prefix: "session:",
		name:   name,
		codec:  codec,
		now:    time.Now,
	}
}

// NewRedisClient connects and pings, failing fast on a bad address.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisStore) key() string {
	return r.prefix + r.name
}

func (r *RedisStore) Load(ctx context.Context) (Session, error) {
	val, err := r.client.Get(ctx, r.key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("session %q: %w", r.name, internaltypes.ErrNotFound)
	}
	if err != nil {
		return Session{}, persistence("load session", err)
	}
	return r.codec.Decode(val)
}

// Save stores s. A future explicit expiry becomes the key's TTL; anything
// else is kept until replaced, since validity is judged by probing.
func (r *RedisStore) Save(ctx context.Context, s Session) error {
	data, err := r.codec.Encode(s)
	if err != nil {
		return persistence("encode session", err)
	}

	var ttl time.Duration
	if s.ExpiresAt != nil {
		if d := s.ExpiresAt.Sub(r.now()); d > 0 {
			ttl = d
		}
	}
	if err := r.client.Set(ctx, r.key(), data, ttl).Err(); err != nil {
		return persistence("save session", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key()).Err(); err != nil {
		return persistence("clear session", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
