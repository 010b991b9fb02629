// Package statusstore implements the TTL'd key-value view of a
// notification's lifecycle, backed by Redis.
package statusstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/notifyhub/internal/notification"
)

// Store is the StatusStore contract: get, unconditional put, and atomic
// put-if-absent, each operating against a single opaque key.
type Store interface {
	Get(ctx context.Context, key string) (*notification.StatusRecord, bool, error)
	Put(ctx context.Context, key string, record notification.StatusRecord, ttl time.Duration) error
	PutIfAbsent(ctx context.Context, key string, record notification.StatusRecord, ttl time.Duration) (bool, error)
	Close() error
}

// RedisStore is the production Store implementation.
type RedisStore struct {
	client *redis.Client
}

// New connects to Redis at redisURL (redis://[:password@]host:port[/db])
// and verifies the connection with a bounded PING, matching the connection
// pattern used elsewhere in this codebase's Redis clients.
func New(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("statusstore: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("statusstore: connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Get returns the current record for key, or (nil, false, nil) if absent.
func (s *RedisStore) Get(ctx context.Context, key string) (*notification.StatusRecord, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statusstore: get %s: %w", key, err)
	}

	var record notification.StatusRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("statusstore: decode %s: %w", key, err)
	}
	return &record, true, nil
}

// Put unconditionally overwrites key with record, resetting its TTL. This
// is used for lifecycle transitions once a record already exists.
func (s *RedisStore) Put(ctx context.Context, key string, record notification.StatusRecord, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("statusstore: encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("statusstore: put %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent atomically writes record to key only if key does not already
// exist, returning accepted=true when the write took effect. Neither the
// gateway's admission check nor the worker's IdempotencyCheck call this
// today — both use a plain Get-then-Put, accepting the race that can
// admit (or re-enter) a duplicate request under concurrent first
// submissions (see DESIGN.md's Open Question Decisions). This method is
// available infrastructure a stricter single-publish implementation could
// adopt without changing the storage layer.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, record notification.StatusRecord, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("statusstore: encode %s: %w", key, err)
	}
	accepted, err := s.client.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("statusstore: put-if-absent %s: %w", key, err)
	}
	return accepted, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping verifies the Redis connection is alive, for use by a readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// IdempotencyKey builds the worker-side idempotency key
// "<channel>:idempotency:<request_id>".
func IdempotencyKey(channel notification.Channel, requestID string) string {
	return fmt.Sprintf("%s:idempotency:%s", channel, requestID)
}

// GatewayAdmissionKey builds the gateway-side admission key
// "idemp:<request_id>".
func GatewayAdmissionKey(requestID string) string {
	return fmt.Sprintf("idemp:%s", requestID)
}

// CallbackStatusKey builds the external-status-callback key
// "status:<notification_id>".
func CallbackStatusKey(notificationID string) string {
	return fmt.Sprintf("status:%s", notificationID)
}
