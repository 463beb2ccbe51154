// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pulsefit/arena/internal/duel"
)

// DefaultEventQueueName is the Redis list the notification dispatcher
// consumes duel lifecycle events from.
var DefaultEventQueueName = "arena_duel_events"

// Cache wraps the Redis client used for the notification event queue and the
// per-user known-device fingerprint sets. It implements duel.DeviceRegistry.
type Cache struct {
	rdb *redis.Client
}

// Connect initializes the Redis client from environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func Connect(ctx context.Context) (*Cache, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &Cache{rdb: rdb}, nil
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// PublishDuelEvent serializes the event to JSON and pushes it onto the
// notification queue. This does not block the calling logic beyond a quick
// network send.
func (c *Cache) PublishDuelEvent(ctx context.Context, ev duel.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal duel event: %w", err)
	}

	queueName := getEnv("EVENT_QUEUE_NAME", DefaultEventQueueName)
	if err := c.rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

func deviceKey(userID uuid.UUID) string {
	return "arena:devices:" + userID.String()
}

// Known reports whether the fingerprint digest is in the user's known set.
func (c *Cache) Known(ctx context.Context, userID uuid.UUID, digest string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, deviceKey(userID), digest).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check device set: %w", err)
	}
	return ok, nil
}

// HasAny reports whether the user has any known device yet.
func (c *Cache) HasAny(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := c.rdb.SCard(ctx, deviceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read device set size: %w", err)
	}
	return n > 0, nil
}

// Register adds the fingerprint digest to the user's known set.
func (c *Cache) Register(ctx context.Context, userID uuid.UUID, digest string) error {
	if err := c.rdb.SAdd(ctx, deviceKey(userID), digest).Err(); err != nil {
		return fmt.Errorf("failed to add device fingerprint: %w", err)
	}
	return nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
