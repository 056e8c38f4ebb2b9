package circuit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// stateTTL bounds how long a stale breaker snapshot survives in Redis. It is
// refreshed on every save, so only abandoned providers expire.
const stateTTL = time.Hour

// RedisStateStore persists breaker snapshots to Redis as JSON blobs so all
// gateway instances agree on provider health.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore constructs a RedisStateStore.
func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: strings.TrimSpace(prefix)}
}

// Load implements StateStore.
func (s *RedisStateStore) Load(ctx context.Context, provider string) (*Snapshot, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("circuit: redis state store not initialized")
	}
	raw, errGet := s.client.Get(ctx, s.stateKey(provider)).Result()
	if errGet == redis.Nil {
		return nil, nil
	}
	if errGet != nil {
		return nil, fmt.Errorf("circuit: load state: %w", errGet)
	}
	var snap Snapshot
	if errUnmarshal := json.Unmarshal([]byte(raw), &snap); errUnmarshal != nil {
		return nil, fmt.Errorf("circuit: decode state: %w", errUnmarshal)
	}
	return &snap, nil
}

// Save implements StateStore.
func (s *RedisStateStore) Save(ctx context.Context, provider string, snap Snapshot) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("circuit: redis state store not initialized")
	}
	payload, errMarshal := json.Marshal(snap)
	if errMarshal != nil {
		return fmt.Errorf("circuit: encode state: %w", errMarshal)
	}
	if errSet := s.client.Set(ctx, s.stateKey(provider), payload, stateTTL).Err(); errSet != nil {
		return fmt.Errorf("circuit: save state: %w", errSet)
	}
	return nil
}

func (s *RedisStateStore) stateKey(provider string) string {
	prefix := s.prefix
	if prefix == "" {
		prefix = "mra:cb"
	}
	return prefix + ":" + provider
}
