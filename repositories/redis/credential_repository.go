package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/image-gateway/repositories"
)

// DefaultKeyPrefix namespaces the gateway's keys in a shared Redis
const DefaultKeyPrefix = "image-gateway:"

// NewClient parses a redis:// URL and verifies the connection
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// CredentialRepository stores credential mappings in a single Redis hash so
// several gateway instances share them. HSET gives last-write-wins upserts.
type CredentialRepository struct {
	client *goredis.Client
	key    string
	logger *zap.Logger
}

// NewCredentialRepository creates a Redis backed credential store
func NewCredentialRepository(client *goredis.Client, keyPrefix string, logger *zap.Logger) *CredentialRepository {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &CredentialRepository{
		client: client,
		key:    CredentialsKey(keyPrefix),
		logger: logger,
	}
}

// CredentialsKey returns the hash key holding the mappings
func CredentialsKey(prefix string) string {
	return prefix + "credentials"
}

// Get returns the secondary key stored for a session credential
func (r *CredentialRepository) Get(ctx context.Context, sessionID string) (string, bool, error) {
	key, err := r.client.HGet(ctx, r.key, sessionID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get credential: %w", err)
	}
	return key, true, nil
}

// Put records or replaces the secondary key for a session credential
func (r *CredentialRepository) Put(ctx context.Context, sessionID, key string) error {
	if err := r.client.HSet(ctx, r.key, sessionID, key).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	r.logger.Debug("credential stored", zap.String("backend", "redis"))
	return nil
}

// Count returns the number of stored mappings
func (r *CredentialRepository) Count(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return int(n), nil
}

// HealthCheck pings the Redis server
func (r *CredentialRepository) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying client
func (r *CredentialRepository) Close() error {
	return r.client.Close()
}

var _ repositories.CredentialRepository = (*CredentialRepository)(nil)
