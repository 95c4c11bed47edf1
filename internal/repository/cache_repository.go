package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
)

const repoListPrefix = "tracker:repos:"

// CacheRepository caches organisation repository listings in Redis. A nil client turns every
// read into a miss and every write into a no-op.
type CacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, ttl: ttl, logger: logger}
}

// RepoKey builds the cache key for an organisation listing.
func RepoKey(org string) string {
	return repoListPrefix + org
}

// GetRepos returns a cached listing or appErrors.ErrCacheMiss.
func (r *CacheRepository) GetRepos(ctx context.Context, org string) ([]string, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	key := RepoKey(org)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var repos []string
	if err := json.Unmarshal(raw, &repos); err != nil {
		return nil, fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return repos, nil
}

// SetRepos stores a listing with the configured TTL.
func (r *CacheRepository) SetRepos(ctx context.Context, org string, repos []string) error {
	if r.client == nil {
		return nil
	}

	key := RepoKey(org)
	payload, err := json.Marshal(repos)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes every cached listing.
func (r *CacheRepository) Invalidate(ctx context.Context) error {
	if r.client == nil {
		return nil
	}

	iter := r.client.Scan(ctx, 0, repoListPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", repoListPrefix, err)
	}
	r.logger.Debug("repository listing cache invalidated")
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
