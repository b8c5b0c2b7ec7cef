package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"DramaForge/server/internal/config"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Helper methods for common operations
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, key).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Duplicate-scan result cache. Scans over a large library are expensive and
// the review UI polls them; results stay valid until the library changes, so
// every merge, manual delete and extraction run invalidates the project.
const dedupScanKeyPrefix = "dedup:scan"

func dedupScanKey(projectID uint, threshold float64) string {
	return fmt.Sprintf("%s:%d:%.4f", dedupScanKeyPrefix, projectID, threshold)
}

// GetScan returns a cached scan payload, or redis.Nil error when absent.
func (s *RedisStore) GetScan(ctx context.Context, projectID uint, threshold float64) ([]byte, error) {
	return s.client.Get(ctx, dedupScanKey(projectID, threshold)).Bytes()
}

func (s *RedisStore) StoreScan(ctx context.Context, projectID uint, threshold float64, payload []byte, ttl time.Duration) error {
	return s.client.Set(ctx, dedupScanKey(projectID, threshold), payload, ttl).Err()
}

// InvalidateScans drops every cached scan for a project, regardless of the
// threshold it was computed with.
func (s *RedisStore) InvalidateScans(ctx context.Context, projectID uint) error {
	pattern := fmt.Sprintf("%s:%d:*", dedupScanKeyPrefix, projectID)

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// IsCacheMiss reports whether err is the cache's missing-key error.
func IsCacheMiss(err error) bool {
	return err == redis.Nil
}
