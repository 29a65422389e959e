package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlobStore is a Redis-based implementation of BlobStore.
// Suitable for distributed production deployments.
type RedisBlobStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisBlobStore creates a new Redis-based blob store
func NewRedisBlobStore(config StoreConfig) (*RedisBlobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "careflow:"
	}

	return &RedisBlobStore{
		client:    client,
		keyPrefix: keyPrefix + "blob:",
	}, nil
}

// Close closes the store
func (s *RedisBlobStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisBlobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisBlobStore) redisKey(key string) string {
	return s.keyPrefix + key
}

// Get returns the value stored under key
func (s *RedisBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return data, nil
}

// Put stores data under key with no expiry
func (s *RedisBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.client.Set(ctx, s.redisKey(key), data, 0).Err()
}

// Delete removes key
func (s *RedisBlobStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.redisKey(key)).Err()
}

// Move copies src to dst and removes src in one transaction
func (s *RedisBlobStore) Move(ctx context.Context, src, dst string) error {
	data, err := s.Get(ctx, src)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.redisKey(dst), data, 0)
	pipe.Del(ctx, s.redisKey(src))
	_, err = pipe.Exec(ctx)
	return err
}

// List scans keys with prefix
func (s *RedisBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.keyPrefix + escapeGlob(prefix) + "*"
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan blobs: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
