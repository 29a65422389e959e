package persistence

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeFile     StoreType = "file"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
	StoreTypeMongoDB  StoreType = "mongodb"
)

// RetryConfig defines retry behavior for blob writes
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the initial backoff duration (default: 100ms)
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration (default: 2s)
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff (default: 2.0)
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration.
// Writes happen on the turn path, so backoff stays short: 100ms/200ms/400ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// CalculateBackoff calculates the backoff duration for a given retry attempt
func (c RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialBackoff
	}

	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

// StoreConfig is the base configuration for all blob store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Database configuration (only used when Type is "database")
	Database DatabaseStoreConfig `json:"database" yaml:"database"`

	// Mongo configuration (only used when Type is "mongodb")
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo"`

	// Retry configuration
	Retry RetryConfig `json:"retry" yaml:"retry"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DatabaseStoreConfig contains gorm-specific configuration
type DatabaseStoreConfig struct {
	// Driver is one of postgres, mysql, sqlite
	Driver string `json:"driver" yaml:"driver"`

	// DSN is passed verbatim to the gorm dialector
	DSN string `json:"dsn" yaml:"dsn"`

	// Table defaults to careflow_blobs
	Table string `json:"table" yaml:"table"`

	// AutoMigrate creates the table on open when migrations are not run separately
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI        string        `json:"uri" yaml:"uri"`
	Database   string        `json:"database" yaml:"database"`
	Collection string        `json:"collection" yaml:"collection"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/chat-sessions",
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "careflow:",
		},
		Database: DatabaseStoreConfig{
			Driver: "postgres",
			Table:  defaultBlobTable,
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "careflow",
			Collection: "chat_blobs",
			Timeout:    10 * time.Second,
		},
		Retry: DefaultRetryConfig(),
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// BlobStore is a flat key/value store of opaque JSON documents.
// Keys are slash-separated paths such as "{conversation}/session_context.json".
type BlobStore interface {
	Store

	// Get returns ErrNotFound when the key does not exist
	Get(ctx context.Context, key string) ([]byte, error)

	// Put overwrites any existing value
	Put(ctx context.Context, key string, data []byte) error

	// Delete is a no-op for a missing key
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidInput
	}
	return nil
}

// Mover is implemented by backends that can relocate a blob in one step.
// Accessors fall back to Get, Put and Delete otherwise.
type Mover interface {
	Move(ctx context.Context, src, dst string) error
}
