package persistence

import (
	"fmt"

	"gorm.io/gorm"
)

// FactoryOption customizes NewBlobStore
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	db *gorm.DB
}

// WithGormDB supplies the connection used by the database backend
func WithGormDB(db *gorm.DB) FactoryOption {
	return func(o *factoryOptions) { o.db = db }
}

// NewBlobStore creates a new BlobStore based on the configuration
func NewBlobStore(config StoreConfig, opts ...FactoryOption) (BlobStore, error) {
	var o factoryOptions
	for _, opt := range opts {
		opt(&o)
	}

	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryBlobStore(), nil
	case StoreTypeFile:
		return NewFileBlobStore(config)
	case StoreTypeRedis:
		return NewRedisBlobStore(config)
	case StoreTypeDatabase:
		if o.db == nil {
			return nil, fmt.Errorf("database blob store requires a gorm connection")
		}
		return NewGormBlobStore(o.db, config.Database)
	case StoreTypeMongoDB:
		return NewMongoBlobStore(config)
	default:
		return nil, fmt.Errorf("unsupported blob store type: %s", config.Type)
	}
}
