package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultBlobTable = "careflow_blobs"

// BlobRecord is one row of the blob table.
// The column is named blob_key because KEY is reserved in MySQL.
type BlobRecord struct {
	Key       string    `gorm:"column:blob_key;primaryKey;size:512" json:"key"`
	Data      []byte    `gorm:"column:data;not null" json:"data"`
	UpdatedAt time.Time `gorm:"column:updated_at;index:idx_blob_updated" json:"updated_at"`
}

// TableName gorm 默认表名
func (BlobRecord) TableName() string {
	return defaultBlobTable
}

// GormBlobStore is a SQL implementation of BlobStore over gorm.
// It works with the postgres, mysql and sqlite dialectors.
type GormBlobStore struct {
	db    *gorm.DB
	table string
}

// NewGormBlobStore wraps an open gorm connection
func NewGormBlobStore(db *gorm.DB, config DatabaseStoreConfig) (*GormBlobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", ErrInvalidInput)
	}
	table := config.Table
	if table == "" {
		table = defaultBlobTable
	}
	s := &GormBlobStore{db: db, table: table}
	if config.AutoMigrate {
		if err := db.Table(table).AutoMigrate(&BlobRecord{}); err != nil {
			return nil, fmt.Errorf("failed to auto migrate blob table: %w", err)
		}
	}
	return s, nil
}

func (s *GormBlobStore) scoped(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Close closes the underlying sql.DB
func (s *GormBlobStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the database is reachable
func (s *GormBlobStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Get returns the data column for key
func (s *GormBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var rec BlobRecord
	err := s.scoped(ctx).Where("blob_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return rec.Data, nil
}

// Put upserts the row for key
func (s *GormBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	rec := BlobRecord{Key: key, Data: data, UpdatedAt: time.Now().UTC()}
	err := s.scoped(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blob_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to put blob: %w", err)
	}
	return nil
}

// Delete removes the row for key
func (s *GormBlobStore) Delete(ctx context.Context, key string) error {
	return s.scoped(ctx).Where("blob_key = ?", key).Delete(&BlobRecord{}).Error
}

// Move relocates a blob inside one transaction
func (s *GormBlobStore) Move(ctx context.Context, src, dst string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec BlobRecord
		if err := tx.Table(s.table).Where("blob_key = ?", src).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		moved := BlobRecord{Key: dst, Data: rec.Data, UpdatedAt: time.Now().UTC()}
		if err := tx.Table(s.table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "blob_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).Create(&moved).Error; err != nil {
			return err
		}
		return tx.Table(s.table).Where("blob_key = ?", src).Delete(&BlobRecord{}).Error
	})
}

// List returns keys with prefix.
// LIKE treats "_" as a wildcard, so rows are filtered again in Go.
func (s *GormBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	if err := s.scoped(ctx).Where("blob_key LIKE ?", prefix+"%").Pluck("blob_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
