package persistence

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBlobStore) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := DefaultStoreConfig()
	cfg.Type = StoreTypeRedis
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port

	store, err := NewRedisBlobStore(cfg)
	require.NoError(t, err)
	return mr, store
}

func setupTestGorm(t *testing.T) *GormBlobStore {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "blobs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormBlobStore(db, DatabaseStoreConfig{AutoMigrate: true})
	require.NoError(t, err)
	return store
}

// storeFactories returns every backend that can run without external services.
func storeFactories(t *testing.T) map[string]func(t *testing.T) BlobStore {
	return map[string]func(t *testing.T) BlobStore{
		"memory": func(t *testing.T) BlobStore { return NewMemoryBlobStore() },
		"file": func(t *testing.T) BlobStore {
			cfg := DefaultStoreConfig()
			cfg.BaseDir = t.TempDir()
			s, err := NewFileBlobStore(cfg)
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) BlobStore {
			mr, s := setupTestRedis(t)
			t.Cleanup(mr.Close)
			return s
		},
		"database": func(t *testing.T) BlobStore { return setupTestGorm(t) },
	}
}

func TestBlobStore_Contract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			t.Run("Ping", func(t *testing.T) {
				assert.NoError(t, store.Ping(ctx))
			})

			t.Run("GetMissing", func(t *testing.T) {
				_, err := store.Get(ctx, "conv-x/session_context.json")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("PutGetOverwrite", func(t *testing.T) {
				key := "conv-1/session_context.json"
				require.NoError(t, store.Put(ctx, key, []byte(`{"v":1}`)))
				require.NoError(t, store.Put(ctx, key, []byte(`{"v":2}`)))

				got, err := store.Get(ctx, key)
				require.NoError(t, err)
				assert.JSONEq(t, `{"v":2}`, string(got))
			})

			t.Run("EmptyKeyRejected", func(t *testing.T) {
				assert.ErrorIs(t, store.Put(ctx, "", []byte("x")), ErrInvalidInput)
			})

			t.Run("DeleteIsIdempotent", func(t *testing.T) {
				key := "conv-2/patient_patient_4_context.json"
				require.NoError(t, store.Put(ctx, key, []byte("{}")))
				require.NoError(t, store.Delete(ctx, key))
				require.NoError(t, store.Delete(ctx, key))

				_, err := store.Get(ctx, key)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("ListByPrefix", func(t *testing.T) {
				for _, k := range []string{
					"conv-3/session_context.json",
					"conv-3/patient_patient_1_context.json",
					"conv-30/session_context.json",
					"other/session_context.json",
				} {
					require.NoError(t, store.Put(ctx, k, []byte("{}")))
				}

				keys, err := store.List(ctx, "conv-3/")
				require.NoError(t, err)
				assert.Equal(t, []string{
					"conv-3/patient_patient_1_context.json",
					"conv-3/session_context.json",
				}, keys)
			})

			if m, ok := store.(Mover); ok {
				t.Run("Move", func(t *testing.T) {
					require.NoError(t, store.Put(ctx, "conv-4/a.json", []byte("payload")))
					require.NoError(t, m.Move(ctx, "conv-4/a.json", "archive/x/conv-4/a.json"))

					_, err := store.Get(ctx, "conv-4/a.json")
					assert.ErrorIs(t, err, ErrNotFound)
					got, err := store.Get(ctx, "archive/x/conv-4/a.json")
					require.NoError(t, err)
					assert.Equal(t, "payload", string(got))

					assert.ErrorIs(t, m.Move(ctx, "conv-4/missing.json", "x"), ErrNotFound)
				})
			}
		})
	}
}

func TestMemoryBlobStore_Closed(t *testing.T) {
	store := NewMemoryBlobStore()
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	assert.ErrorIs(t, store.Put(ctx, "k", nil), ErrStoreClosed)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryBlobStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryBlobStore()
	ctx := context.Background()
	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", data))
	data[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestFileBlobStore_RejectsEscapingKeys(t *testing.T) {
	cfg := DefaultStoreConfig()
	cfg.BaseDir = t.TempDir()
	store, err := NewFileBlobStore(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	assert.ErrorIs(t, store.Put(ctx, "../outside.json", []byte("x")), ErrInvalidInput)
	assert.ErrorIs(t, store.Put(ctx, "conv/../../outside.json", []byte("x")), ErrInvalidInput)
}

func TestFileBlobStore_Persists(t *testing.T) {
	cfg := DefaultStoreConfig()
	cfg.BaseDir = t.TempDir()
	ctx := context.Background()

	first, err := NewFileBlobStore(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "conv/session_context.json", []byte("{}")))
	require.NoError(t, first.Close())

	second, err := NewFileBlobStore(cfg)
	require.NoError(t, err)
	got, err := second.Get(ctx, "conv/session_context.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestRedisBlobStore_KeyPrefix(t *testing.T) {
	mr, store := setupTestRedis(t)
	defer mr.Close()
	defer store.Close()

	require.NoError(t, store.Put(context.Background(), "conv/session_context.json", []byte("{}")))
	assert.True(t, mr.Exists("careflow:blob:conv/session_context.json"))
}

func TestNewBlobStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		s, err := NewBlobStore(StoreConfig{Type: StoreTypeMemory})
		require.NoError(t, err)
		assert.IsType(t, &MemoryBlobStore{}, s)
	})

	t.Run("database without connection", func(t *testing.T) {
		_, err := NewBlobStore(StoreConfig{Type: StoreTypeDatabase})
		assert.Error(t, err)
	})

	t.Run("database", func(t *testing.T) {
		db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "f.db")), &gorm.Config{})
		require.NoError(t, err)
		s, err := NewBlobStore(StoreConfig{Type: StoreTypeDatabase, Database: DatabaseStoreConfig{AutoMigrate: true}}, WithGormDB(db))
		require.NoError(t, err)
		assert.IsType(t, &GormBlobStore{}, s)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewBlobStore(StoreConfig{Type: "s3"})
		assert.Error(t, err)
	})
}

func TestRetryConfig_CalculateBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.CalculateBackoff(0))
	assert.Equal(t, 200*time.Millisecond, cfg.CalculateBackoff(1))
	assert.Equal(t, 300*time.Millisecond, cfg.CalculateBackoff(2))
	assert.Equal(t, 300*time.Millisecond, cfg.CalculateBackoff(5))
}

func TestArchiveFolder(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 123456789, time.UTC)
	assert.Equal(t, "archive/2025-03-04T05-06-07-123456", ArchiveFolder(at))
	assert.Equal(t, "c1/20250304T050607_session_archived.json", ArchiveKey("c1", "", at))
	assert.Equal(t, "c1/20250304T050607_patient_patient_2_archived.json", ArchiveKey("c1", "patient_2", at))
	assert.Equal(t, "f/c1/20250304T050607_session_archived.json", FolderArchiveKey("f", "c1", "", at))
	assert.Equal(t, "c1/20250304T050607_patient_context_registry_archived.json", RegistryArchiveKey("c1", at))
}
