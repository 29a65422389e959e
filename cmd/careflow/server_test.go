package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/careflow/agent/persistence"
	"github.com/BaSui01/careflow/config"
)

func TestBlobStoreConfig_Redis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "redis"
	cfg.Storage.KeyPrefix = "ward7:"
	cfg.Redis.Addr = "cache.internal:6380"
	cfg.Redis.Password = "secret"
	cfg.Redis.DB = 2

	out, err := blobStoreConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, persistence.StoreTypeRedis, out.Type)
	assert.Equal(t, "cache.internal", out.Redis.Host)
	assert.Equal(t, 6380, out.Redis.Port)
	assert.Equal(t, "secret", out.Redis.Password)
	assert.Equal(t, 2, out.Redis.DB)
	assert.Equal(t, "ward7:", out.Redis.KeyPrefix)
}

func TestBlobStoreConfig_InvalidRedisAddr(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "redis"
	cfg.Redis.Addr = "no-port"

	_, err := blobStoreConfig(cfg)
	assert.Error(t, err)
}

func TestBlobStoreConfig_Database(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "database"
	cfg.Storage.Table = "ward_blobs"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = "file::memory:"
	cfg.Database.AutoMigrate = true

	out, err := blobStoreConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, persistence.StoreTypeDatabase, out.Type)
	assert.Equal(t, "sqlite", out.Database.Driver)
	assert.Equal(t, "file::memory:", out.Database.DSN)
	assert.True(t, out.Database.AutoMigrate)
	assert.Equal(t, "ward_blobs", out.Database.Table)
}

func TestBlobStoreConfig_FileKeepsBaseDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.BaseDir = "/var/lib/careflow"
	cfg.Storage.MaxRetries = 7

	out, err := blobStoreConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, persistence.StoreTypeFile, out.Type)
	assert.Equal(t, "/var/lib/careflow", out.BaseDir)
	assert.Equal(t, 7, out.Retry.MaxRetries)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, checkHealth(srv.Client(), srv.URL+"/health"))
	assert.EqualError(t, checkHealth(srv.Client(), srv.URL+"/ready"), "status 503")
}
