package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a real server: CAREFLOW_TEST_MONGO_URI=mongodb://localhost:27017
func TestMongoBlobStore_Integration(t *testing.T) {
	uri := os.Getenv("CAREFLOW_TEST_MONGO_URI")
	if uri == "" || testing.Short() {
		t.Skip("CAREFLOW_TEST_MONGO_URI not set")
	}

	cfg := DefaultStoreConfig()
	cfg.Type = StoreTypeMongoDB
	cfg.Mongo.URI = uri
	cfg.Mongo.Database = "careflow_test"
	cfg.Mongo.Collection = "blobs_" + uuid.NewString()[:8]
	cfg.Mongo.Timeout = 5 * time.Second

	store, err := NewMongoBlobStore(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	defer func() {
		_ = store.collection.Drop(ctx)
		_ = store.Close()
	}()

	require.NoError(t, store.Put(ctx, "c/session_context.json", []byte("{}")))
	got, err := store.Get(ctx, "c/session_context.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	keys, err := store.List(ctx, "c/")
	require.NoError(t, err)
	assert.Equal(t, []string{"c/session_context.json"}, keys)

	require.NoError(t, store.Delete(ctx, "c/session_context.json"))
	_, err = store.Get(ctx, "c/session_context.json")
	assert.ErrorIs(t, err, ErrNotFound)
}
