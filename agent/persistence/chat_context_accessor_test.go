package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/careflow/agent/chatctx"
)

var fixedNow = time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)

func newTestAccessor(t *testing.T) (*ChatContextAccessor, *MemoryBlobStore) {
	store := NewMemoryBlobStore()
	return NewChatContextAccessor(store, zap.NewNop(), WithClock(func() time.Time { return fixedNow })), store
}

func TestChatContextAccessor_ReadMissing(t *testing.T) {
	acc, _ := newTestAccessor(t)
	ctx := context.Background()

	t.Run("session", func(t *testing.T) {
		cc, err := acc.Read(ctx, "conv", "")
		require.NoError(t, err)
		assert.Equal(t, "conv", cc.ConversationID)
		assert.Empty(t, cc.PatientID)
		assert.Empty(t, cc.History)
	})

	t.Run("patient", func(t *testing.T) {
		cc, err := acc.Read(ctx, "conv", "patient_4")
		require.NoError(t, err)
		assert.Equal(t, "patient_4", cc.PatientID)
		assert.True(t, cc.HasPatient("patient_4"))
	})
}

func TestChatContextAccessor_WriteRead(t *testing.T) {
	acc, store := newTestAccessor(t)
	ctx := context.Background()

	cc := chatctx.NewForPatient("conv", "patient_4")
	cc.AddUserMessage("labs for patient_4")
	cc.AddMessage(chatctx.AgentMessage("Radiology", "No acute findings."))
	chatctx.InjectSnapshot(cc, fixedNow)
	require.NoError(t, acc.Write(ctx, cc))

	_, err := store.Get(ctx, "conv/patient_patient_4_context.json")
	require.NoError(t, err)
	_, err = store.Get(ctx, "conv/session_context.json")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := acc.Read(ctx, "conv", "patient_4")
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, "labs for patient_4", got.History[0].Content)
	assert.Equal(t, "Radiology", got.History[1].Name)
	for _, m := range got.History {
		assert.False(t, chatctx.IsSnapshotMessage(m))
	}
}

func TestChatContextAccessor_ScopesAreIsolated(t *testing.T) {
	acc, _ := newTestAccessor(t)
	ctx := context.Background()

	a := chatctx.NewForPatient("conv", "patient_1")
	a.AddUserMessage("about one")
	require.NoError(t, acc.Write(ctx, a))

	b := chatctx.NewForPatient("conv", "patient_2")
	b.AddUserMessage("about two")
	require.NoError(t, acc.Write(ctx, b))

	s := chatctx.New("conv")
	s.AddUserMessage("hello")
	require.NoError(t, acc.Write(ctx, s))

	for pid, want := range map[string]string{"patient_1": "about one", "patient_2": "about two", "": "hello"} {
		got, err := acc.Read(ctx, "conv", pid)
		require.NoError(t, err)
		require.Len(t, got.History, 1)
		assert.Equal(t, want, got.History[0].Content)
	}
}

func TestChatContextAccessor_CorruptRecordStartsFresh(t *testing.T) {
	acc, store := newTestAccessor(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "conv/session_context.json", []byte("{not json")))

	cc, err := acc.Read(ctx, "conv", "")
	require.NoError(t, err)
	assert.Empty(t, cc.History)
}

func TestChatContextAccessor_Archive(t *testing.T) {
	acc, store := newTestAccessor(t)
	ctx := context.Background()

	cc := chatctx.NewForPatient("conv", "patient_2")
	cc.AddUserMessage("x")
	require.NoError(t, acc.Write(ctx, cc))
	require.NoError(t, acc.Archive(ctx, cc))

	_, err := store.Get(ctx, "conv/patient_patient_2_context.json")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "conv/20250601T123045_patient_patient_2_archived.json")
	assert.NoError(t, err)
}

func TestChatContextAccessor_ArchiveToFolder(t *testing.T) {
	acc, store := newTestAccessor(t)
	ctx := context.Background()

	raw := []byte(`{"conversation_id":"conv","chat_history":[]}`)
	require.NoError(t, store.Put(ctx, "conv/session_context.json", raw))

	folder := ArchiveFolder(fixedNow)
	require.NoError(t, acc.ArchiveToFolder(ctx, "conv", "", folder))

	got, err := store.Get(ctx, folder+"/conv/20250601T123045_session_archived.json")
	require.NoError(t, err)
	assert.Equal(t, raw, got, "bytes are copied verbatim")
	_, err = store.Get(ctx, "conv/session_context.json")
	assert.ErrorIs(t, err, ErrNotFound)

	// missing source is not an error
	assert.NoError(t, acc.ArchiveToFolder(ctx, "conv", "patient_9", folder))
}

type flakyStore struct {
	*MemoryBlobStore
	failures int
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("transient")
	}
	return f.MemoryBlobStore.Put(ctx, key, data)
}

func TestChatContextAccessor_WriteRetries(t *testing.T) {
	store := &flakyStore{MemoryBlobStore: NewMemoryBlobStore(), failures: 2}
	acc := NewChatContextAccessor(store, nil, WithRetry(RetryConfig{
		MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1,
	}))

	require.NoError(t, acc.Write(context.Background(), chatctx.New("conv")))
	assert.Equal(t, 0, store.failures)

	store.failures = 10
	assert.Error(t, acc.Write(context.Background(), chatctx.New("conv")))
}

func TestChatContextAccessor_InvalidInput(t *testing.T) {
	acc, _ := newTestAccessor(t)
	ctx := context.Background()
	_, err := acc.Read(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, acc.Write(ctx, nil), ErrInvalidInput)
}
