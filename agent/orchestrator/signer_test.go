package orchestrator

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLSigner(t *testing.T) {
	_, err := NewURLSigner("", time.Minute)
	assert.Error(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewURLSigner("s3cret", time.Minute)
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	signed, err := s.Sign("https://host/v1/blobs/C1/scan.png?w=300")
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)
	token := u.Query().Get(SignatureParam)
	assert.Equal(t, "300", u.Query().Get("w"))

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, s.Verify("/v1/blobs/C1/scan.png", token))
	})
	t.Run("other path", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify("/v1/blobs/C2/scan.png", token), ErrInvalidSignature)
	})
	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify("/v1/blobs/C1/scan.png", ""), ErrInvalidSignature)
	})
	t.Run("tampered", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify("/v1/blobs/C1/scan.png", token+"x"), ErrInvalidSignature)
	})
	t.Run("other secret", func(t *testing.T) {
		other, err := NewURLSigner("different", time.Minute)
		require.NoError(t, err)
		other.now = s.now
		assert.ErrorIs(t, other.Verify("/v1/blobs/C1/scan.png", token), ErrInvalidSignature)
	})
	t.Run("expired", func(t *testing.T) {
		later := *s
		later.now = func() time.Time { return now.Add(2 * time.Minute) }
		assert.ErrorIs(t, later.Verify("/v1/blobs/C1/scan.png", token), ErrInvalidSignature)
	})
}
