package blob_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiranshivaraju/casefile/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutFetch(t *testing.T) {
	s, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Put(ctx, "videos/abc.mp4", strings.NewReader("video-bytes"), 11, "video/mp4")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "work", "input.mp4")
	require.NoError(t, s.Fetch(ctx, "videos/abc.mp4", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(got))
}

func TestLocalStore_FetchMissing(t *testing.T) {
	s, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	err = s.Fetch(context.Background(), "videos/missing.mp4", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../etc/passwd", "/abs/path", "a/../../b"} {
		err := s.Put(context.Background(), key, strings.NewReader("x"), 1, "")
		assert.Error(t, err, "key %q", key)
	}
}

func TestLocalStore_Delete(t *testing.T) {
	s, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "audio/a.wav", strings.NewReader("pcm"), 3, "audio/wav"))
	require.NoError(t, s.Delete(ctx, "audio/a.wav"))
	assert.ErrorIs(t, s.Fetch(ctx, "audio/a.wav", filepath.Join(t.TempDir(), "a.wav")), blob.ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "audio/never.wav"))
}

func TestLocalStore_CanceledContext(t *testing.T) {
	s, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Put(ctx, "videos/c.mp4", strings.NewReader("data"), 4, "video/mp4")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "videos/r1.mov", blob.VideoKey("r1", ".mov"))
	assert.Equal(t, "audio/r1.wav", blob.AudioKey("r1"))
}
