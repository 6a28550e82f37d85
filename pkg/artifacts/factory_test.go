package artifacts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStore(ctx, Config{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, s)

	dir := t.TempDir()
	s, err = NewStore(ctx, Config{Backend: BackendFS, DataDir: dir})
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok, "expected *FileStore, got %T", s)
	assert.Equal(t, filepath.Join(dir, "artifacts"), fs.baseDir)
}

func TestNewStoreErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewStore(ctx, Config{Backend: BackendS3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")

	_, err = NewStore(ctx, Config{Backend: BackendGCS})
	require.Error(t, err)

	_, err = NewStore(ctx, Config{Backend: "ftp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}
