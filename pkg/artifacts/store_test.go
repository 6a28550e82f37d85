package artifacts

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{"file": fs, "memory": NewMemoryStore()}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("screenshot bytes")
			digest, err := s.Store(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, Digest(data), digest)
			assert.True(t, strings.HasPrefix(digest, "sha256:"))

			again, err := s.Store(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, digest, again, "storing identical bytes is idempotent")

			ok, err := s.Exists(ctx, digest)
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get(ctx, digest)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			require.NoError(t, s.Delete(ctx, digest))
			require.NoError(t, s.Delete(ctx, digest), "deleting twice is fine")

			ok, err = s.Exists(ctx, digest)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(ctx, digest)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestInvalidDigest(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "md5:abc", "sha256:zz", "sha256:" + strings.Repeat("a", 63), "sha256:../../etc/passwd"} {
				_, err := s.Get(ctx, bad)
				assert.ErrorIs(t, err, ErrInvalidDigest, bad)
				_, err = s.Exists(ctx, bad)
				assert.ErrorIs(t, err, ErrInvalidDigest, bad)
				assert.ErrorIs(t, s.Delete(ctx, bad), ErrInvalidDigest, bad)
			}
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	digest, err := s.Store(context.Background(), []byte("x"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, strings.TrimPrefix(digest, "sha256:")+".blob"))
	require.NoError(t, err)
}

func TestArchiveImages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := base64.StdEncoding.EncodeToString([]byte("profile-1"))
	b := base64.StdEncoding.EncodeToString([]byte("profile-2"))

	digests, err := ArchiveImages(ctx, s, []string{a, b, a})
	require.NoError(t, err)
	require.Len(t, digests, 3)
	assert.Equal(t, Digest([]byte("profile-1")), digests[0])
	assert.Equal(t, digests[0], digests[2])
	assert.Equal(t, 2, s.Len())

	_, err = ArchiveImages(ctx, s, []string{"!!not base64"})
	require.Error(t, err)

	digests, err = ArchiveImages(ctx, nil, []string{a})
	require.NoError(t, err)
	assert.Nil(t, digests)
}
