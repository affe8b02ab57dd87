package fsblob

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reelsync/reelsync-agent/internal/remote"
	"github.com/reelsync/reelsync-agent/internal/remote/remotetest"
)

func TestStore_BlobContract(t *testing.T) {
	remotetest.RunBlobs(t, func(t *testing.T) remote.Blobs {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestStore_RejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.PutBlob(context.Background(), "videos/../../etc/passwd", bytes.NewReader(nil), "")
	require.Error(t, err)
	_, err = s.GetBlob(context.Background(), "", 0)
	require.Error(t, err)
}

func TestStore_ContentType(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutBlob(ctx, "thumbnails/c1", bytes.NewReader([]byte{0xff, 0xd8}), remote.ThumbnailContentType))
	require.Equal(t, remote.ThumbnailContentType, s.ContentType("thumbnails/c1"))

	require.NoError(t, s.DeleteBlob(ctx, "thumbnails/c1"))
	require.Empty(t, s.ContentType("thumbnails/c1"))
}
