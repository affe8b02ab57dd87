// Package remotetest holds contract tests shared by every remote.Store
// implementation.
package remotetest

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reelsync/reelsync-agent/internal/remote"
)

// RunTree exercises the Tree contract against a fresh tree from newTree.
func RunTree(t *testing.T, newTree func(t *testing.T) remote.Tree) {
	ctx := context.Background()

	t.Run("absent path", func(t *testing.T) {
		tree := newTree(t)
		_, err := tree.Get(ctx, "p1/name")
		require.ErrorIs(t, err, remote.ErrNotFound)
		require.NoError(t, tree.Delete(ctx, "p1/name"))
	})

	t.Run("set and get subtree", func(t *testing.T) {
		tree := newTree(t)
		require.NoError(t, tree.Set(ctx, "p1", remote.ProjectDoc{
			Name: "Trip", Owner: "u1", Tier: "free",
			Creators: map[string]string{"u1": "Ana"},
		}))

		var name string
		found, err := remote.GetInto(ctx, tree, "p1/name", &name)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "Trip", name)

		var doc remote.ProjectDoc
		found, err = remote.GetInto(ctx, tree, "p1", &doc)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "u1", doc.Owner)
		require.Equal(t, map[string]string{"u1": "Ana"}, doc.Creators)
	})

	t.Run("set replaces subtree", func(t *testing.T) {
		tree := newTree(t)
		require.NoError(t, tree.Set(ctx, "p1/creators", map[string]string{"a": "A", "b": "B"}))
		require.NoError(t, tree.Set(ctx, "p1/creators", map[string]string{"c": "C"}))

		var creators map[string]string
		_, err := remote.GetInto(ctx, tree, "p1/creators", &creators)
		require.NoError(t, err)
		require.Equal(t, map[string]string{"c": "C"}, creators)
	})

	t.Run("delete prunes", func(t *testing.T) {
		tree := newTree(t)
		require.NoError(t, tree.Set(ctx, "p1/clipIdIndex/c1", true))
		require.NoError(t, tree.Delete(ctx, "p1/clipIdIndex/c1"))

		_, err := tree.Get(ctx, "p1/clipIdIndex")
		require.ErrorIs(t, err, remote.ErrNotFound)
	})

	t.Run("append and query", func(t *testing.T) {
		tree := newTree(t)
		k1, err := tree.AppendChild(ctx, "p1/clips", remote.ClipDoc{ID: "c1", Timestamp: "2024-01-01T00:00:00Z", Creator: "u1"})
		require.NoError(t, err)
		k2, err := tree.AppendChild(ctx, "p1/clips", remote.ClipDoc{ID: "c2", Timestamp: "2024-01-01T00:00:01Z", Creator: "u1"})
		require.NoError(t, err)
		require.NotEqual(t, k1, k2)

		var clips map[string]remote.ClipDoc
		_, err = remote.GetInto(ctx, tree, "p1/clips", &clips)
		require.NoError(t, err)
		require.Len(t, clips, 2)
		require.Equal(t, "c2", clips[k2].ID)

		matches, err := tree.QueryByChildEquals(ctx, "p1/clips", "id", "c1")
		require.NoError(t, err)
		require.Len(t, matches, 1)
		var doc remote.ClipDoc
		require.NoError(t, json.Unmarshal(matches[k1], &doc))
		require.Equal(t, "c1", doc.ID)

		none, err := tree.QueryByChildEquals(ctx, "p1/clips", "id", "zzz")
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

// RunBlobs exercises the Blobs contract against a fresh store from newBlobs.
func RunBlobs(t *testing.T, newBlobs func(t *testing.T) remote.Blobs) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		blobs := newBlobs(t)
		data := []byte("video bytes")
		require.NoError(t, blobs.PutBlob(ctx, "videos/c1", bytes.NewReader(data), remote.VideoContentType))

		got, err := blobs.GetBlob(ctx, "videos/c1", 1024)
		require.NoError(t, err)
		require.Equal(t, data, got)

		dest := filepath.Join(t.TempDir(), "out", "c1.mp4")
		require.NoError(t, blobs.GetBlobToFile(ctx, "videos/c1", dest))
		onDisk, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, data, onDisk)
	})

	t.Run("size limit", func(t *testing.T) {
		blobs := newBlobs(t)
		require.NoError(t, blobs.PutBlob(ctx, "thumbnails/c1", bytes.NewReader(make([]byte, 64)), remote.ThumbnailContentType))
		_, err := blobs.GetBlob(ctx, "thumbnails/c1", 16)
		require.ErrorIs(t, err, remote.ErrTooLarge)
	})

	t.Run("absent and idempotent delete", func(t *testing.T) {
		blobs := newBlobs(t)
		_, err := blobs.GetBlob(ctx, "videos/missing", 0)
		require.ErrorIs(t, err, remote.ErrNotFound)
		err = blobs.GetBlobToFile(ctx, "videos/missing", filepath.Join(t.TempDir(), "x"))
		require.ErrorIs(t, err, remote.ErrNotFound)

		require.NoError(t, blobs.PutBlob(ctx, "videos/c1", bytes.NewReader([]byte("x")), remote.VideoContentType))
		require.NoError(t, blobs.DeleteBlob(ctx, "videos/c1"))
		require.NoError(t, blobs.DeleteBlob(ctx, "videos/c1"))
		_, err = blobs.GetBlob(ctx, "videos/c1", 0)
		require.ErrorIs(t, err, remote.ErrNotFound)
	})
}
