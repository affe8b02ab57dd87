package sqltree

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reelsync/reelsync-agent/internal/remote"
	"github.com/reelsync/reelsync-agent/internal/remote/remotetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "tree.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_TreeContract(t *testing.T) {
	remotetest.RunTree(t, func(t *testing.T) remote.Tree { return openTestStore(t) })
}

func TestStore_SiblingPrefixesStaySeparate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Set(ctx, "p/clips/a", "1"))
	require.NoError(t, s.Set(ctx, "p/clips-archive/a", "2"))
	require.NoError(t, s.Delete(ctx, "p/clips"))

	var v string
	found, err := remote.GetInto(ctx, s, "p/clips-archive/a", &v)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", v)
}

func TestStore_WriteBelowLeafReplacesIt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Set(ctx, "p/creators", "not a map"))
	require.NoError(t, s.Set(ctx, "p/creators/u1", "Ana"))

	var creators map[string]string
	_, err := remote.GetInto(ctx, s, "p/creators", &creators)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"u1": "Ana"}, creators)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	require.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &Store{driver: DriverSQLite}
	require.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "")
	require.Error(t, err)
}
