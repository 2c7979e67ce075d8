package pathindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testHashFn(path string, isDir bool) string {
	if isDir && path[len(path)-1] != '/' {
		path += "/"
	}
	return "H:" + path
}

func openTestIndex(t *testing.T) *PathIndex {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, Init(dsn))
	pi, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pi.Close() })
	return pi
}

func TestInitRejectsDoubleInit(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, Init(dsn))
	require.Error(t, Init(dsn))
}

func TestAddKeyAndGetPath(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()

	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pi.AddKey(ctx, tx, "H1", "/a/b.txt", false))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	path, err := pi.GetPath(ctx, tx, "H1")
	require.NoError(t, err)
	require.Equal(t, "/a/b.txt", path)
	require.NoError(t, tx.Commit())
}

func TestAddKeyDuplicatePathFails(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()

	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pi.AddKey(ctx, tx, "H1", "/a/b.txt", false))
	err = pi.AddKey(ctx, tx, "H2", "/a/b.txt", false)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
}

func TestGetPathNotFound(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()
	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	_, err = pi.GetPath(ctx, tx, "nope")
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
}

func TestUpdatePathsRenamesSubtree(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()

	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pi.AddKey(ctx, tx, testHashFn("/dir/", true), "/dir/", true))
	require.NoError(t, pi.AddKey(ctx, tx, testHashFn("/dir/file.txt", false), "/dir/file.txt", false))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	renamed, err := pi.UpdatePaths(ctx, tx, "/dir/", "/moved/", testHashFn)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Len(t, renamed, 2)

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	_, err = pi.ByPath(ctx, tx, "/dir/")
	require.Error(t, err)
	row, err := pi.ByPath(ctx, tx, "/moved/file.txt")
	require.NoError(t, err)
	require.False(t, row.IsDir)
	require.NoError(t, tx.Commit())
}

func TestCopyPathsLeavesOriginal(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()

	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pi.AddKey(ctx, tx, "H1", "/src.txt", false))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	copied, err := pi.CopyPaths(ctx, tx, "/src.txt", "/dst.txt", testHashFn)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Len(t, copied, 1)

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	_, err = pi.ByPath(ctx, tx, "/src.txt")
	require.NoError(t, err)
	_, err = pi.ByPath(ctx, tx, "/dst.txt")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestFavoriteLifecycle(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()

	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pi.AddKey(ctx, tx, "H1", "/a.txt", false))
	require.NoError(t, pi.SetFavorite(ctx, tx, "H1"))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	favs, err := pi.GetFavorites(ctx, tx)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	require.NoError(t, pi.UnsetFavorite(ctx, tx, "H1"))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	favs, err = pi.GetFavorites(ctx, tx)
	require.NoError(t, err)
	require.Empty(t, favs)
	require.NoError(t, tx.Commit())
}

func TestTrashLifecycle(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()

	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pi.AddKey(ctx, tx, "H1", "/a.txt", false))
	require.NoError(t, pi.SetDelete(ctx, tx, "H1", 100))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	deletes, err := pi.GetDeletes(ctx, tx)
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	require.Equal(t, int64(100), deletes[0].DeleteTime)

	expired, err := pi.RemoveExpired(ctx, tx, 50)
	require.NoError(t, err)
	require.Empty(t, expired)

	expired, err = pi.RemoveExpired(ctx, tx, 200)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.NoError(t, pi.RemoveTrash(ctx, tx, "H1"))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	_, err = pi.GetPath(ctx, tx, "H1")
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
}

func TestRestoreDelete(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()

	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pi.AddKey(ctx, tx, "H1", "/a.txt", false))
	require.NoError(t, pi.SetDelete(ctx, tx, "H1", 100))
	require.NoError(t, pi.RestoreDelete(ctx, tx, "H1"))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	deletes, err := pi.GetDeletes(ctx, tx)
	require.NoError(t, err)
	require.Empty(t, deletes)
	row, err := pi.GetRow(ctx, tx, "H1")
	require.NoError(t, err)
	require.False(t, row.IsDeleted)
	require.NoError(t, tx.Commit())
}

func TestListChildrenOnlyDirectDescendants(t *testing.T) {
	pi := openTestIndex(t)
	ctx := context.Background()

	tx, err := pi.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, pi.AddKey(ctx, tx, "Hdir", "/dir/", true))
	require.NoError(t, pi.AddKey(ctx, tx, "Ha", "/dir/a.txt", false))
	require.NoError(t, pi.AddKey(ctx, tx, "Hsub", "/dir/sub/", true))
	require.NoError(t, pi.AddKey(ctx, tx, "Hb", "/dir/sub/b.txt", false))
	require.NoError(t, tx.Commit())

	tx, err = pi.Begin(ctx)
	require.NoError(t, err)
	children, err := pi.ListChildren(ctx, tx, "/dir/")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	paths := make([]string, 0, len(children))
	for _, c := range children {
		paths = append(paths, c.Path)
	}
	require.ElementsMatch(t, []string{"/dir/a.txt", "/dir/sub/"}, paths)
}
