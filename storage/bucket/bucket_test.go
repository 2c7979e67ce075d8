package bucket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/omalloc/depot/pkg/errors"
)

func newTestBucket(t *testing.T, quota uint64) *Bucket {
	t.Helper()
	storeRoot := t.TempDir()
	b, err := Create(context.Background(), storeRoot, "bkt-1", quota)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func keyPtr(k Key) *Key { return &k }

// Scenario 1: create bucket + add a file, quota accounting matches.
func TestScenarioCreateAndAddFile(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 30)

	h, err := b.Add(ctx, KeyValue{Name: "index.js", Value: []byte(`console.log("Hello world!")`)})
	require.NoError(t, err)
	require.NotEmpty(t, h)

	item, err := b.Get(ctx, h, false)
	require.NoError(t, err)
	require.Equal(t, []byte(`console.log("Hello world!")`), item.Buffer)

	usage, err := b.Usage()
	require.NoError(t, err)
	require.EqualValues(t, 27, usage)
}

// Scenario 2: nested directories, get_items counts.
func TestScenarioNestedDirectory(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	h1, err := b.Add(ctx, KeyValue{Name: "index"})
	require.NoError(t, err)
	h2, err := b.Add(ctx, KeyValue{ParentKey: keyPtr(h1), Name: "index"})
	require.NoError(t, err)

	rootItems, err := b.GetItems(ctx, RootKey)
	require.NoError(t, err)
	require.Len(t, rootItems, 1)

	childItems, err := b.GetItems(ctx, h1)
	require.NoError(t, err)
	require.Len(t, childItems, 1)
	require.Equal(t, h2.String(), childItems[0].Hash.String())
}

// Scenario 3: rename a subtree.
func TestScenarioRenameSubtree(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	hIndex, err := b.Add(ctx, KeyValue{Name: "index"})
	require.NoError(t, err)
	_, err = b.Add(ctx, KeyValue{ParentKey: keyPtr(hIndex), Name: "index.js", Value: []byte("a")})
	require.NoError(t, err)
	hSub, err := b.Add(ctx, KeyValue{ParentKey: keyPtr(hIndex), Name: "index"})
	require.NoError(t, err)
	_, err = b.Add(ctx, KeyValue{ParentKey: keyPtr(hSub), Name: "index.js", Value: []byte("b")})
	require.NoError(t, err)

	renamed, err := b.Rename(ctx, hIndex, "test")
	require.NoError(t, err)
	require.Len(t, renamed, 4)

	_, err = b.Get(ctx, hIndex, true)
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.KindNotFound))

	items, err := b.GetItems(ctx, RootKey)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "test", items[0].Name)
}

// Scenario 4: moving a directory into its own child is forbidden.
func TestScenarioMoveIntoChildForbidden(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	hA, err := b.Add(ctx, KeyValue{Name: "a"})
	require.NoError(t, err)
	hB, err := b.Add(ctx, KeyValue{ParentKey: keyPtr(hA), Name: "b"})
	require.NoError(t, err)

	_, err = b.Move(ctx, hA, hB)
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.KindInvalidInput))
}

// Scenario 5: soft-delete round trip.
func TestScenarioSoftDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	h1, err := b.Add(ctx, KeyValue{Name: "a.txt", Value: []byte("a")})
	require.NoError(t, err)
	h2, err := b.Add(ctx, KeyValue{Name: "b.txt", Value: []byte("b")})
	require.NoError(t, err)

	require.NoError(t, b.SetDelete(ctx, []Key{h1, h2}))

	deletes, err := b.GetDeletes(ctx)
	require.NoError(t, err)
	require.Len(t, deletes, 2)

	require.NoError(t, b.RestoreDelete(ctx, []Key{h1}))

	deletes, err = b.GetDeletes(ctx)
	require.NoError(t, err)
	require.Len(t, deletes, 1)

	items, err := b.GetItems(ctx, RootKey)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "a.txt", items[0].Name)
}

// Scenario 6: favorites listing filters out soft-deleted entries.
func TestScenarioFavoritesListing(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	h1, err := b.Add(ctx, KeyValue{Name: "a.txt", Value: []byte("a")})
	require.NoError(t, err)
	h2, err := b.Add(ctx, KeyValue{Name: "b.txt", Value: []byte("b")})
	require.NoError(t, err)

	require.NoError(t, b.SetFavorites(ctx, []Key{h1}))
	require.NoError(t, b.SetFavorites(ctx, []Key{h2}))

	favs, err := b.GetFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 2)

	require.NoError(t, b.SetDelete(ctx, []Key{h1}))

	favs, err = b.GetFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	require.Equal(t, "b.txt", favs[0].Name)
}

// P3: quota monotonicity.
func TestQuotaMonotonicity(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 100)

	h, err := b.Add(ctx, KeyValue{Name: "a.txt", Value: []byte("12345")})
	require.NoError(t, err)
	usage, err := b.Usage()
	require.NoError(t, err)
	require.EqualValues(t, 5, usage)

	require.NoError(t, b.SetDelete(ctx, []Key{h}))
	require.NoError(t, b.Remove(ctx, []Key{h}))

	usage, err = b.Usage()
	require.NoError(t, err)
	require.EqualValues(t, 0, usage)
}

func TestAddFailsStorageFullOverQuota(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 4)
	_, err := b.Add(ctx, KeyValue{Name: "a.txt", Value: []byte("12345")})
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.KindStorageFull))
}

// P7: favorites persist across rename via FK cascade.
func TestFavoritesSurviveRename(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	h, err := b.Add(ctx, KeyValue{Name: "a.txt", Value: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, b.SetFavorites(ctx, []Key{h}))

	renamed, err := b.Rename(ctx, h, "b.txt")
	require.NoError(t, err)
	require.Len(t, renamed, 1)
	newHash := renamed[0]

	favs, err := b.GetFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	require.Equal(t, newHash.String(), favs[0].Hash.String())
}

// P8: breadcrumbs.
func TestGetPathBreadcrumbs(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	hDir, err := b.Add(ctx, KeyValue{Name: "dir"})
	require.NoError(t, err)
	hFile, err := b.Add(ctx, KeyValue{ParentKey: keyPtr(hDir), Name: "file.txt", Value: []byte("x")})
	require.NoError(t, err)

	crumbs, err := b.GetPath(ctx, hFile)
	require.NoError(t, err)
	require.Len(t, crumbs, 2)
	require.Equal(t, "dir", crumbs[0].Title)
	require.Equal(t, "file.txt", crumbs[1].Title)
	require.Equal(t, hDir.String(), crumbs[0].Key.String())
	require.Equal(t, hFile.String(), crumbs[1].Key.String())
}

// P9: trash purge removes from both FS and PI.
func TestSweepExpiredPurges(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	h, err := b.Add(ctx, KeyValue{Name: "a.txt", Value: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, b.SetDelete(ctx, []Key{h}))

	require.NoError(t, b.SweepExpired(ctx, 0))
	deletes, err := b.GetDeletes(ctx)
	require.NoError(t, err)
	require.Len(t, deletes, 1)

	require.NoError(t, b.SweepExpired(ctx, 9999999999))
	deletes, err = b.GetDeletes(ctx)
	require.NoError(t, err)
	require.Empty(t, deletes)

	_, err = b.Get(ctx, h, true)
	require.Error(t, err)
}

func TestCopyLeavesSourceIntact(t *testing.T) {
	ctx := context.Background()
	b := newTestBucket(t, 1<<20)

	hDir, err := b.Add(ctx, KeyValue{Name: "src"})
	require.NoError(t, err)
	_, err = b.Add(ctx, KeyValue{ParentKey: keyPtr(hDir), Name: "f.txt", Value: []byte("x")})
	require.NoError(t, err)
	hDst, err := b.Add(ctx, KeyValue{Name: "dst"})
	require.NoError(t, err)

	copied, err := b.Copy(ctx, hDir, hDst)
	require.NoError(t, err)
	require.Len(t, copied, 2)

	_, err = b.Get(ctx, hDir, true)
	require.NoError(t, err)

	items, err := b.GetItems(ctx, hDst)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "src", items[0].Name)
}
