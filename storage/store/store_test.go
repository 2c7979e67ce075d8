package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/omalloc/depot/pkg/errors"
)

func TestCreateAndOpenBucket(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := New(ctx, root, "primary", 1024)
	require.NoError(t, err)

	b, err := s.CreateBucket(ctx, 256)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	require.EqualValues(t, 256, s.Descriptor().UsageSpace)

	reopened, err := Open(ctx, root)
	require.NoError(t, err)
	require.EqualValues(t, 256, reopened.Descriptor().UsageSpace)
	require.Equal(t, "primary", reopened.Descriptor().StoreName)
}

func TestCreateBucketFailsOverQuota(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := New(ctx, root, "primary", 100)
	require.NoError(t, err)

	_, err = s.CreateBucket(ctx, 256)
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.KindStorageFull))
}
