package bucket

import (
	"context"
	"os"
	"strings"
	"time"

	pkgerrors "github.com/omalloc/depot/pkg/errors"
	"github.com/omalloc/depot/pkg/xattr"
	"github.com/omalloc/depot/storage/metrics"
	"github.com/omalloc/depot/storage/space"
)

// propertiesConfig is built up by PropertiesOption values.
type propertiesConfig struct {
	recursiveSize bool
}

// PropertiesOption configures Properties.
type PropertiesOption func(*propertiesConfig)

// WithRecursiveSize makes Properties compute a directory's size via a
// recursive sweep instead of returning 0.
func WithRecursiveSize(v bool) PropertiesOption {
	return func(c *propertiesConfig) { c.recursiveSize = v }
}

// Properties returns the metadata record for key.
func (b *Bucket) Properties(ctx context.Context, key Key, opts ...PropertiesOption) (Properties, error) {
	cfg := propertiesConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return Properties{}, err
	}
	defer rollback(tx)

	row, err := b.pi.GetRow(ctx, tx, string(key))
	if err != nil {
		return Properties{}, err
	}
	if err := tx.Commit(); err != nil {
		return Properties{}, pkgerrors.IO(err)
	}

	fsPath := b.fsPath(row.Path)
	var size uint64
	var mtime int64
	if info, err := os.Stat(fsPath); err == nil {
		mtime = info.ModTime().Unix()
		if !row.IsDir {
			size = uint64(info.Size())
		}
	}
	if row.IsDir && cfg.recursiveSize {
		if n, err := space.DirSize(fsPath); err == nil {
			size = n
		}
	}

	return Properties{
		Name:       baseName(row.Path),
		Hash:       Key(row.Hash),
		IsDir:      row.IsDir,
		Owner:      0,
		CreateAt:   mtime,
		UpdateAt:   mtime,
		SeeTime:    mtime,
		IsFavorite: row.IsFavorite,
		IsDelete:   row.IsDeleted,
		Size:       size,
	}, nil
}

// SetFavorites marks every key as a favorite, in both the Path Index and
// its xattr.
func (b *Bucket) SetFavorites(ctx context.Context, keys []Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	for _, k := range keys {
		path, err := b.pi.GetPath(ctx, tx, string(k))
		if err != nil {
			return err
		}
		if err := b.pi.SetFavorite(ctx, tx, string(k)); err != nil {
			return err
		}
		if err := xattr.SetBool(b.attrs, b.fsPath(path), xattr.KeyIsFavorite, true); err != nil {
			return pkgerrors.IO(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// UnsetFavorites clears the favorite mark for every key and commits its
// transaction.
func (b *Bucket) UnsetFavorites(ctx context.Context, keys []Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	for _, k := range keys {
		path, err := b.pi.GetPath(ctx, tx, string(k))
		if err != nil {
			return err
		}
		if err := b.pi.UnsetFavorite(ctx, tx, string(k)); err != nil {
			return err
		}
		if err := xattr.SetBool(b.attrs, b.fsPath(path), xattr.KeyIsFavorite, false); err != nil {
			return pkgerrors.IO(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// GetFavorites lists favorited entries, skipping those currently
// soft-deleted.
func (b *Bucket) GetFavorites(ctx context.Context) ([]FsItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	rows, err := b.pi.GetFavorites(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.IO(err)
	}

	items := make([]FsItem, 0, len(rows))
	for _, row := range rows {
		if row.IsDeleted {
			continue
		}
		item, err := b.toFsItem(row, false)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// SetDelete soft-deletes every key: xattr flags plus a Path Index trash
// entry expiring after RetentionSeconds.
func (b *Bucket) SetDelete(ctx context.Context, keys []Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().Unix()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	for _, k := range keys {
		path, err := b.pi.GetPath(ctx, tx, string(k))
		if err != nil {
			return err
		}
		fsPath := b.fsPath(path)
		if err := xattr.SetBool(b.attrs, fsPath, xattr.KeyIsDelete, true); err != nil {
			return pkgerrors.IO(err)
		}
		if err := xattr.SetI64(b.attrs, fsPath, xattr.KeyDeleteTime, now); err != nil {
			return pkgerrors.IO(err)
		}
		if err := b.pi.SetDelete(ctx, tx, string(k), now+RetentionSeconds); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// RestoreDelete reverses SetDelete for every key.
func (b *Bucket) RestoreDelete(ctx context.Context, keys []Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	for _, k := range keys {
		path, err := b.pi.GetPath(ctx, tx, string(k))
		if err != nil {
			return err
		}
		fsPath := b.fsPath(path)
		if err := xattr.SetBool(b.attrs, fsPath, xattr.KeyIsDelete, false); err != nil {
			return pkgerrors.IO(err)
		}
		if err := b.attrs.Remove(fsPath, xattr.KeyDeleteTime); err != nil {
			return pkgerrors.IO(err)
		}
		if err := b.pi.RestoreDelete(ctx, tx, string(k)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// GetDeletes lists every trashed entry, without filtering.
func (b *Bucket) GetDeletes(ctx context.Context) ([]FsItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	rows, err := b.pi.GetDeletes(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.IO(err)
	}

	items := make([]FsItem, 0, len(rows))
	for _, row := range rows {
		item, err := b.toFsItem(row, false)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GetPath resolves key to its breadcrumb trail, root-to-leaf.
func (b *Bucket) GetPath(ctx context.Context, key Key) ([]Breadcrumb, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if key == RootKey {
		return nil, nil
	}

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	row, err := b.pi.GetRow(ctx, tx, string(key))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.IO(err)
	}

	trimmed := strings.TrimSuffix(row.Path, "/")
	segments := strings.Split(trimmed, "/")

	crumbs := make([]Breadcrumb, 0, len(segments))
	cumulative := ""
	for i, seg := range segments {
		cumulative += seg
		isLast := i == len(segments)-1
		isDirSegment := !isLast || row.IsDir
		if isDirSegment {
			cumulative += "/"
		}
		crumbs = append(crumbs, Breadcrumb{
			Key:   Key(hashFn(cumulative, isDirSegment)),
			Title: seg,
		})
	}
	return crumbs, nil
}

// Remove hard-deletes trashed entries: the filesystem object is removed
// before the Path Index row, so a successful return implies the file is
// gone.
func (b *Bucket) Remove(ctx context.Context, keys []Key) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() { metrics.Observe("remove", err) }()
	defer b.reportQuota()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	for _, k := range keys {
		row, err := b.pi.GetRow(ctx, tx, string(k))
		if err != nil {
			return err
		}
		fsPath := b.fsPath(row.Path)

		var size uint64
		if !row.IsDir {
			if info, err := os.Stat(fsPath); err == nil {
				size = uint64(info.Size())
			}
		} else {
			size, _ = space.DirSize(fsPath)
		}

		if err := os.RemoveAll(fsPath); err != nil {
			return pkgerrors.IO(err)
		}
		if err := b.pi.RemoveTrash(ctx, tx, string(k)); err != nil {
			return err
		}
		if err := b.accountant.DecreaseSize(b.filesDir, size); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// ClearTrash hard-deletes every currently trashed entry.
func (b *Bucket) ClearTrash(ctx context.Context) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() { metrics.Observe("clear_trash", err) }()
	defer b.reportQuota()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	rows, err := b.pi.ClearTrash(ctx, tx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fsPath := b.fsPath(row.Path)
		var size uint64
		if !row.IsDir {
			if info, err := os.Stat(fsPath); err == nil {
				size = uint64(info.Size())
			}
		} else {
			size, _ = space.DirSize(fsPath)
		}
		if err := os.RemoveAll(fsPath); err != nil {
			return pkgerrors.IO(err)
		}
		if err := b.accountant.DecreaseSize(b.filesDir, size); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.IO(err)
	}
	metrics.TrashSweepTotal.WithLabelValues("clear_trash").Add(float64(len(rows)))
	return nil
}

// SweepExpired purges every trashed entry whose retention window has
// elapsed as of now. Intended to run periodically from a background
// goroutine owned by the caller.
func (b *Bucket) SweepExpired(ctx context.Context, now int64) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() { metrics.Observe("sweep_expired", err) }()
	defer b.reportQuota()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	rows, err := b.pi.RemoveExpired(ctx, tx, now)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fsPath := b.fsPath(row.Path)
		var size uint64
		if !row.IsDir {
			if info, err := os.Stat(fsPath); err == nil {
				size = uint64(info.Size())
			}
		} else {
			size, _ = space.DirSize(fsPath)
		}
		if err := os.RemoveAll(fsPath); err != nil {
			return pkgerrors.IO(err)
		}
		if err := b.pi.RemoveTrash(ctx, tx, row.Hash); err != nil {
			return err
		}
		if err := b.accountant.DecreaseSize(b.filesDir, size); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return pkgerrors.IO(err)
	}
	metrics.TrashSweepTotal.WithLabelValues("expired").Add(float64(len(rows)))
	return nil
}
