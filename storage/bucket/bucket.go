// Package bucket implements the Bucket Engine: the orchestrator that
// keeps the Path Index, the on-disk payload tree under files/, and
// per-entry xattrs consistent for every user-facing operation.
package bucket

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgerrors "github.com/omalloc/depot/pkg/errors"
	"github.com/omalloc/depot/pkg/hash"
	"github.com/omalloc/depot/pkg/xattr"
	"github.com/omalloc/depot/storage/metrics"
	"github.com/omalloc/depot/storage/pathindex"
	"github.com/omalloc/depot/storage/space"

	"github.com/omalloc/depot/contrib/log"
)

// RetentionSeconds is how long a soft-deleted entry survives in trash
// before a sweep may purge it.
const RetentionSeconds = 30 * 24 * 60 * 60

// Key is the external hash handle for an Entry: 16 uppercase hex
// characters, the textual fingerprint of its path.
type Key string

// String satisfies fmt.Stringer.
func (k Key) String() string { return string(k) }

// RootKey is the zero Key, denoting the bucket root ("files/" itself)
// when used as a parent key.
const RootKey Key = ""

// KeyValue is the input to Add: a name under an optional parent
// directory, plus either file bytes or nil to create a directory.
type KeyValue struct {
	ParentKey *Key
	Name      string
	Value     []byte // nil means "create directory"
}

// Breadcrumb is one segment of a resolved path, from root to a key.
type Breadcrumb struct {
	Key   Key
	Title string
}

// FsItem is the read-shape returned by Get/GetItems/GetFavorites/GetDeletes.
type FsItem struct {
	Name       string
	Hash       Key
	Size       uint64
	FileType   string
	MimeType   string
	IsDir      bool
	IsFavorite bool
	IsDelete   bool
	SeeTime    int64
	DeleteAt   *int64
	Buffer     []byte
}

// Properties is the read-shape returned by Properties.
type Properties struct {
	Name        string
	Hash        Key
	IsDir       bool
	Owner       int64
	CreateAt    int64
	UpdateAt    int64
	SeeTime     int64
	IsFavorite  bool
	IsDelete    bool
	Size        uint64
	Description string
}

// hashFn adapts pkg/hash to pathindex.HashFunc, applying the
// trailing-slash-for-directories convention at the one place both
// components agree on it.
func hashFn(path string, isDir bool) string {
	if isDir && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return hash.Hash(path)
}

// Bucket is one tenant namespace: a payload tree, a Path Index, and the
// quota/flags xattrs on its root.
type Bucket struct {
	uuid     string
	root     string // store_path/uuid
	filesDir string // root/files

	mu sync.RWMutex

	pi         *pathindex.PathIndex
	attrs      xattr.Store
	accountant *space.Accountant

	log *log.Helper
}

func dsn(root string) string {
	return filepath.Join(root, "user-paths.sqlite")
}

// Create lays out a new bucket under storeRoot/uuid: files/, the Path
// Index, and the quota xattrs on the bucket root. The caller (the Store
// collaborator, storage/store) is responsible for checking and persisting
// the aggregate quota before and after calling Create.
func Create(ctx context.Context, storeRoot, uuid string, bucketSpace uint64) (*Bucket, error) {
	root := filepath.Join(storeRoot, uuid)
	filesDir := filepath.Join(root, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, pkgerrors.IO(err)
	}

	if err := pathindex.Init(dsn(root)); err != nil {
		return nil, err
	}

	attrs := xattr.Open(root)
	if err := xattr.SetU64(attrs, root, xattr.KeyAvailableSpace, bucketSpace); err != nil {
		return nil, pkgerrors.IO(err)
	}
	if err := xattr.SetU64(attrs, root, xattr.KeyUsageSpace, 0); err != nil {
		return nil, pkgerrors.IO(err)
	}

	return Open(ctx, storeRoot, uuid)
}

// Open returns a handle to an already-created bucket, opening its Path
// Index connection. Quota xattrs are read on demand, not at Open.
func Open(ctx context.Context, storeRoot, uuid string) (*Bucket, error) {
	root := filepath.Join(storeRoot, uuid)
	filesDir := filepath.Join(root, "files")

	pi, err := pathindex.Open(dsn(root))
	if err != nil {
		return nil, err
	}

	attrs := xattr.Open(root)
	b := &Bucket{
		uuid:       uuid,
		root:       root,
		filesDir:   filesDir,
		pi:         pi,
		attrs:      attrs,
		accountant: space.NewAccountant(root, attrs),
		log:        log.NewHelper(log.GetLogger()),
	}
	return b, nil
}

// Close releases the bucket's Path Index connection.
func (b *Bucket) Close() error {
	return b.pi.Close()
}

// UUID returns the bucket's identifier.
func (b *Bucket) UUID() string { return b.uuid }

// Available returns the bucket's configured quota in bytes.
func (b *Bucket) Available() uint64 { return b.accountant.Available() }

// Usage returns the bucket's current usage in bytes.
func (b *Bucket) Usage() (uint64, error) { return b.accountant.Usage(b.filesDir) }

// reportQuota refreshes the quota gauges after a mutating operation. Best
// effort: a failure to read usage is swallowed since this is metrics, not
// a quota decision.
func (b *Bucket) reportQuota() {
	metrics.QuotaAvailableBytes.WithLabelValues(b.uuid).Set(float64(b.Available()))
	if usage, err := b.Usage(); err == nil {
		metrics.QuotaUsageBytes.WithLabelValues(b.uuid).Set(float64(usage))
	}
}

func (b *Bucket) fsPath(entryPath string) string {
	return filepath.Join(b.filesDir, strings.TrimSuffix(entryPath, "/"))
}

func baseName(entryPath string) string {
	trimmed := strings.TrimSuffix(entryPath, "/")
	return filepath.Base(trimmed)
}

// rollback is a convenience for defer; sql.Tx.Rollback after a successful
// Commit is a documented no-op, so this is safe to defer unconditionally.
func rollback(tx interface{ Rollback() error }) {
	_ = tx.Rollback()
}

// Add creates a new file or directory entry under kv.ParentKey.
func (b *Bucket) Add(ctx context.Context, kv KeyValue) (key Key, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer func() { metrics.Observe("add", err) }()
	defer b.reportQuota()

	if kv.Name == "" {
		return "", pkgerrors.ErrInvalidInput.WithMessage("name must not be empty")
	}

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer rollback(tx)

	parentPath := ""
	if kv.ParentKey != nil && *kv.ParentKey != RootKey {
		parentPath, err = b.pi.GetPath(ctx, tx, string(*kv.ParentKey))
		if err != nil {
			return "", err
		}
	}

	isDir := kv.Value == nil
	entryPath := parentPath + kv.Name
	if isDir {
		entryPath += "/"
	}
	h := hashFn(entryPath, isDir)

	if err := b.pi.AddKey(ctx, tx, h, entryPath, isDir); err != nil {
		return "", err
	}

	fsPath := b.fsPath(entryPath)
	if isDir {
		if err := os.MkdirAll(fsPath, 0o755); err != nil {
			return "", pkgerrors.IO(err)
		}
	} else {
		n := uint64(len(kv.Value))
		if err := b.accountant.IncreaseSize(b.filesDir, n); err != nil {
			return "", err
		}
		if err := os.WriteFile(fsPath, kv.Value, 0o644); err != nil {
			_ = b.accountant.DecreaseSize(b.filesDir, n)
			return "", pkgerrors.IO(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", pkgerrors.IO(err)
	}
	b.log.Debugf("bucket add: hash=%s path=%s", h, entryPath)
	return Key(h), nil
}

// Adds applies Add to every item in order, stopping at the first failure.
// Prior successes are not rolled back: there is no batch atomicity
// guarantee across the items in one call.
func (b *Bucket) Adds(ctx context.Context, items []KeyValue) ([]Key, error) {
	out := make([]Key, 0, len(items))
	for _, kv := range items {
		h, err := b.Add(ctx, kv)
		if err != nil {
			return out, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Get resolves key and returns its metadata, and its file bytes unless
// infoOnly is set. Fails IsADirectory for a directory key unless infoOnly
// is set.
func (b *Bucket) Get(ctx context.Context, key Key, infoOnly bool) (FsItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return FsItem{}, err
	}
	defer rollback(tx)

	row, err := b.pi.GetRow(ctx, tx, string(key))
	if err != nil {
		return FsItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return FsItem{}, pkgerrors.IO(err)
	}

	item, err := b.toFsItem(row, !infoOnly && !row.IsDir)
	if err != nil {
		return FsItem{}, err
	}
	if !infoOnly && row.IsDir {
		return FsItem{}, pkgerrors.ErrIsADirectory.WithMessage("cannot read bytes of directory %s", row.Path)
	}
	return item, nil
}

func (b *Bucket) toFsItem(row pathindex.Row, withBuffer bool) (FsItem, error) {
	fsPath := b.fsPath(row.Path)
	item := FsItem{
		Name:       baseName(row.Path),
		Hash:       Key(row.Hash),
		IsDir:      row.IsDir,
		IsFavorite: row.IsFavorite,
		IsDelete:   row.IsDeleted,
	}
	if row.IsDeleted {
		dt := row.DeleteTime
		item.DeleteAt = &dt
	}

	if !row.IsDir {
		item.FileType = strings.TrimPrefix(filepath.Ext(item.Name), ".")
		item.MimeType = mimeType(item.Name)
		info, err := os.Stat(fsPath)
		if err == nil {
			item.Size = uint64(info.Size())
			item.SeeTime = info.ModTime().Unix()
		}
		if withBuffer {
			buf, err := os.ReadFile(fsPath)
			if err != nil {
				return FsItem{}, pkgerrors.IO(err)
			}
			item.Buffer = buf
		}
	} else {
		info, err := os.Stat(fsPath)
		if err == nil {
			item.SeeTime = info.ModTime().Unix()
		}
	}
	return item, nil
}

// GetItems enumerates the direct children of the directory at key (or the
// bucket root's files/ when key is RootKey), omitting soft-deleted
// entries.
func (b *Bucket) GetItems(ctx context.Context, key Key) ([]FsItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	prefix := ""
	if key != RootKey {
		row, err := b.pi.GetRow(ctx, tx, string(key))
		if err != nil {
			return nil, err
		}
		if !row.IsDir {
			return nil, pkgerrors.ErrNotADirectory.WithMessage("%s is not a directory", row.Path)
		}
		prefix = row.Path
	}

	rows, err := b.pi.ListChildren(ctx, tx, prefix)
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
