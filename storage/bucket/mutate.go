package bucket

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/omalloc/depot/pkg/errors"
)

// splitLastSegment returns (parentPrefix, lastSegment) for an indexed
// path: the directory portion (with trailing "/" or "") and the final
// path component being renamed.
func splitLastSegment(path string) (parent, segment string) {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", trimmed
	}
	return trimmed[:idx+1], trimmed[idx+1:]
}

// Rename replaces the final path component of key with newName, re-keying
// the entry and (for a directory) every descendant.
func (b *Bucket) Rename(ctx context.Context, key Key, newName string) ([]Key, error) {
	if newName == "" {
		return nil, pkgerrors.ErrInvalidInput.WithMessage("new name must not be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	row, err := b.pi.GetRow(ctx, tx, string(key))
	if err != nil {
		return nil, err
	}

	parent, _ := splitLastSegment(row.Path)
	newPath := parent + newName
	if row.IsDir {
		newPath += "/"
	}

	renamed, err := b.pi.UpdatePaths(ctx, tx, row.Path, newPath, hashFn)
	if err != nil {
		return nil, err
	}

	if err := os.Rename(b.fsPath(row.Path), b.fsPath(newPath)); err != nil {
		return nil, pkgerrors.IO(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.IO(err)
	}

	keys := make([]Key, 0, len(renamed))
	for _, r := range renamed {
		keys = append(keys, Key(r.NewHash))
	}
	return keys, nil
}

// Move relocates keyFrom under keyTo, keeping its sidecars (favorite,
// delete) via FK cascade on the re-keyed rows.
func (b *Bucket) Move(ctx context.Context, keyFrom, keyTo Key) ([]Key, error) {
	if keyFrom == keyTo {
		return nil, pkgerrors.ErrInvalidInput.WithMessage("move source and destination are the same key")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	fromRow, err := b.pi.GetRow(ctx, tx, string(keyFrom))
	if err != nil {
		return nil, err
	}

	toPath := ""
	if keyTo != RootKey {
		toRow, err := b.pi.GetRow(ctx, tx, string(keyTo))
		if err != nil {
			return nil, err
		}
		if !toRow.IsDir {
			return nil, pkgerrors.ErrNotADirectory.WithMessage("move destination %s is not a directory", toRow.Path)
		}
		toPath = toRow.Path
	}

	if toPath != "" && strings.HasPrefix(toPath, fromRow.Path) {
		return nil, pkgerrors.ErrInvalidInput.WithMessage("cannot move %s into its own descendant %s", fromRow.Path, toPath)
	}

	_, segment := splitLastSegment(fromRow.Path)
	dest := toPath + segment
	if fromRow.IsDir {
		dest += "/"
	}

	renamed, err := b.pi.UpdatePaths(ctx, tx, fromRow.Path, dest, hashFn)
	if err != nil {
		return nil, err
	}

	srcFS := b.fsPath(fromRow.Path)
	destFS := b.fsPath(dest)
	if err := copyTree(srcFS, destFS); err != nil {
		return nil, pkgerrors.IO(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.IO(err)
	}

	// The index state is now committed. Removing the source is cleanup: a
	// failure here leaves the data duplicated, not lost, so it is logged
	// rather than surfaced as an error.
	if err := os.RemoveAll(srcFS); err != nil {
		b.log.Warnf("move: copied %s to %s but failed to remove source: %v", srcFS, destFS, err)
	}

	keys := make([]Key, 0, len(renamed))
	for _, r := range renamed {
		keys = append(keys, Key(r.NewHash))
	}
	return keys, nil
}

// Copy duplicates keyFrom's subtree under keyTo, leaving the source
// intact. Favorite/delete sidecars are not carried over — only paths
// entries are duplicated.
func (b *Bucket) Copy(ctx context.Context, keyFrom, keyTo Key) ([]Key, error) {
	if keyFrom == keyTo {
		return nil, pkgerrors.ErrInvalidInput.WithMessage("copy source and destination are the same key")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	fromRow, err := b.pi.GetRow(ctx, tx, string(keyFrom))
	if err != nil {
		return nil, err
	}

	toPath := ""
	if keyTo != RootKey {
		toRow, err := b.pi.GetRow(ctx, tx, string(keyTo))
		if err != nil {
			return nil, err
		}
		if !toRow.IsDir {
			return nil, pkgerrors.ErrNotADirectory.WithMessage("copy destination %s is not a directory", toRow.Path)
		}
		toPath = toRow.Path
	}

	if toPath != "" && strings.HasPrefix(toPath, fromRow.Path) {
		return nil, pkgerrors.ErrInvalidInput.WithMessage("cannot copy %s into its own descendant %s", fromRow.Path, toPath)
	}

	_, segment := splitLastSegment(fromRow.Path)
	dest := toPath + segment
	if fromRow.IsDir {
		dest += "/"
	}

	copied, err := b.pi.CopyPaths(ctx, tx, fromRow.Path, dest, hashFn)
	if err != nil {
		return nil, err
	}

	if err := copyTree(b.fsPath(fromRow.Path), b.fsPath(dest)); err != nil {
		return nil, pkgerrors.IO(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, pkgerrors.IO(err)
	}

	keys := make([]Key, 0, len(copied))
	for _, r := range copied {
		keys = append(keys, Key(r.NewHash))
	}
	return keys, nil
}

// copyTree duplicates src onto dst, following no symlinks, working for
// both a single file and a directory subtree.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return pkgerrors.ErrInvalidInput.WithMessage("refusing to copy symlink %s", src)
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
