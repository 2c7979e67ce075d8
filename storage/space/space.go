// Package space implements disk-size accounting and quota bookkeeping for
// a bucket root.
package space

import (
	"io/fs"
	"path/filepath"

	pkgerrors "github.com/omalloc/depot/pkg/errors"
	"github.com/omalloc/depot/pkg/xattr"
)

// DiskCapacityFunc returns the total byte capacity of the device backing
// dir. Tests and callers supply their own budget instead of depending on
// the real device.
type DiskCapacityFunc func(dir string) (uint64, error)

// DirSize recursively sums the apparent size of every regular file under
// root, never following symlinks and never leaving root.
func DirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return 0, pkgerrors.IO(err)
	}
	return total, nil
}

// Accountant tracks available/usage space for one bucket root via its
// xattr.Store.
type Accountant struct {
	root  string
	attrs xattr.Store
}

// NewAccountant builds an Accountant over root's attribute store.
func NewAccountant(root string, attrs xattr.Store) *Accountant {
	return &Accountant{root: root, attrs: attrs}
}

// Available returns the bucket's configured quota.
func (a *Accountant) Available() uint64 {
	return xattr.GetU64(a.attrs, a.root, xattr.KeyAvailableSpace, 0)
}

// SetAvailable sets the bucket's configured quota (used only at bucket
// creation).
func (a *Accountant) SetAvailable(n uint64) error {
	return xattr.SetU64(a.attrs, a.root, xattr.KeyAvailableSpace, n)
}

// Usage returns cached usage, computing and caching it via DirSize the
// first time it is requested on a bucket whose usage xattr is unset.
func (a *Accountant) Usage(filesDir string) (uint64, error) {
	_, ok, err := a.attrs.Get(a.root, xattr.KeyUsageSpace)
	if err != nil {
		return 0, pkgerrors.IO(err)
	}
	if ok {
		return xattr.GetU64(a.attrs, a.root, xattr.KeyUsageSpace, 0), nil
	}

	n, err := DirSize(filesDir)
	if err != nil {
		return 0, err
	}
	if err := xattr.SetU64(a.attrs, a.root, xattr.KeyUsageSpace, n); err != nil {
		return 0, pkgerrors.IO(err)
	}
	return n, nil
}

// GetSpace returns the bucket's configured quota and current usage.
func (a *Accountant) GetSpace(filesDir string) (available, usage uint64, err error) {
	usage, err = a.Usage(filesDir)
	if err != nil {
		return 0, 0, err
	}
	return a.Available(), usage, nil
}

// IncreaseSize reserves n additional bytes of usage, failing with
// ErrStorageFull if the bucket's quota would be exceeded. The caller must
// hold the bucket's mutation lock: this read-modify-write is not itself
// safe against concurrent callers.
func (a *Accountant) IncreaseSize(filesDir string, n uint64) error {
	available, usage, err := a.GetSpace(filesDir)
	if err != nil {
		return err
	}
	if usage+n > available {
		return pkgerrors.ErrStorageFull.WithMessage(
			"need %d more bytes, only %d available", n, available-usage)
	}
	return xattr.SetU64(a.attrs, a.root, xattr.KeyUsageSpace, usage+n)
}

// DecreaseSize releases n bytes of usage, saturating at zero.
func (a *Accountant) DecreaseSize(filesDir string, n uint64) error {
	_, usage, err := a.GetSpace(filesDir)
	if err != nil {
		return err
	}
	if n > usage {
		n = usage
	}
	return xattr.SetU64(a.attrs, a.root, xattr.KeyUsageSpace, usage-n)
}
