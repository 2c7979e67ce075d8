package xattr

import (
	"errors"

	"github.com/pkg/xattr"
)

// nativeStore backs attributes with real filesystem extended attributes.
type nativeStore struct{}

func (nativeStore) Get(path, key string) ([]byte, bool, error) {
	buf, err := xattr.Get(path, key)
	if err != nil {
		if isNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return buf, true, nil
}

func (nativeStore) Set(path, key string, value []byte) error {
	return xattr.Set(path, key, value)
}

func (nativeStore) Remove(path, key string) error {
	if err := xattr.Remove(path, key); err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

func isNotExist(err error) bool {
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		return errors.Is(xerr.Err, xattr.ENOATTR)
	}
	return false
}

// supportsNative probes whether dir's filesystem accepts a user.* xattr by
// writing and removing a throwaway attribute on dir itself.
func supportsNative(dir string) bool {
	const probeKey = "user.depot.xattr_probe"
	if err := xattr.Set(dir, probeKey, []byte("1")); err != nil {
		return false
	}
	_ = xattr.Remove(dir, probeKey)
	return true
}
