// Package xattr stores small typed attributes on filesystem entries:
// quota counters, delete/favorite flags, timestamps.
//
// Two backends satisfy the Store interface: a real extended-attribute
// backend (github.com/pkg/xattr) and a JSON-sidecar-file backend for
// filesystems that reject user.* xattrs (overlayfs, some tmpfs configs,
// non-Linux/BSD targets). Open probes once and picks whichever works.
package xattr

import (
	"strconv"
)

// Store reads and writes named byte-string attributes on a single path.
type Store interface {
	// Get returns the raw bytes of key, or (nil, false) if key is unset.
	// A missing attribute is not an error.
	Get(path, key string) ([]byte, bool, error)
	// Set writes key to value, creating or overwriting it.
	Set(path, key string, value []byte) error
	// Remove deletes key. Removing a key that is already absent is not an
	// error.
	Remove(path, key string) error
}

// Well-known attribute keys.
const (
	KeyAvailableSpace = "user.available_space"
	KeyUsageSpace     = "user.usage_space"
	KeyIsDelete       = "user.is_delete"
	KeyDeleteTime     = "user.delete_time"
	KeyIsFavorite     = "user.is_favorite"
)

// GetBool returns the boolean value of key ("true"/"false"), or def if
// unset or unparseable.
func GetBool(s Store, path, key string, def bool) bool {
	buf, ok, err := s.Get(path, key)
	if err != nil || !ok {
		return def
	}
	switch string(buf) {
	case "true":
		return true
	case "false":
		return false
	default:
		return def
	}
}

// SetBool writes key as the literal string "true" or "false".
func SetBool(s Store, path, key string, v bool) error {
	if v {
		return s.Set(path, key, []byte("true"))
	}
	return s.Set(path, key, []byte("false"))
}

// GetU64 returns the uint64 decimal value of key, or def if unset or
// unparseable.
func GetU64(s Store, path, key string, def uint64) uint64 {
	buf, ok, err := s.Get(path, key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// SetU64 writes key as a decimal string.
func SetU64(s Store, path, key string, v uint64) error {
	return s.Set(path, key, []byte(strconv.FormatUint(v, 10)))
}

// GetI64 returns the int64 decimal value of key, or def if unset or
// unparseable.
func GetI64(s Store, path, key string, def int64) int64 {
	buf, ok, err := s.Get(path, key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// SetI64 writes key as a decimal string.
func SetI64(s Store, path, key string, v int64) error {
	return s.Set(path, key, []byte(strconv.FormatInt(v, 10)))
}
