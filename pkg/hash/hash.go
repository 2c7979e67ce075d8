// Package hash derives the stable, path-keyed fingerprints used as
// external handles for entries inside a bucket.
package hash

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Size is the width, in bytes, of a fingerprint before hex rendering.
const Size = 8

// Hash returns the deterministic 64-bit fingerprint of s, rendered as
// 16 uppercase hex characters. Same input bytes always yield the same
// output, for the lifetime of the process and across restarts: xxhash has
// no seed, so there is nothing to persist or version.
//
// Directories must be hashed with their trailing "/" included by the
// caller — this function hashes exactly the bytes it is given.
func Hash(s string) string {
	sum := xxhash.Sum64String(s)
	var buf [Size]byte
	binary.BigEndian.PutUint64(buf[:], sum)
	return strings.ToUpper(hex.EncodeToString(buf[:]))
}
