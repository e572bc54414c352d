// Package fingerprint provides an auxiliary membership check a caller can
// layer on top of a static function or MPH: since these structures return a
// value for any input, including keys never presented at build time, a
// short independent fingerprint narrows false positives to about 1 in
// 2^bits without needing the original key set at query time.
package fingerprint

import "github.com/cespare/xxhash/v2"

// Sum64 returns a 64-bit fingerprint of key, independent of the signature
// hash used internally by the static function or MPH this key was built
// into. Using a distinct hash family avoids correlated collisions between
// the structure's own signature and its fingerprint check.
func Sum64(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// Truncate narrows a 64-bit fingerprint to the low bits-wide value stored
// alongside a static function's payload. bits must be in [1, 64].
func Truncate(sum uint64, bits uint) uint64 {
	if bits >= 64 {
		return sum
	}
	return sum & (uint64(1)<<bits - 1)
}

// Verify reports whether key's truncated fingerprint matches stored, the
// value previously retrieved from the static function at key's assigned
// position.
func Verify(key []byte, bits uint, stored uint64) bool {
	return Truncate(Sum64(key), bits) == stored
}
