// Package offsetseed implements the combined offset+seed table shared by
// every variant: an array of B+1 64-bit words whose low bits give a bucket's
// offset into the shared array (a position in value-width units; MPH stores
// the bucket's base rank there instead) and whose high bits give its local seed,
// plus the two bucket-assignment disciplines (shift and multiplier) used to
// map a signature's high bits to a bucket index.
package offsetseed

import "math/bits"

// Table is the offset_and_seed (or edge_offset_and_seed) array: B+1 entries,
// each splitting into an offset field (low OffsetBits bits) and a seed field
// (the remaining high bits, kept unshifted).
type Table struct {
	entries    []uint64
	offsetBits uint
	mask       uint64
}

// NewTable wraps entries (length B+1) with the given offset-field width.
func NewTable(entries []uint64, offsetBits uint) *Table {
	return &Table{
		entries:    entries,
		offsetBits: offsetBits,
		mask:       (uint64(1) << offsetBits) - 1,
	}
}

// OffsetMask returns the bit mask extracting the offset sub-field.
func (t *Table) OffsetMask() uint64 { return t.mask }

// NumBuckets returns B, the number of buckets (entries has B+1 elements,
// the last a sentinel bounding the final bucket's region).
func (t *Table) NumBuckets() int { return len(t.entries) - 1 }

// Offset returns the offset field of bucket i.
func (t *Table) Offset(i uint64) uint64 { return t.entries[i] & t.mask }

// Seed returns the seed field of bucket i, left in its high-bit position:
// this is the raw value fed to spooky.Rehash as the per-bucket seed, not a
// right-shifted integer.
func (t *Table) Seed(i uint64) uint64 { return t.entries[i] &^ t.mask }

// Entry returns the raw combined word for bucket i.
func (t *Table) Entry(i uint64) uint64 { return t.entries[i] }

// BucketByShift implements the shift bucketing discipline used by the
// legacy shift-based SF/SF4/MPH formats: the high bits of the first
// signature lane, right-shifted by chunkShift. Requires NumBuckets to be a
// power of two.
func BucketByShift(h0 uint64, chunkShift uint) uint64 {
	return h0 >> chunkShift
}

// BucketByMultiplier implements the fixed-point multiplier discipline used
// by the current MPH/SF3/SF4/CSF3 formats: a 128-bit product of the top 63
// bits of the first signature lane with an opaque multiplier constant,
// taking the high 64 bits of the product.
func BucketByMultiplier(h0 uint64, multiplier uint64) uint64 {
	hi, _ := bits.Mul64(h0>>1, multiplier)
	return hi
}
