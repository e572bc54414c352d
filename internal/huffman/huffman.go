// Package huffman implements the canonical Huffman decoder used by the
// compressed static function (CSF3): a per-tier table lookup that decodes a
// w-bit left-justified codeword in O(L) where L is the number of distinct
// codeword lengths.
package huffman

// EscapeSymbol is the reserved symbol value signaling that value has no
// assigned codeword; CSF3 falls back to its escape region when it sees this.
const EscapeSymbol = ^uint64(0)

// Decoder holds the four parallel tier tables of a canonical Huffman code.
//
// Tier i covers every codeword of length <= the i-th distinct codeword
// length, in increasing order of length. LastCodewordPlusOne[i] and
// HowManyUpToBlock[i] are both cumulative THROUGH tier i (inclusive): the
// former is the smallest w-bit, left-justified value greater than any
// codeword covered by tiers 0..i, the latter is the total count of symbols
// those tiers assign. Shift[i] is w minus the tier's codeword length, used
// to strip the low padding bits from a left-justified value before turning
// it back into a codeword integer.
type Decoder struct {
	LastCodewordPlusOne []uint64
	HowManyUpToBlock    []uint32
	Shift               []uint32
	Symbol              []uint64
}

// Decode returns the symbol encoded by value, a w-bit left-justified
// codeword (low bits beyond the codeword's own length may hold arbitrary
// padding). The last tier is guaranteed to match, so the scan always
// terminates.
func (d *Decoder) Decode(value uint64) uint64 {
	for curr := 0; ; curr++ {
		if value < d.LastCodewordPlusOne[curr] {
			s := d.Shift[curr]
			idx := (value >> s) - (d.LastCodewordPlusOne[curr] >> s) + uint64(d.HowManyUpToBlock[curr])
			return d.Symbol[idx]
		}
	}
}
