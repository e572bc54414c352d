// Package edge derives the 3 (or 4) variable positions a key's signature
// maps to within its bucket, the last step before an XOR retrieval.
package edge

import (
	"math/bits"

	"github.com/rpcpool/sux-go/internal/spooky"
)

// ToEquation3 maps (sig, seed, numVariables) to three endpoints in
// [0, numVariables), used by MPH, SF, SF3 and CSF3.
func ToEquation3(sig spooky.Signature, seed uint64, numVariables int) (e0, e1, e2 int) {
	hash := spooky.Rehash(sig, seed)
	n := uint64(numVariables)
	shift := bits.LeadingZeros64(n)
	mask := (uint64(1) << uint(shift)) - 1
	e0 = int(((hash[0] & mask) * n) >> uint(shift))
	e1 = int(((hash[1] & mask) * n) >> uint(shift))
	e2 = int(((hash[2] & mask) * n) >> uint(shift))
	return
}

// ToEquation4 is the four-endpoint analogue used by SF4, consuming the
// fourth rehash lane that ToEquation3 leaves untouched.
func ToEquation4(sig spooky.Signature, seed uint64, numVariables int) (e0, e1, e2, e3 int) {
	hash := spooky.Rehash(sig, seed)
	n := uint64(numVariables)
	shift := bits.LeadingZeros64(n)
	mask := (uint64(1) << uint(shift)) - 1
	e0 = int(((hash[0] & mask) * n) >> uint(shift))
	e1 = int(((hash[1] & mask) * n) >> uint(shift))
	e2 = int(((hash[2] & mask) * n) >> uint(shift))
	e3 = int(((hash[3] & mask) * n) >> uint(shift))
	return
}
