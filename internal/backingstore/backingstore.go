// Package backingstore selects how a loaded structure's word arrays are
// provisioned: a plain heap slice, or an anonymous huge-page mapping to
// reduce TLB pressure on large artifacts. The choice is a placement hint
// only — it never changes query semantics.
package backingstore

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Strategy selects how word arrays backing a loaded structure are
// allocated.
type Strategy int

const (
	// Heap allocates a plain Go slice. This is the default and the only
	// strategy that works without elevated privileges or hugepage-aware
	// kernel configuration.
	Heap Strategy = iota
	// HugePage maps the array via an anonymous MAP_HUGETLB mmap, trading
	// setup cost and a hugepage-pool dependency for fewer TLB misses on
	// hot, randomly-accessed arrays.
	HugePage
)

// Array owns a []uint64 backing store and knows how to release it.
type Array struct {
	words    []uint64
	strategy Strategy
	raw      []byte // only set for HugePage, the mmap'd region to munmap
}

// Allocate provisions a zeroed array of the given word count under the
// requested strategy. HugePage falls back to a plain heap allocation if the
// mapping fails — the strategy is a hint, not a requirement.
func Allocate(words int, strategy Strategy) (*Array, error) {
	if words < 0 {
		return nil, fmt.Errorf("backingstore: negative word count %d", words)
	}
	if strategy == HugePage && words > 0 {
		size := words * 8
		raw, err := unix.Mmap(-1, 0, size,
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB)
		if err == nil {
			return &Array{
				words:    unsafe.Slice((*uint64)(unsafe.Pointer(&raw[0])), words),
				strategy: HugePage,
				raw:      raw,
			}, nil
		}
		// Hugepage pool exhausted or unsupported: degrade to heap.
	}
	return &Array{words: make([]uint64, words), strategy: Heap}, nil
}

// Words returns the backing slice for direct reads.
func (a *Array) Words() []uint64 { return a.words }

// Strategy reports which provisioning strategy actually backs this array
// (Allocate with HugePage may have silently degraded to Heap).
func (a *Array) Strategy() Strategy { return a.strategy }

// Release returns the backing memory to the OS. Heap-backed arrays need no
// action; the GC reclaims them.
func (a *Array) Release() error {
	if a.strategy == HugePage && a.raw != nil {
		raw := a.raw
		a.raw = nil
		a.words = nil
		return unix.Munmap(raw)
	}
	return nil
}
