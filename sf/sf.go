// Package sf implements the static-function variant: an arbitrary-width
// value store over a shift-discipline bucket assignment. Lookups on keys
// outside the original build set return an unspecified width-w value,
// except for buckets that were empty at build time, which return -1.
package sf

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rpcpool/sux-go/internal/artifactio"
	"github.com/rpcpool/sux-go/internal/artifactmeta"
	"github.com/rpcpool/sux-go/internal/backingstore"
	"github.com/rpcpool/sux-go/internal/bitpack"
	"github.com/rpcpool/sux-go/internal/edge"
	"github.com/rpcpool/sux-go/internal/offsetseed"
	"github.com/rpcpool/sux-go/internal/spooky"
)

// SF is a loaded static function.
type SF struct {
	numKeys    uint64
	width      uint
	chunkShift uint
	globalSeed uint64
	offsets    *offsetseed.Table
	arrayArr   *backingstore.Array
	array      []uint64
	meta       *artifactmeta.Meta
}

// Open deserializes an SF artifact: size, width, chunk_shift, global_seed,
// offset_and_seed[], array[], in that fixed field order.
func Open(stream io.ReaderAt, opts artifactio.LoadOptions) (*SF, error) {
	r := artifactio.NewReader(stream)

	numKeys, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("sf: read size: %w", err)
	}
	widthRaw, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("sf: read width: %w", err)
	}
	if widthRaw == 0 || widthRaw > 64 {
		return nil, fmt.Errorf("%w: width %d out of range", artifactio.ErrCorruptArtifact, widthRaw)
	}
	chunkShift, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("sf: read chunk_shift: %w", err)
	}
	globalSeed, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("sf: read global_seed: %w", err)
	}
	offsetLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("sf: read offset_and_seed_length: %w", err)
	}
	if offsetLen < 1 {
		return nil, fmt.Errorf("%w: offset_and_seed_length %d too small", artifactio.ErrCorruptArtifact, offsetLen)
	}
	offsetWords, err := r.Uint64Array(offsetLen, backingstore.Heap)
	if err != nil {
		return nil, fmt.Errorf("sf: read offset_and_seed: %w", err)
	}
	arrayLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("sf: read array_length: %w", err)
	}
	arrayArr, err := r.Uint64Array(arrayLen, opts.Strategy)
	if err != nil {
		return nil, fmt.Errorf("sf: read array: %w", err)
	}

	meta := &artifactmeta.Meta{}
	if trailing, err := r.ReadTrailing(); err != nil {
		slog.Warn("sf: read trailing metadata", "error", err)
	} else if len(trailing) > 0 {
		if err := meta.UnmarshalBinary(trailing); err != nil {
			slog.Warn("sf: parse trailing metadata", "error", err)
			meta = &artifactmeta.Meta{}
		}
	}

	return &SF{
		numKeys:    numKeys,
		width:      uint(widthRaw),
		chunkShift: uint(chunkShift),
		globalSeed: globalSeed,
		offsets:    offsetseed.NewTable(offsetWords.Words(), 56),
		arrayArr:   arrayArr,
		array:      arrayArr.Words(),
		meta:       meta,
	}, nil
}

// OpenReader is the convenience constructor for non-seekable streams.
func OpenReader(r io.Reader, opts artifactio.LoadOptions) (*SF, error) {
	return artifactio.SlurpToReaderAt(r, func(ra io.ReaderAt) (*SF, error) {
		return Open(ra, opts)
	})
}

// OpenFile memory-maps path and loads an SF from it.
func OpenFile(path string, opts artifactio.LoadOptions) (*SF, error) {
	return artifactio.OpenFile(path, func(ra io.ReaderAt) (*SF, error) {
		return Open(ra, opts)
	})
}

// Close releases the backing arrays.
func (s *SF) Close() error {
	return s.arrayArr.Release()
}

// Meta returns the artifact's trailing metadata block, empty but non-nil if
// the artifact carried none.
func (s *SF) Meta() *artifactmeta.Meta {
	return s.meta
}

// LookupBytes returns the stored value for key, or -1 if key's bucket was
// empty at build time. The result is unspecified for keys outside the
// original build set, except for that absence case.
func (s *SF) LookupBytes(key []byte) int64 {
	return s.LookupSignature(spooky.Short(key, s.globalSeed))
}

// LookupUint64 hashes key's 8 little-endian bytes and looks it up.
func (s *SF) LookupUint64(key uint64) int64 {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(key >> (8 * uint(i)))
	}
	return s.LookupBytes(buf[:])
}

// LookupUint128 hashes the 16-byte little-endian representation of (hi, lo).
func (s *SF) LookupUint128(hi, lo uint64) int64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(lo >> (8 * uint(i)))
		buf[8+i] = byte(hi >> (8 * uint(i)))
	}
	return s.LookupBytes(buf[:])
}

// LookupSignature bypasses hashing for a caller-supplied signature.
func (s *SF) LookupSignature(sig spooky.Signature) int64 {
	chunk := offsetseed.BucketByShift(sig[0], s.chunkShift)
	chunkOffset := s.offsets.Offset(chunk)
	nextOffset := s.offsets.Offset(chunk + 1)
	numVariables := int(nextOffset - chunkOffset)
	if numVariables == 0 {
		return -1
	}
	seed := s.offsets.Seed(chunk)
	e0, e1, e2 := edge.ToEquation3(sig, seed, numVariables)
	v := bitpack.GetValue(s.array, uint64(e0)+chunkOffset, s.width)
	v ^= bitpack.GetValue(s.array, uint64(e1)+chunkOffset, s.width)
	v ^= bitpack.GetValue(s.array, uint64(e2)+chunkOffset, s.width)
	return int64(v)
}

// Stats reports the loaded structure's shape.
func (s *SF) Stats() artifactio.Stats {
	return artifactio.Stats{
		NumBuckets:      s.offsets.NumBuckets(),
		ArrayWords:      len(s.array),
		BackingStrategy: s.arrayArr.Strategy(),
		NumKeys:         s.numKeys,
	}
}
