// Package sf4 implements the 4-hyperedge static function: identical to sf3
// except each key's stored value is the XOR of four bit-packed positions
// instead of three, trading a larger hyperedge for better space efficiency
// at the same load factor.
package sf4

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

// SF4 is a loaded 4-hyperedge static function.
type SF4 struct {
	numKeys    uint64
	width      uint
	multiplier uint64
	globalSeed uint64
	offsets    *offsetseed.Table
	arrayArr   *backingstore.Array
	array      []uint64
	meta       *artifactmeta.Meta
}

// Open deserializes an SF4 artifact: size, width, multiplier, global_seed,
// offset_and_seed[], array[].
func Open(stream io.ReaderAt, opts artifactio.LoadOptions) (*SF4, error) {
	r := artifactio.NewReader(stream)

	numKeys, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("sf4: read size: %w", err)
	}
	widthRaw, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("sf4: read width: %w", err)
	}
	if widthRaw == 0 || widthRaw > 64 {
		return nil, fmt.Errorf("%w: width %d out of range", artifactio.ErrCorruptArtifact, widthRaw)
	}
	multiplier, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("sf4: read multiplier: %w", err)
	}
	globalSeed, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("sf4: read global_seed: %w", err)
	}
	offsetLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("sf4: read offset_and_seed_length: %w", err)
	}
	if offsetLen < 1 {
		return nil, fmt.Errorf("%w: offset_and_seed_length %d too small", artifactio.ErrCorruptArtifact, offsetLen)
	}
	offsetWords, err := r.Uint64Array(offsetLen, backingstore.Heap)
	if err != nil {
		return nil, fmt.Errorf("sf4: read offset_and_seed: %w", err)
	}
	arrayLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("sf4: read array_length: %w", err)
	}
	arrayArr, err := r.Uint64Array(arrayLen, opts.Strategy)
	if err != nil {
		return nil, fmt.Errorf("sf4: read array: %w", err)
	}

	meta := &artifactmeta.Meta{}
	if trailing, err := r.ReadTrailing(); err != nil {
		slog.Warn("sf4: read trailing metadata", "error", err)
	} else if len(trailing) > 0 {
		if err := meta.UnmarshalBinary(trailing); err != nil {
			slog.Warn("sf4: parse trailing metadata", "error", err)
			meta = &artifactmeta.Meta{}
		}
	}

	return &SF4{
		numKeys:    numKeys,
		width:      uint(widthRaw),
		multiplier: multiplier,
		globalSeed: globalSeed,
		offsets:    offsetseed.NewTable(offsetWords.Words(), 56),
		arrayArr:   arrayArr,
		array:      arrayArr.Words(),
		meta:       meta,
	}, nil
}

// OpenReader is the convenience constructor for non-seekable streams.
func OpenReader(r io.Reader, opts artifactio.LoadOptions) (*SF4, error) {
	return artifactio.SlurpToReaderAt(r, func(ra io.ReaderAt) (*SF4, error) {
		return Open(ra, opts)
	})
}

// OpenFile memory-maps path and loads an SF4 from it.
func OpenFile(path string, opts artifactio.LoadOptions) (*SF4, error) {
	return artifactio.OpenFile(path, func(ra io.ReaderAt) (*SF4, error) {
		return Open(ra, opts)
	})
}

// Close releases the backing arrays.
func (s *SF4) Close() error {
	return s.arrayArr.Release()
}

// Meta returns the artifact's trailing metadata block, empty but non-nil if
// the artifact carried none.
func (s *SF4) Meta() *artifactmeta.Meta {
	return s.meta
}

// LookupBytes returns the stored value for key.
func (s *SF4) LookupBytes(key []byte) int64 {
	return s.LookupSignature(spooky.Short(key, s.globalSeed))
}

// LookupUint64 hashes key's 8 little-endian bytes and looks it up.
func (s *SF4) LookupUint64(key uint64) int64 {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(key >> (8 * uint(i)))
	}
	return s.LookupBytes(buf[:])
}

// LookupUint128 hashes the 16-byte little-endian representation of (hi, lo).
func (s *SF4) LookupUint128(hi, lo uint64) int64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(lo >> (8 * uint(i)))
		buf[8+i] = byte(hi >> (8 * uint(i)))
	}
	return s.LookupBytes(buf[:])
}

// LookupSignature bypasses hashing for a caller-supplied signature.
func (s *SF4) LookupSignature(sig spooky.Signature) int64 {
	bucket := offsetseed.BucketByMultiplier(sig[0], s.multiplier)
	bucketOffset := s.offsets.Offset(bucket)
	nextOffset := s.offsets.Offset(bucket + 1)
	numVariables := int(nextOffset - bucketOffset)
	seed := s.offsets.Seed(bucket)
	e0, e1, e2, e3 := edge.ToEquation4(sig, seed, numVariables)

	v := bitpack.GetValue(s.array, uint64(e0)+bucketOffset, s.width)
	v ^= bitpack.GetValue(s.array, uint64(e1)+bucketOffset, s.width)
	v ^= bitpack.GetValue(s.array, uint64(e2)+bucketOffset, s.width)
	v ^= bitpack.GetValue(s.array, uint64(e3)+bucketOffset, s.width)
	return int64(v)
}

// Stats reports the loaded structure's shape.
func (s *SF4) Stats() artifactio.Stats {
	return artifactio.Stats{
		NumBuckets:      s.offsets.NumBuckets(),
		ArrayWords:      len(s.array),
		BackingStrategy: s.arrayArr.Strategy(),
		NumKeys:         s.numKeys,
	}
}
