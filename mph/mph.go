// Package mph implements the minimal perfect hash variant: every key in the
// original build set maps to a distinct integer in [0, n); keys outside that
// set map to an arbitrary integer in the same range, never a sentinel.
// Callers needing membership must verify it themselves, e.g. by storing a
// fingerprint alongside the assigned index (see internal/fingerprint).
package mph

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

// cTimes256 is the MPH load factor C ≈ 1.10, fixed-point encoded as
// floor(1.10 * 256). It is a format constant: the builder that produced an
// artifact and this reader must agree on it bit-exactly, or rank recovery
// silently corrupts. It is not meant to be tuned at runtime.
const cTimes256 = 281

// MPH is a loaded minimal perfect hash.
type MPH struct {
	numKeys    uint64
	multiplier uint64
	globalSeed uint64
	offsets    *offsetseed.Table
	arrayArr   *backingstore.Array
	array      []uint64
	meta       *artifactmeta.Meta
}

// Open deserializes an MPH artifact: size, multiplier, global_seed,
// edge_offset_and_seed[], array[].
func Open(stream io.ReaderAt, opts artifactio.LoadOptions) (*MPH, error) {
	r := artifactio.NewReader(stream)

	numKeys, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("mph: read size: %w", err)
	}
	multiplier, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("mph: read multiplier: %w", err)
	}
	globalSeed, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("mph: read global_seed: %w", err)
	}
	offsetLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("mph: read edge_offset_and_seed_length: %w", err)
	}
	if offsetLen < 1 {
		return nil, fmt.Errorf("%w: edge_offset_and_seed_length %d too small", artifactio.ErrCorruptArtifact, offsetLen)
	}
	offsetWords, err := r.Uint64Array(offsetLen, backingstore.Heap)
	if err != nil {
		return nil, fmt.Errorf("mph: read edge_offset_and_seed: %w", err)
	}
	arrayLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("mph: read array_length: %w", err)
	}
	arrayArr, err := r.Uint64Array(arrayLen, opts.Strategy)
	if err != nil {
		return nil, fmt.Errorf("mph: read array: %w", err)
	}

	meta := &artifactmeta.Meta{}
	if trailing, err := r.ReadTrailing(); err != nil {
		slog.Warn("mph: read trailing metadata", "error", err)
	} else if len(trailing) > 0 {
		if err := meta.UnmarshalBinary(trailing); err != nil {
			slog.Warn("mph: parse trailing metadata", "error", err)
			meta = &artifactmeta.Meta{}
		}
	}

	return &MPH{
		numKeys:    numKeys,
		multiplier: multiplier,
		globalSeed: globalSeed,
		offsets:    offsetseed.NewTable(offsetWords.Words(), 56),
		arrayArr:   arrayArr,
		array:      arrayArr.Words(),
		meta:       meta,
	}, nil
}

// OpenReader is the convenience constructor for non-seekable streams.
func OpenReader(r io.Reader, opts artifactio.LoadOptions) (*MPH, error) {
	return artifactio.SlurpToReaderAt(r, func(ra io.ReaderAt) (*MPH, error) {
		return Open(ra, opts)
	})
}

// OpenFile memory-maps path and loads an MPH from it.
func OpenFile(path string, opts artifactio.LoadOptions) (*MPH, error) {
	return artifactio.OpenFile(path, func(ra io.ReaderAt) (*MPH, error) {
		return Open(ra, opts)
	})
}

// Close releases the backing arrays.
func (m *MPH) Close() error {
	return m.arrayArr.Release()
}

// Meta returns the artifact's trailing metadata block, empty but non-nil if
// the artifact carried none.
func (m *MPH) Meta() *artifactmeta.Meta {
	return m.meta
}

// vertexOffset converts a bucket's base-rank offset field into its base
// vertex position in the shared 2-bit array, applying the MPH load factor.
func (m *MPH) vertexOffset(bucket uint64) uint64 {
	return (m.offsets.Entry(bucket) & m.offsets.OffsetMask()) * cTimes256 >> 8
}

// LookupBytes returns key's minimal perfect hash value. The result is only
// meaningful for keys in the original build set.
func (m *MPH) LookupBytes(key []byte) int64 {
	return m.LookupSignature(spooky.Short(key, m.globalSeed))
}

// LookupUint64 hashes key's 8 little-endian bytes and looks it up.
func (m *MPH) LookupUint64(key uint64) int64 {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(key >> (8 * uint(i)))
	}
	return m.LookupBytes(buf[:])
}

// LookupUint128 hashes the 16-byte little-endian representation of (hi, lo).
func (m *MPH) LookupUint128(hi, lo uint64) int64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(lo >> (8 * uint(i)))
		buf[8+i] = byte(hi >> (8 * uint(i)))
	}
	return m.LookupBytes(buf[:])
}

// LookupSignature bypasses hashing for a caller-supplied signature.
func (m *MPH) LookupSignature(sig spooky.Signature) int64 {
	bucket := offsetseed.BucketByMultiplier(sig[0], m.multiplier)
	baseRank := m.offsets.Offset(bucket)
	bucketOffset := m.vertexOffset(bucket)
	nextVertexOffset := m.vertexOffset(bucket + 1)
	numVariables := int(nextVertexOffset - bucketOffset)
	seed := m.offsets.Seed(bucket)

	e0, e1, e2 := edge.ToEquation3(sig, seed, numVariables)
	v0 := bitpack.Get2BitValue(m.array, uint64(e0)+bucketOffset)
	v1 := bitpack.Get2BitValue(m.array, uint64(e1)+bucketOffset)
	v2 := bitpack.Get2BitValue(m.array, uint64(e2)+bucketOffset)
	side := (v0 + v1 + v2) % 3

	var hinge int
	switch side {
	case 0:
		hinge = e0
	case 1:
		hinge = e1
	default:
		hinge = e2
	}

	rank := bitpack.CountNonzeroPairs(bucketOffset, bucketOffset+uint64(hinge), m.array)
	return int64(baseRank + rank)
}

// Stats reports the loaded structure's shape.
func (m *MPH) Stats() artifactio.Stats {
	return artifactio.Stats{
		NumBuckets:      m.offsets.NumBuckets(),
		ArrayWords:      len(m.array),
		BackingStrategy: m.arrayArr.Strategy(),
		NumKeys:         m.numKeys,
	}
}
