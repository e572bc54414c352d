// Package csf3 implements the compressed static function: an SF3 body whose
// raw w-bit XOR value is decoded through a canonical Huffman table, with an
// escape path for symbols that were never assigned a codeword.
package csf3

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rpcpool/sux-go/internal/artifactio"
	"github.com/rpcpool/sux-go/internal/artifactmeta"
	"github.com/rpcpool/sux-go/internal/backingstore"
	"github.com/rpcpool/sux-go/internal/bitpack"
	"github.com/rpcpool/sux-go/internal/edge"
	"github.com/rpcpool/sux-go/internal/huffman"
	"github.com/rpcpool/sux-go/internal/offsetseed"
	"github.com/rpcpool/sux-go/internal/spooky"
)

// offsetBits is CSF3's 54/10 offset-and-seed split: a narrower offset field
// than the 56/8 split every other variant uses, leaving a 10-bit seed field.
const offsetBits = 54

// CSF3 is a loaded compressed static function.
type CSF3 struct {
	numKeys             uint64
	width               uint32 // global_max_codeword_length
	multiplier          uint64
	globalSeed          uint64
	offsets             *offsetseed.Table
	arrayArr            *backingstore.Array
	array               []uint64
	decoder             *huffman.Decoder
	escapeLength        uint32
	escapedSymbolLength uint32
	meta                *artifactmeta.Meta
}

// Open deserializes a CSF3 artifact: size, multiplier, global_max_codeword_length,
// global_seed, offset_and_seed[], array[], decoding tables, symbol table.
//
// The escape parameters (escape_length, escaped_symbol_length) are two
// scalars read right after array[], before decoding_table_length and the
// table arrays.
func Open(stream io.ReaderAt, opts artifactio.LoadOptions) (*CSF3, error) {
	r := artifactio.NewReader(stream)

	numKeys, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("csf3: read size: %w", err)
	}
	multiplier, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("csf3: read multiplier: %w", err)
	}
	maxCodewordLength, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("csf3: read global_max_codeword_length: %w", err)
	}
	if maxCodewordLength == 0 || maxCodewordLength > 64 {
		return nil, fmt.Errorf("%w: max codeword length %d out of range", artifactio.ErrCorruptArtifact, maxCodewordLength)
	}
	globalSeed, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("csf3: read global_seed: %w", err)
	}
	offsetLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("csf3: read offset_and_seed_length: %w", err)
	}
	if offsetLen < 1 {
		return nil, fmt.Errorf("%w: offset_and_seed_length %d too small", artifactio.ErrCorruptArtifact, offsetLen)
	}
	offsetWords, err := r.Uint64Array(offsetLen, backingstore.Heap)
	if err != nil {
		return nil, fmt.Errorf("csf3: read offset_and_seed: %w", err)
	}
	arrayLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("csf3: read array_length: %w", err)
	}
	arrayArr, err := r.Uint64Array(arrayLen, opts.Strategy)
	if err != nil {
		return nil, fmt.Errorf("csf3: read array: %w", err)
	}

	escapeLength, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("csf3: read escape_length: %w", err)
	}
	escapedSymbolLength, err := r.Uint64()
	if err != nil {
		return nil, fmt.Errorf("csf3: read escaped_symbol_length: %w", err)
	}

	tableLen, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("csf3: read decoding_table_length: %w", err)
	}
	lastCodewordPlusOne, err := r.Uint64Array(tableLen, backingstore.Heap)
	if err != nil {
		return nil, fmt.Errorf("csf3: read last_codeword_plus_one: %w", err)
	}
	howManyUpToBlock, err := r.Uint32Array(tableLen)
	if err != nil {
		return nil, fmt.Errorf("csf3: read how_many_up_to_block: %w", err)
	}
	shiftTable, err := r.Uint32Array(tableLen)
	if err != nil {
		return nil, fmt.Errorf("csf3: read shift: %w", err)
	}
	numSymbols, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("csf3: read num_symbols: %w", err)
	}
	symbolArr, err := r.Uint64Array(numSymbols, backingstore.Heap)
	if err != nil {
		return nil, fmt.Errorf("csf3: read symbol: %w", err)
	}

	meta := &artifactmeta.Meta{}
	if trailing, err := r.ReadTrailing(); err != nil {
		slog.Warn("csf3: read trailing metadata", "error", err)
	} else if len(trailing) > 0 {
		if err := meta.UnmarshalBinary(trailing); err != nil {
			slog.Warn("csf3: parse trailing metadata", "error", err)
			meta = &artifactmeta.Meta{}
		}
	}

	return &CSF3{
		numKeys:             numKeys,
		width:               uint32(maxCodewordLength),
		multiplier:          multiplier,
		globalSeed:          globalSeed,
		offsets:             offsetseed.NewTable(offsetWords.Words(), offsetBits),
		arrayArr:            arrayArr,
		array:               arrayArr.Words(),
		escapeLength:        uint32(escapeLength),
		escapedSymbolLength: uint32(escapedSymbolLength),
		decoder: &huffman.Decoder{
			LastCodewordPlusOne: lastCodewordPlusOne.Words(),
			HowManyUpToBlock:    howManyUpToBlock,
			Shift:               shiftTable,
			Symbol:              symbolArr.Words(),
		},
		meta: meta,
	}, nil
}

// OpenReader is the convenience constructor for non-seekable streams.
func OpenReader(r io.Reader, opts artifactio.LoadOptions) (*CSF3, error) {
	return artifactio.SlurpToReaderAt(r, func(ra io.ReaderAt) (*CSF3, error) {
		return Open(ra, opts)
	})
}

// OpenFile memory-maps path and loads a CSF3 from it.
func OpenFile(path string, opts artifactio.LoadOptions) (*CSF3, error) {
	return artifactio.OpenFile(path, func(ra io.ReaderAt) (*CSF3, error) {
		return Open(ra, opts)
	})
}

// Close releases the backing arrays.
func (c *CSF3) Close() error {
	return c.arrayArr.Release()
}

// Meta returns the artifact's trailing metadata block, empty but non-nil if
// the artifact carried none.
func (c *CSF3) Meta() *artifactmeta.Meta {
	return c.meta
}

// LookupBytes returns key's decoded symbol.
func (c *CSF3) LookupBytes(key []byte) int64 {
	return c.LookupSignature(spooky.Short(key, c.globalSeed))
}

// LookupUint64 hashes key's 8 little-endian bytes and looks it up.
func (c *CSF3) LookupUint64(key uint64) int64 {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(key >> (8 * uint(i)))
	}
	return c.LookupBytes(buf[:])
}

// LookupUint128 hashes the 16-byte little-endian representation of (hi, lo).
func (c *CSF3) LookupUint128(hi, lo uint64) int64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(lo >> (8 * uint(i)))
		buf[8+i] = byte(hi >> (8 * uint(i)))
	}
	return c.LookupBytes(buf[:])
}

// LookupSignature bypasses hashing for a caller-supplied signature.
func (c *CSF3) LookupSignature(sig spooky.Signature) int64 {
	bucket := offsetseed.BucketByMultiplier(sig[0], c.multiplier)
	bucketOffset := c.offsets.Offset(bucket)
	nextOffset := c.offsets.Offset(bucket + 1)
	numVariables := int(nextOffset - bucketOffset - uint64(c.width))
	seed := c.offsets.Seed(bucket)
	e0, e1, e2 := edge.ToEquation3(sig, seed, numVariables)

	v := bitpack.GetValue(c.array, uint64(e0)+bucketOffset, uint(c.width))
	v ^= bitpack.GetValue(c.array, uint64(e1)+bucketOffset, uint(c.width))
	v ^= bitpack.GetValue(c.array, uint64(e2)+bucketOffset, uint(c.width))

	symbol := c.decoder.Decode(v)
	if symbol != huffman.EscapeSymbol {
		return int64(symbol)
	}

	// The escape region lives inside each variable's own w-bit slot, the
	// same slot the primary XOR read above already covers in full: start
	// and end locate a narrower sub-field within it, in bits.
	end := uint64(c.width) - uint64(c.escapeLength)
	start := end - uint64(c.escapedSymbolLength)

	raw := bitpack.GetValueBits(c.array, (uint64(e0)+bucketOffset)*uint64(c.width)+start, uint(c.escapedSymbolLength))
	raw ^= bitpack.GetValueBits(c.array, (uint64(e1)+bucketOffset)*uint64(c.width)+start, uint(c.escapedSymbolLength))
	raw ^= bitpack.GetValueBits(c.array, (uint64(e2)+bucketOffset)*uint64(c.width)+start, uint(c.escapedSymbolLength))
	return int64(raw)
}

// Stats reports the loaded structure's shape.
func (c *CSF3) Stats() artifactio.Stats {
	return artifactio.Stats{
		NumBuckets:      c.offsets.NumBuckets(),
		ArrayWords:      len(c.array),
		BackingStrategy: c.arrayArr.Strategy(),
		NumKeys:         c.numKeys,
	}
}
