package sf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/sux-go/internal/artifactio"
	"github.com/rpcpool/sux-go/internal/edge"
	"github.com/rpcpool/sux-go/internal/spooky"
)

func le64(vals ...uint64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return buf
}

// oddParityPositions returns, for edge positions e, the subset with odd
// multiplicity: since a position read twice XORs to zero with itself, only
// odd-multiplicity positions contribute to the final XOR result.
func oddParityPositions(e ...int) []int {
	freq := map[int]int{}
	for _, p := range e {
		freq[p]++
	}
	var odd []int
	for p, c := range freq {
		if c%2 == 1 {
			odd = append(odd, p)
		}
	}
	return odd
}

// buildSingleBucketSF encodes one key mapping to want into a one-bucket
// artifact, using the package's own edge derivation the way a real builder
// would, then XOR-balancing the odd-parity positions so lookup recovers
// exactly `want`.
func buildSingleBucketSF(t *testing.T, key []byte, globalSeed uint64, width uint, numVariables int, want uint64) []byte {
	t.Helper()
	sig := spooky.Short(key, globalSeed)
	e0, e1, e2 := edge.ToEquation3(sig, 0, numVariables)
	odd := oddParityPositions(e0, e1, e2)
	require.NotEmpty(t, odd)

	cells := make([]uint64, numVariables)
	cells[odd[0]] = want
	for _, p := range odd[1:] {
		cells[p] = 0
	}

	totalBits := uint64(numVariables) * uint64(width)
	arrayWords := (totalBits + 63) / 64
	array := make([]uint64, arrayWords)
	for i, v := range cells {
		bitPos := uint64(i) * uint64(width)
		putValueBits(array, bitPos, width, v)
	}

	var buf bytes.Buffer
	buf.Write(le64(1))                    // size (num keys)
	buf.Write(le64(uint64(width)))        // width
	buf.Write(le64(64))                   // chunk_shift: single bucket
	buf.Write(le64(globalSeed))           // global_seed
	buf.Write(le64(2))                    // offset_and_seed_length (B+1 = 2)
	buf.Write(le64(0))                    // offset_and_seed[0]: offset 0, seed 0
	buf.Write(le64(uint64(numVariables))) // offset_and_seed[1]: offset = numVariables
	buf.Write(le64(uint64(len(array))))   // array_length
	buf.Write(le64(array...))             // array
	return buf.Bytes()
}

func putValueBits(array []uint64, bitPos uint64, width uint, value uint64) {
	for b := uint(0); b < width; b++ {
		if value&(1<<b) != 0 {
			pos := bitPos + uint64(b)
			array[pos/64] |= 1 << (pos % 64)
		}
	}
}

func TestOpenAndLookupRecoversStoredValue(t *testing.T) {
	key := []byte("apple")
	const width = 8
	const numVariables = 5
	const want = uint64(0xAB)

	raw := buildSingleBucketSF(t, key, 0, width, numVariables, want)
	s, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, int64(want), s.LookupBytes(key))
}

func TestLookupEmptyBucketReturnsNegativeOne(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(le64(0))  // size
	buf.Write(le64(8))  // width
	buf.Write(le64(64)) // chunk_shift
	buf.Write(le64(0))  // global_seed
	buf.Write(le64(2))  // offset_and_seed_length
	buf.Write(le64(0))  // offset[0] = 0
	buf.Write(le64(0))  // offset[1] = 0 -> empty bucket
	buf.Write(le64(0))  // array_length
	s, err := Open(bytes.NewReader(buf.Bytes()), artifactio.LoadOptions{})
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, int64(-1), s.LookupBytes([]byte("anything")))
}

func TestLookupSignatureMatchesLookupBytes(t *testing.T) {
	key := []byte("banana")
	raw := buildSingleBucketSF(t, key, 0, 8, 5, 0x42)
	s, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.NoError(t, err)
	defer s.Close()

	sig := spooky.Short(key, 0)
	require.Equal(t, s.LookupBytes(key), s.LookupSignature(sig))
}

func TestTruncatedStreamFails(t *testing.T) {
	raw := le64(0, 8)
	_, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.ErrorIs(t, err, artifactio.ErrCorruptArtifact)
}

func TestStatsReportsShape(t *testing.T) {
	raw := buildSingleBucketSF(t, []byte("cherry"), 0, 8, 5, 1)
	s, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.NoError(t, err)
	defer s.Close()

	stats := s.Stats()
	require.Equal(t, 1, stats.NumBuckets)
	require.Greater(t, stats.ArrayWords, 0)
}
