package mph

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpcpool/sux-go/internal/artifactio"
	"github.com/rpcpool/sux-go/internal/bitpack"
	"github.com/rpcpool/sux-go/internal/edge"
	"github.com/rpcpool/sux-go/internal/offsetseed"
	"github.com/rpcpool/sux-go/internal/spooky"
)

func le64(vals ...uint64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return buf
}

// offsetFieldForVertexOffset finds an offset field f such that
// (f*cTimes256)>>8 == target, the inverse of vertexOffset, by linear probe
// from the natural scale-up estimate.
func offsetFieldForVertexOffset(t *testing.T, target uint64) uint64 {
	t.Helper()
	f := target * 256 / cTimes256
	for {
		if (f*cTimes256)>>8 == target {
			return f
		}
		f++
		require.Less(t, f, target*256, "failed to find offset field for target %d", target)
	}
}

// buildSingleBucketMPH places one key into a one-bucket MPH artifact with
// numVariables slots, setting the 2-bit value 1 at the key's second edge
// endpoint e1, zero elsewhere.
func buildSingleBucketMPH(t *testing.T, key []byte, globalSeed uint64, numVariables int) []byte {
	t.Helper()
	sig := spooky.Short(key, globalSeed)
	_, e1, _ := edge.ToEquation3(sig, 0, numVariables)

	pairs := make([]uint64, numVariables)
	// Put a nonzero value at e1: when e1 differs from e0 and e2,
	// side = (0+1+0) % 3 = 1 -> hinge = e1.
	pairs[e1] = 1

	array := make([]uint64, (numVariables+31)/32+1)
	for i, v := range pairs {
		pos := uint64(i) * 2
		array[pos/64] |= v << (pos % 64)
	}

	offsetField0 := offsetFieldForVertexOffset(t, 0)
	offsetField1 := offsetFieldForVertexOffset(t, uint64(numVariables))

	var buf bytes.Buffer
	buf.Write(le64(1))            // size
	buf.Write(le64(0))            // multiplier = 0 -> always bucket 0
	buf.Write(le64(globalSeed))   // global_seed
	buf.Write(le64(2))            // edge_offset_and_seed_length
	buf.Write(le64(offsetField0)) // entry[0]: base rank 0, vertex offset 0
	buf.Write(le64(offsetField1)) // entry[1]: sentinel vertex offset
	buf.Write(le64(uint64(len(array))))
	buf.Write(le64(array...))
	return buf.Bytes()
}

func TestLookupMatchesHingeFormula(t *testing.T) {
	key := []byte("apple")
	const numVariables = 6
	raw := buildSingleBucketMPH(t, key, 0, numVariables)
	m, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.NoError(t, err)
	defer m.Close()

	sig := spooky.Short(key, 0)
	e0, e1, e2 := edge.ToEquation3(sig, 0, numVariables)
	v0 := bitpack.Get2BitValue(m.array, uint64(e0))
	v1 := bitpack.Get2BitValue(m.array, uint64(e1))
	v2 := bitpack.Get2BitValue(m.array, uint64(e2))
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
	wantRank := bitpack.CountNonzeroPairs(0, uint64(hinge), m.array)

	require.Equal(t, int64(wantRank), m.LookupBytes(key))
}

func TestLookupSignatureMatchesLookupBytes(t *testing.T) {
	key := []byte("banana")
	raw := buildSingleBucketMPH(t, key, 0, 6)
	m, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.NoError(t, err)
	defer m.Close()

	sig := spooky.Short(key, 0)
	require.Equal(t, m.LookupBytes(key), m.LookupSignature(sig))
}

func TestCTimes256Derivation(t *testing.T) {
	// floor(1.10 * 256) = 281, per the format's pinned load factor.
	require.Equal(t, 281, cTimes256)
}

func TestTruncatedStreamFails(t *testing.T) {
	raw := le64(1, 0)
	_, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.ErrorIs(t, err, artifactio.ErrCorruptArtifact)
}

// buildMultiBucketMPH hashes candidates with the real BucketByMultiplier
// discipline, picks the first numBuckets keys landing in distinct buckets
// (one key per bucket, same hinge-at-e1 trick as buildSingleBucketMPH), and
// gives bucket i the base-rank field i*rankSpanPerBucket, deriving each
// bucket's vertex offset and width from those fields the way vertexOffset
// does, so offset-field chaining is exercised across bucket boundaries, not
// just one bucket's inner hinge formula. Because each key is the sole
// nonzero pair in its bucket, no nonzero pair precedes its hinge, so its
// rank equals its bucket's base-rank field verbatim.
func buildMultiBucketMPH(t *testing.T, candidates [][]byte, globalSeed, multiplier uint64, rankSpanPerBucket, numBuckets int) (raw []byte, keys [][]byte, wantRanks []uint64) {
	t.Helper()
	type picked struct {
		key    []byte
		bucket uint64
	}
	seen := map[uint64]bool{}
	var pick []picked
	for _, k := range candidates {
		sig := spooky.Short(k, globalSeed)
		b := offsetseed.BucketByMultiplier(sig[0], multiplier)
		if seen[b] {
			continue
		}
		seen[b] = true
		pick = append(pick, picked{k, b})
		if len(pick) == numBuckets {
			break
		}
	}
	require.Len(t, pick, numBuckets, "need %d candidates landing in distinct buckets", numBuckets)

	maxBucket := uint64(0)
	for _, p := range pick {
		if p.bucket > maxBucket {
			maxBucket = p.bucket
		}
	}
	totalBuckets := int(maxBucket) + 1

	offsetFields := make([]uint64, totalBuckets+1)
	vertexOffsets := make([]uint64, totalBuckets+1)
	for i := 0; i <= totalBuckets; i++ {
		offsetFields[i] = uint64(i * rankSpanPerBucket)
		vertexOffsets[i] = (offsetFields[i] * cTimes256) >> 8
	}

	pairs := make([]uint64, vertexOffsets[totalBuckets])
	for _, p := range pick {
		sig := spooky.Short(p.key, globalSeed)
		numVariables := int(vertexOffsets[p.bucket+1] - vertexOffsets[p.bucket])
		_, e1, _ := edge.ToEquation3(sig, 0, numVariables)
		base := int(vertexOffsets[p.bucket])
		pairs[base+e1] = 1
	}

	array := make([]uint64, (len(pairs)+31)/32+1)
	for i, v := range pairs {
		pos := uint64(i) * 2
		array[pos/64] |= v << (pos % 64)
	}

	var buf bytes.Buffer
	buf.Write(le64(uint64(len(pick))))
	buf.Write(le64(multiplier))
	buf.Write(le64(globalSeed))
	buf.Write(le64(uint64(totalBuckets + 1)))
	buf.Write(le64(offsetFields...))
	buf.Write(le64(uint64(len(array))))
	buf.Write(le64(array...))

	keys = make([][]byte, len(pick))
	wantRanks = make([]uint64, len(pick))
	for i, p := range pick {
		keys[i] = p.key
		wantRanks[i] = offsetFields[p.bucket]
	}
	return buf.Bytes(), keys, wantRanks
}

func TestMultiBucketLookupsRecoverBaseRanks(t *testing.T) {
	candidates := make([][]byte, 16)
	for i := range candidates {
		candidates[i] = []byte(fmt.Sprintf("mph-candidate-%02d", i))
	}
	const multiplier = 64 // spreads across roughly 32 buckets
	raw, keys, wantRanks := buildMultiBucketMPH(t, candidates, 0, multiplier, 6, 4)
	m, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.NoError(t, err)
	defer m.Close()

	for i, k := range keys {
		require.Equal(t, int64(wantRanks[i]), m.LookupBytes(k))
	}
}

func TestConcurrentLookupsMatchSingleThreaded(t *testing.T) {
	key := []byte("concurrent-reader")
	raw := buildSingleBucketMPH(t, key, 0, 6)
	m, err := Open(bytes.NewReader(raw), artifactio.LoadOptions{})
	require.NoError(t, err)
	defer m.Close()

	want := m.LookupBytes(key)
	sig := spooky.Short(key, 0)

	const readers = 8
	const iterations = 200
	var wg sync.WaitGroup
	results := make(chan int64, readers*iterations*2)
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				results <- m.LookupBytes(key)
				results <- m.LookupSignature(sig)
			}
		}()
	}
	wg.Wait()
	close(results)

	for got := range results {
		require.Equal(t, want, got)
	}
}
