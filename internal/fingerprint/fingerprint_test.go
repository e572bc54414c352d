package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum64Deterministic(t *testing.T) {
	require.Equal(t, Sum64([]byte("hello")), Sum64([]byte("hello")))
	require.NotEqual(t, Sum64([]byte("hello")), Sum64([]byte("world")))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, uint64(0xFF), Truncate(0xDEADBEFF, 8))
	require.Equal(t, uint64(0xDEADBEFF), Truncate(0xDEADBEFF, 64))
}

func TestVerify(t *testing.T) {
	key := []byte("apple")
	stored := Truncate(Sum64(key), 12)
	require.True(t, Verify(key, 12, stored))
}
