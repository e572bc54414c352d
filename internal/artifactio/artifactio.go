// Package artifactio holds the little-endian field reading, whole-artifact
// buffering, and backing-store plumbing shared by every variant's loader.
// Each variant package (mph, sf, sf3, sf4, csf3) parses its own fixed field
// order on top of these primitives rather than duplicating them five times,
// the same way the teacher's compactindexsized and compactindex36 packages
// both open an io.ReaderAt the same way without sharing a base type.
package artifactio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"

	"github.com/rpcpool/sux-go/internal/backingstore"
)

// ErrCorruptArtifact is returned when a stream is truncated or a length
// field implies an unreasonable allocation.
var ErrCorruptArtifact = errors.New("corrupt artifact")

// MaxReasonableLength caps any single length field read from an untrusted
// stream, guarding against a corrupt or adversarial length field driving an
// out-of-memory allocation.
const MaxReasonableLength = 1 << 34 // 2^34 64-bit words, i.e. 128 GiB

// LoadOptions controls how a loader provisions its backing arrays. The zero
// value requests a plain heap allocation.
type LoadOptions struct {
	// Strategy selects the backing-store allocation strategy for the shared
	// bit array. The offset_and_seed table and CSF3's decoding tables are
	// always heap-allocated. A placement hint only.
	Strategy backingstore.Strategy
}

// Reader wraps an io.ReaderAt with a read cursor, the way a loader consumes
// a header's fixed fields in order before reading variable-length arrays.
type Reader struct {
	stream io.ReaderAt
	pos    int64
}

// NewReader advises the kernel of the stream's random access pattern (when
// it is backed by a file) and returns a Reader positioned at offset 0.
func NewReader(stream io.ReaderAt) *Reader {
	type fileDescriptor interface {
		Fd() uintptr
	}
	if f, ok := stream.(fileDescriptor); ok {
		if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM); err != nil {
			slog.Warn("fadvise(RANDOM) failed", "error", err)
		}
	}
	return &Reader{stream: stream}
}

// Uint64 reads one little-endian uint64 and advances the cursor.
func (r *Reader) Uint64() (uint64, error) {
	var buf [8]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Length reads a little-endian uint64 length field and rejects values
// outside a sane range before the caller can use it to size an allocation.
func (r *Reader) Length() (uint64, error) {
	n, err := r.Uint64()
	if err != nil {
		return 0, err
	}
	if n > MaxReasonableLength {
		return 0, fmt.Errorf("%w: length field %d exceeds sane bound", ErrCorruptArtifact, n)
	}
	return n, nil
}

// Uint64Array reads n consecutive little-endian uint64s into an array
// provisioned under strategy, returning the owning Array so the caller can
// Release it on teardown.
func (r *Reader) Uint64Array(n uint64, strategy backingstore.Strategy) (*backingstore.Array, error) {
	arr, err := backingstore.Allocate(int(n), strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	words := arr.Words()
	var buf [8]byte
	for i := range words {
		if err := r.readFull(buf[:]); err != nil {
			arr.Release()
			return nil, err
		}
		words[i] = binary.LittleEndian.Uint64(buf[:])
	}
	return arr, nil
}

// Uint32Array reads n consecutive little-endian uint32s, used by CSF3's
// decoding tables (Shift, HowManyUpToBlock).
func (r *Reader) Uint32Array(n uint64) ([]uint32, error) {
	if n > MaxReasonableLength {
		return nil, fmt.Errorf("%w: length field %d exceeds sane bound", ErrCorruptArtifact, n)
	}
	out := make([]uint32, n)
	var buf [4]byte
	for i := range out {
		if err := r.readFull(buf[:]); err != nil {
			return nil, err
		}
		out[i] = binary.LittleEndian.Uint32(buf[:])
	}
	return out, nil
}

// sizer is implemented by bytes.Reader and similar in-memory readers.
type sizer interface {
	Size() int64
}

// statter is implemented by *os.File.
type statter interface {
	Stat() (os.FileInfo, error)
}

// ReadTrailing returns every byte from the current cursor to the end of the
// stream, for the optional metadata block a loader may find after its fixed
// fields. It returns (nil, nil) both when there is nothing left to read and
// when the stream's total length cannot be determined (a bare io.ReaderAt
// with no Size/Stat method) — trailing metadata is always optional, never
// required for a loader to succeed.
func (r *Reader) ReadTrailing() ([]byte, error) {
	var total int64
	switch s := r.stream.(type) {
	case sizer:
		total = s.Size()
	case statter:
		info, err := s.Stat()
		if err != nil {
			return nil, nil
		}
		total = info.Size()
	default:
		return nil, nil
	}

	remaining := total - r.pos
	if remaining <= 0 {
		return nil, nil
	}
	buf := make([]byte, remaining)
	if err := r.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Reader) readFull(buf []byte) error {
	n, err := r.stream.ReadAt(buf, r.pos)
	r.pos += int64(n)
	if n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	return nil
}

// SlurpToReaderAt buffers r fully into a pooled scratch buffer and calls
// open with an io.ReaderAt view over it. Used by the OpenReader convenience
// constructor on every variant, for callers that only have a streaming
// io.Reader (e.g. a network pipe) rather than a seekable file.
func SlurpToReaderAt[T any](r io.Reader, open func(io.ReaderAt) (T, error)) (T, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.Reset()
	if _, err := buf.ReadFrom(r); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	return open(bytes.NewReader(buf.Bytes()))
}

// OpenFile memory-maps path read-only and calls open with an io.ReaderAt view
// over the mapping, the convenience path for callers with a plain file on
// disk rather than an already-open io.ReaderAt. The mapping is released once
// open returns: every loader copies what it needs into its own backing
// arrays during open, so nothing in the returned value still aliases it.
func OpenFile[T any](path string, open func(io.ReaderAt) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	size := info.Size()
	if size == 0 {
		return zero, fmt.Errorf("%w: empty file", ErrCorruptArtifact)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return zero, fmt.Errorf("%w: mmap: %v", ErrCorruptArtifact, err)
	}
	defer unix.Munmap(data)

	return open(bytes.NewReader(data))
}

// Stats is the common shape of the Stats() diagnostic every variant exposes:
// bucket count, backing array footprint, and amortized bits per key.
type Stats struct {
	NumBuckets      int
	ArrayWords      int
	BackingStrategy backingstore.Strategy
	NumKeys         uint64
}

// BitsPerKey returns the amortized storage cost per key, or 0 if NumKeys is
// unknown (an empty or degenerate artifact).
func (s Stats) BitsPerKey() float64 {
	if s.NumKeys == 0 {
		return 0
	}
	return float64(s.ArrayWords*64) / float64(s.NumKeys)
}

// String renders a human-readable one-line summary, the data a caller would
// otherwise have logged at Open time with their own slog handler.
func (s Stats) String() string {
	strategyName := "heap"
	if s.BackingStrategy == backingstore.HugePage {
		strategyName = "hugepage"
	}
	return fmt.Sprintf("buckets=%d array=%s (%s) bits/key=%.2f",
		s.NumBuckets, humanize.Bytes(uint64(s.ArrayWords)*8), strategyName, s.BitsPerKey())
}
