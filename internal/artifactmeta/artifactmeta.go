// Package artifactmeta implements the small optional key-value block an
// artifact may carry after its fixed fields, which every loader parses when
// present: a build identifier plus whatever
// free-form diagnostic strings a builder wants to carry alongside the
// bit-packed arrays. It never participates in a lookup.
package artifactmeta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	MaxNumKVs    = 255
	MaxKeySize   = 255
	MaxValueSize = 255

	// BuildIDKey is the well-known key under which NewWithBuildID stores its
	// generated identifier.
	BuildIDKey = "build-id"
)

// KV is a single metadata entry.
type KV struct {
	Key   []byte
	Value []byte
}

// Meta is an ordered list of key-value pairs, serialized with a one-byte
// count prefix and one-byte length prefixes on every key and value.
type Meta struct {
	KeyVals []KV
}

// NewWithBuildID returns a Meta pre-populated with a freshly generated
// build identifier, so every artifact produced by a given build run can be
// traced back to it even after the source files are gone.
func NewWithBuildID() *Meta {
	m := &Meta{}
	_ = m.AddString([]byte(BuildIDKey), uuid.NewString())
	return m
}

// Bytes serializes the metadata, panicking on a size violation that Add
// already guarded against.
func (m *Meta) Bytes() []byte {
	b, err := m.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

func (m Meta) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if len(m.KeyVals) > MaxNumKVs {
		return nil, fmt.Errorf("artifactmeta: %d key-value pairs exceeds max %d", len(m.KeyVals), MaxNumKVs)
	}
	buf.WriteByte(byte(len(m.KeyVals)))
	for i, kv := range m.KeyVals {
		if len(kv.Key) > MaxKeySize {
			return nil, fmt.Errorf("artifactmeta: key %d size %d exceeds max %d", i, len(kv.Key), MaxKeySize)
		}
		buf.WriteByte(byte(len(kv.Key)))
		buf.Write(kv.Key)
		if len(kv.Value) > MaxValueSize {
			return nil, fmt.Errorf("artifactmeta: value %d size %d exceeds max %d", i, len(kv.Value), MaxValueSize)
		}
		buf.WriteByte(byte(len(kv.Value)))
		buf.Write(kv.Value)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary parses a Meta block written by MarshalBinary. An empty
// input is a valid, empty Meta.
func (m *Meta) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return m.UnmarshalFrom(bytes.NewReader(b))
}

// UnmarshalFrom reads a Meta block from r, which must support ReadByte.
func (m *Meta) UnmarshalFrom(r io.ByteReader) error {
	rr, ok := r.(io.Reader)
	if !ok {
		return fmt.Errorf("artifactmeta: reader must also implement io.Reader")
	}
	numKVs, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("artifactmeta: read kv count: %w", err)
	}
	for i := 0; i < int(numKVs); i++ {
		var kv KV
		keyLen, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("artifactmeta: read key length %d: %w", i, err)
		}
		kv.Key = make([]byte, keyLen)
		if _, err := io.ReadFull(rr, kv.Key); err != nil {
			return fmt.Errorf("artifactmeta: read key %d: %w", i, err)
		}
		valueLen, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("artifactmeta: read value length %d: %w", i, err)
		}
		kv.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(rr, kv.Value); err != nil {
			return fmt.Errorf("artifactmeta: read value %d: %w", i, err)
		}
		m.KeyVals = append(m.KeyVals, kv)
	}
	return nil
}

// Add appends a key-value pair.
func (m *Meta) Add(key, value []byte) error {
	if len(m.KeyVals) >= MaxNumKVs {
		return fmt.Errorf("artifactmeta: %d key-value pairs exceeds max %d", len(m.KeyVals), MaxNumKVs)
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("artifactmeta: key size %d exceeds max %d", len(key), MaxKeySize)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("artifactmeta: value size %d exceeds max %d", len(value), MaxValueSize)
	}
	m.KeyVals = append(m.KeyVals, KV{Key: cloneBytes(key), Value: cloneBytes(value)})
	return nil
}

func cloneBytes(b []byte) []byte { return append([]byte(nil), b...) }

// AddString is a convenience wrapper around Add for string values.
func (m *Meta) AddString(key []byte, value string) error {
	return m.Add(key, []byte(value))
}

// GetString returns the first string value for key.
func (m Meta) GetString(key []byte) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return string(v), true
}

// AddUint64 stores value little-endian under key.
func (m *Meta) AddUint64(key []byte, value uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return m.Add(key, buf)
}

// GetUint64 reads back a value stored with AddUint64.
func (m Meta) GetUint64(key []byte) (uint64, bool) {
	v, ok := m.Get(key)
	if !ok || len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

// BuildID returns the identifier generated by NewWithBuildID, if present.
func (m Meta) BuildID() (uuid.UUID, bool) {
	s, ok := m.GetString([]byte(BuildIDKey))
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Get returns the first value for key.
func (m Meta) Get(key []byte) ([]byte, bool) {
	for _, kv := range m.KeyVals {
		if bytes.Equal(kv.Key, key) {
			return kv.Value, true
		}
	}
	return nil, false
}

// GetAll returns every value stored under key, in insertion order.
func (m Meta) GetAll(key []byte) [][]byte {
	var values [][]byte
	for _, kv := range m.KeyVals {
		if bytes.Equal(kv.Key, key) {
			values = append(values, kv.Value)
		}
	}
	return values
}

// HasDuplicateKeys reports whether any key appears more than once.
func (m Meta) HasDuplicateKeys() bool {
	seen := make(map[string]struct{}, len(m.KeyVals))
	for _, kv := range m.KeyVals {
		k := string(kv.Key)
		if _, ok := seen[k]; ok {
			return true
		}
		seen[k] = struct{}{}
	}
	return false
}
