// Package codecache stores generated machine code keyed by program hash.
//
// Entries are gob-encoded and zstd-compressed before they are written. Two
// backends are provided: BoltStore (a single bbolt file) and BadgerStore (a
// badger LSM directory, or memory for tests).
package codecache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/fortiblox/bfjit/internal/types"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrNotFound is returned when no entry exists for a hash.
	ErrNotFound = errors.New("code cache entry not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("code cache closed")

	// ErrCorrupt is returned when a stored value cannot be decoded.
	ErrCorrupt = errors.New("code cache entry corrupt")
)

// Entry is a cached code image.
type Entry struct {
	// Hash identifies the program (symbols, tape size, arch, format version).
	Hash types.Hash

	// Arch is the GOARCH the code was generated for.
	Arch string

	// TapeSize is the tape size baked into the prologue.
	TapeSize int

	// Emits is the static EmitByte count, used to size the output buffer.
	Emits int

	// Symbols is the program with comments stripped.
	Symbols string

	// Code is the position independent machine code.
	Code []byte

	// CreatedAt is when the entry was first stored.
	CreatedAt time.Time
}

// Stats contains code cache statistics.
type Stats struct {
	Entries   uint64
	Hits      uint64
	Misses    uint64
	Puts      uint64
	CodeBytes uint64 // uncompressed code bytes stored
	DiskBytes int64
}

// Store is the code cache interface.
type Store interface {
	Get(hash types.Hash) (*Entry, error)
	Put(entry *Entry) error
	Delete(hash types.Hash) error
	Stats() (*Stats, error)
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendBolt   Backend = "bolt"
	BackendBadger Backend = "badger"
)

// Open opens a store of the given backend rooted at dir.
func Open(backend Backend, dir string) (Store, error) {
	switch backend {
	case BackendBolt, "":
		return OpenBolt(DefaultBoltConfig(dir))
	case BackendBadger:
		return OpenBadger(DefaultBadgerConfig(dir))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// encodeEntry gob-encodes and compresses an entry.
func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return compressZstd(buf.Bytes())
}

// decodeEntry reverses encodeEntry.
func decodeEntry(data []byte) (*Entry, error) {
	raw, err := decompressZstd(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &e, nil
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// counters tracks hit/miss statistics shared by both backends.
type counters struct {
	entries   uint64
	hits      uint64
	misses    uint64
	puts      uint64
	codeBytes uint64
}

func (c *counters) snapshot() *Stats {
	return &Stats{
		Entries:   c.entries,
		Hits:      c.hits,
		Misses:    c.misses,
		Puts:      c.puts,
		CodeBytes: c.codeBytes,
	}
}
