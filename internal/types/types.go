// Package types defines the program identity types shared by the compiler,
// the code cache and the RPC services.
//
// A program is identified by a 32-byte digest of its control symbols and the
// code generation parameters. The text form is base58.
package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// HashSize is the size of a program hash in bytes.
const HashSize = 32

// FormatVersion is mixed into every hash. Bump it when generated code changes
// so stale cache entries stop matching.
const FormatVersion = 2

var (
	// ErrInvalidHash is returned when a hash has invalid length.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")

	// ErrUnknownHashAlgorithm is returned for an unsupported algorithm name.
	ErrUnknownHashAlgorithm = errors.New("unknown hash algorithm")
)

// HashAlgorithm selects the digest used for program hashes.
type HashAlgorithm string

const (
	HashBlake3  HashAlgorithm = "blake3"
	HashSHA3256 HashAlgorithm = "sha3"
)

// ParseHashAlgorithm parses an algorithm name.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch HashAlgorithm(s) {
	case HashBlake3, "":
		return HashBlake3, nil
	case HashSHA3256, "sha3-256":
		return HashSHA3256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownHashAlgorithm, s)
	}
}

// Hash is a 32-byte program digest.
type Hash [HashSize]byte

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	data, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("base58 decode: %w", err)
	}
	return HashFromBytes(data)
}

// HashFromBytes creates a Hash from a byte slice.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], b)
	return h, nil
}

// String returns the base58-encoded representation.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromBase58(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashProgram digests a program's control symbols together with the tape size,
// the target architecture and FormatVersion. Comments never affect the hash.
func HashProgram(alg HashAlgorithm, symbols string, tapeSize int) (Hash, error) {
	var header [16]byte
	binary.LittleEndian.PutUint32(header[0:], FormatVersion)
	binary.LittleEndian.PutUint32(header[4:], uint32(tapeSize))
	copy(header[8:], runtime.GOARCH)

	var h Hash
	switch alg {
	case HashBlake3, "":
		hasher := blake3.New()
		hasher.Write(header[:])
		hasher.Write([]byte(symbols))
		copy(h[:], hasher.Sum(nil))
	case HashSHA3256:
		hasher := sha3.New256()
		hasher.Write(header[:])
		hasher.Write([]byte(symbols))
		copy(h[:], hasher.Sum(nil))
	default:
		return h, fmt.Errorf("%w: %q", ErrUnknownHashAlgorithm, alg)
	}
	return h, nil
}
