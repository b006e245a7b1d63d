package codecache

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/bfjit/internal/types"
	bolt "go.etcd.io/bbolt"
)

// Bucket names for BoltDB.
var (
	// bucketCode stores encoded entries keyed by program hash.
	bucketCode = []byte("code")

	// bucketMetadata stores store counters.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyEntryCount = []byte("entry_count")
	keyCodeBytes  = []byte("code_bytes")
)

// BoltConfig holds BoltStore configuration options.
type BoltConfig struct {
	// Path is the database file path.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

// DefaultBoltConfig returns the default configuration for a cache in dir.
func DefaultBoltConfig(dir string) BoltConfig {
	return BoltConfig{
		Path:    filepath.Join(dir, "codecache.db"),
		Timeout: 5 * time.Second,
	}
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config BoltConfig

	mu     sync.RWMutex
	stats  counters
	closed bool
}

// OpenBolt creates or opens a bolt code cache.
func OpenBolt(config BoltConfig) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{db: db, config: config}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := store.loadCounters(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load counters: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCode, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) loadCounters() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyEntryCount); len(v) == 8 {
			s.stats.entries = binary.BigEndian.Uint64(v)
		}
		if v := meta.Get(keyCodeBytes); len(v) == 8 {
			s.stats.codeBytes = binary.BigEndian.Uint64(v)
		}
		return nil
	})
}

func putCounter(b *bolt.Bucket, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return b.Put(key, buf[:])
}

// Get retrieves the entry for hash.
func (s *BoltStore) Get(hash types.Hash) (*Entry, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCode)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(hash[:])
		if v == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		data = append([]byte(nil), v...)
		return nil
	})

	s.mu.Lock()
	if err == ErrNotFound {
		s.stats.misses++
	} else if err == nil {
		s.stats.hits++
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return decodeEntry(data)
}

// Put stores an entry, replacing any existing entry for the same hash.
func (s *BoltStore) Put(entry *Entry) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var entries, codeBytes uint64
	err = s.db.Update(func(tx *bolt.Tx) error {
		var err error
		entries, codeBytes, err = s.putTx(tx, entry.Hash, data, len(entry.Code))
		return err
	})
	if err != nil {
		return err
	}
	s.stats.entries, s.stats.codeBytes = entries, codeBytes
	s.stats.puts++
	return nil
}

// putTx writes an encoded entry and the updated counters inside tx and
// returns the counters. s.stats is left alone until the commit succeeds.
func (s *BoltStore) putTx(tx *bolt.Tx, hash types.Hash, data []byte, codeLen int) (uint64, uint64, error) {
	b := tx.Bucket(bucketCode)
	isNew := b.Get(hash[:]) == nil
	if err := b.Put(hash[:], data); err != nil {
		return 0, 0, err
	}

	entries, codeBytes := s.stats.entries, s.stats.codeBytes
	if isNew {
		entries++
		codeBytes += uint64(codeLen)
	}
	if err := writeCounters(tx, entries, codeBytes); err != nil {
		return 0, 0, err
	}
	return entries, codeBytes, nil
}

// Delete removes the entry for hash.
func (s *BoltStore) Delete(hash types.Hash) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, codeBytes := s.stats.entries, s.stats.codeBytes
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCode)
		v := b.Get(hash[:])
		if v == nil {
			return ErrNotFound
		}
		e, err := decodeEntry(v)
		if err != nil {
			return err
		}
		if err := b.Delete(hash[:]); err != nil {
			return err
		}

		if entries > 0 {
			entries--
		}
		if codeBytes >= uint64(len(e.Code)) {
			codeBytes -= uint64(len(e.Code))
		}
		return writeCounters(tx, entries, codeBytes)
	})
	if err != nil {
		return err
	}
	s.stats.entries, s.stats.codeBytes = entries, codeBytes
	return nil
}

func writeCounters(tx *bolt.Tx, entries, codeBytes uint64) error {
	meta := tx.Bucket(bucketMetadata)
	if err := putCounter(meta, keyEntryCount, entries); err != nil {
		return err
	}
	return putCounter(meta, keyCodeBytes, codeBytes)
}

// Stats returns cache statistics.
func (s *BoltStore) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := s.stats.snapshot()
	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DiskBytes = info.Size()
	}
	return stats, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.db.Close()
}

// Verify interface compliance.
var _ Store = (*BoltStore)(nil)
