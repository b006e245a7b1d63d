package codecache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/bfjit/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixCode is the prefix for entries.
	// Key format: prefixCode + hash (32 bytes)
	prefixCode = []byte{0x01}

	// prefixMeta is the prefix for counters.
	prefixMeta = []byte{0x02}

	metaEntryCount = append(append([]byte{}, prefixMeta...), "count"...)
	metaCodeBytes  = append(append([]byte{}, prefixMeta...), "code_bytes"...)
)

// BadgerConfig contains configuration for BadgerStore.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Nil disables badger's logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns default configuration for a cache in dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Path:             dir,
		NumCompactors:    2,
		ValueLogFileSize: 64 << 20,
	}
}

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB

	// mu serializes writes so the counters stay consistent.
	mu sync.Mutex

	entries   atomic.Uint64
	codeBytes atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	puts      atomic.Uint64

	closed atomic.Bool
}

// OpenBadger opens a badger code cache.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumCompactors(cfg.NumCompactors).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db}
	if err := s.loadCounters(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load counters: %w", err)
	}
	return s, nil
}

func (s *BadgerStore) loadCounters() error {
	return s.db.View(func(txn *badger.Txn) error {
		for key, dst := range map[string]*atomic.Uint64{
			string(metaEntryCount): &s.entries,
			string(metaCodeBytes):  &s.codeBytes,
		} {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					dst.Store(binary.BigEndian.Uint64(val))
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func codeKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixCode)+types.HashSize)
	copy(key, prefixCode)
	copy(key[len(prefixCode):], hash[:])
	return key
}

func setCounter(txn *badger.Txn, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return txn.Set(key, buf[:])
}

// Get retrieves the entry for hash.
func (s *BadgerStore) Get(hash types.Hash) (*Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(codeKey(hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound):
		s.misses.Add(1)
		return nil, err
	case err != nil:
		return nil, err
	}

	s.hits.Add(1)
	return decodeEntry(data)
}

// Put stores an entry, replacing any existing entry for the same hash.
func (s *BadgerStore) Put(entry *Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey(entry.Hash)
	entries, codeBytes := s.entries.Load(), s.codeBytes.Load()
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		isNew := errors.Is(err, badger.ErrKeyNotFound)
		if err != nil && !isNew {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if isNew {
			entries++
			codeBytes += uint64(len(entry.Code))
		}
		if err := setCounter(txn, metaEntryCount, entries); err != nil {
			return err
		}
		return setCounter(txn, metaCodeBytes, codeBytes)
	})
	if err != nil {
		return err
	}

	s.entries.Store(entries)
	s.codeBytes.Store(codeBytes)
	s.puts.Add(1)
	return nil
}

// Delete removes the entry for hash.
func (s *BadgerStore) Delete(hash types.Hash) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey(hash)
	entries, codeBytes := s.entries.Load(), s.codeBytes.Load()
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		e, err := decodeEntry(data)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}

		if entries > 0 {
			entries--
		}
		if codeBytes >= uint64(len(e.Code)) {
			codeBytes -= uint64(len(e.Code))
		}
		if err := setCounter(txn, metaEntryCount, entries); err != nil {
			return err
		}
		return setCounter(txn, metaCodeBytes, codeBytes)
	})
	if err != nil {
		return err
	}

	s.entries.Store(entries)
	s.codeBytes.Store(codeBytes)
	return nil
}

// Stats returns cache statistics.
func (s *BadgerStore) Stats() (*Stats, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	lsm, vlog := s.db.Size()
	return &Stats{
		Entries:   s.entries.Load(),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Puts:      s.puts.Load(),
		CodeBytes: s.codeBytes.Load(),
		DiskBytes: lsm + vlog,
	}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Verify interface compliance.
var _ Store = (*BadgerStore)(nil)
