// Package localcache is a process-local crash-recovery cache backed by
// Pebble, repurposed from the teacher's pkg/storage Pebble layer (which
// persisted consensus blocks and account state) into a read-through
// mirror of the UDP receiver's StreamState and the publisher's
// last-emitted top-K state. Neither value is authoritative: the
// running process's in-memory state always wins; this store only lets
// a fresh process report what it was doing before a restart instead of
// silently re-Initializing.
package localcache

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

const (
	prefixStreamState = "streamstate:"
	prefixPublisher   = "pubstate:"
)

func streamStateKey(streamKey string) []byte {
	return []byte(prefixStreamState + streamKey)
}

func publisherStateKey(symbol string) []byte {
	return []byte(prefixPublisher + symbol)
}

// Store opens a Pebble database at a configured directory.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) the Pebble database at dbPath.
func Open(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MemTableSize: 16 << 20,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("localcache: open %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("localcache: marshal: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("localcache: set: %w", err)
	}
	return nil
}

// getJSON reports found=false (not an error) if the key is absent.
func (s *Store) getJSON(key []byte, v any) (found bool, err error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("localcache: get: %w", err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("localcache: unmarshal: %w", err)
	}
	return true, nil
}
