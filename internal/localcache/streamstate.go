package localcache

import "github.com/kcnex/exchange/internal/udptransport"

// SaveStreamState implements udptransport.StateSink.
func (s *Store) SaveStreamState(streamKey string, state udptransport.StreamState) error {
	return s.setJSON(streamStateKey(streamKey), state)
}

// LoadStreamState returns the last mirrored StreamState for a stream,
// read-through only: callers must treat this as informational (e.g.
// "was Down before restart") and still construct a fresh in-memory
// state machine starting from Initializing.
func (s *Store) LoadStreamState(streamKey string) (udptransport.StreamState, bool, error) {
	var st udptransport.StreamState
	found, err := s.getJSON(streamStateKey(streamKey), &st)
	return st, found, err
}
