package localcache

import "github.com/kcnex/exchange/internal/publisher"

// SavePublisherState implements publisher.StateSink.
func (s *Store) SavePublisherState(symbol string, state publisher.LastState) error {
	return s.setJSON(publisherStateKey(symbol), state)
}

// LoadPublisherState returns the last mirrored LastState for a symbol.
func (s *Store) LoadPublisherState(symbol string) (publisher.LastState, bool, error) {
	var st publisher.LastState
	found, err := s.getJSON(publisherStateKey(symbol), &st)
	return st, found, err
}
