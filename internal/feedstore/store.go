// Package feedstore holds the consumer-side latest feed per symbol.
package feedstore

import (
	"sync"

	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
)

// Store maps a symbol to its latest feed. No history, eviction or TTL.
type Store struct {
	mu    sync.RWMutex
	feeds map[string]model.Feed
}

// New returns an empty store.
func New() *Store {
	return &Store{feeds: make(map[string]model.Feed)}
}

// Put replaces the entry for feed.Symbol.
func (s *Store) Put(feed model.Feed) {
	s.mu.Lock()
	s.feeds[feed.Symbol] = feed.Clone()
	s.mu.Unlock()
}

// Get returns the latest feed for symbol.
func (s *Store) Get(symbol string) (model.Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	feed, ok := s.feeds[symbol]
	if !ok {
		return model.Feed{}, false
	}
	return feed.Clone(), true
}

// Len returns the number of stored symbols.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.feeds)
}

// Snapshot returns a copy of every entry.
func (s *Store) Snapshot() map[string]model.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Feed, len(s.feeds))
	for symbol, feed := range s.feeds {
		out[symbol] = feed.Clone()
	}
	return out
}
