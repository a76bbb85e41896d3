package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"fracx/domain/orderbook"
)

type Store struct {
	mu    sync.RWMutex // guards the map, not the books
	books map[string]*atomic.Pointer[orderbook.OrderBook]
}

func NewStore() *Store {
	return &Store{books: make(map[string]*atomic.Pointer[orderbook.OrderBook])}
}

// Put replaces the asset's book. The caller must not modify b afterwards.
func (s *Store) Put(b *orderbook.OrderBook) {
	s.slot(b.AssetID).Store(b)
}

// Get returns the latest book, or an empty one for an asset that has never
// been rebuilt. The result is shared and must be treated as read-only.
func (s *Store) Get(assetID string) *orderbook.OrderBook {
	s.mu.RLock()
	p, ok := s.books[assetID]
	s.mu.RUnlock()
	if ok {
		if b := p.Load(); b != nil {
			return b
		}
	}
	return orderbook.Empty(assetID, time.Now())
}

func (s *Store) slot(assetID string) *atomic.Pointer[orderbook.OrderBook] {
	s.mu.RLock()
	p, ok := s.books[assetID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.books[assetID]; !ok {
		p = &atomic.Pointer[orderbook.OrderBook]{}
		s.books[assetID] = p
	}
	return p
}
