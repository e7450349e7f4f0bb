package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
)

type ownershipKey struct {
	userID    string
	productID string
}

// MemoryStore is a process-local ledger for development and tests. It has
// the same insert-if-absent guarantee as the Postgres store but no outbox.
type MemoryStore struct {
	mu        sync.RWMutex
	purchases map[ownershipKey]*domain.Purchase
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		purchases: make(map[ownershipKey]*domain.Purchase),
	}
}

func (s *MemoryStore) InsertIfAbsent(_ context.Context, p *domain.Purchase) (bool, error) {
	key := ownershipKey{p.UserID, p.ProductID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.purchases[key]; ok {
		return false, nil
	}
	cp := *p
	s.purchases[key] = &cp
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, userID, productID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.purchases[ownershipKey{userID, productID}]
	return ok, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*domain.Purchase, error) {
	out := s.filter(func(p *domain.Purchase) bool { return p.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.After(out[j].PurchasedAt) })
	return out, nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID string) ([]*domain.Purchase, error) {
	out := s.filter(func(p *domain.Purchase) bool { return p.SessionID == sessionID })
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.Before(out[j].PurchasedAt) })
	return out, nil
}

// Count returns the total number of purchases held.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.purchases)
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) filter(keep func(*domain.Purchase) bool) []*domain.Purchase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Purchase, 0)
	for _, p := range s.purchases {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}
