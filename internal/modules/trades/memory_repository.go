package trades

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository keeps trades in process memory. It stores and returns
// deep copies, so callers never share state with the store.
type MemoryRepository struct {
	mu     sync.RWMutex
	trades map[string]*Trade
	order  []string
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{trades: make(map[string]*Trade)}
}

// Compile-time check that MemoryRepository implements Repository
var _ Repository = (*MemoryRepository)(nil)

// Create stores a new trade
func (r *MemoryRepository) Create(_ context.Context, trade *Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.trades[trade.ID]; exists {
		return fmt.Errorf("trade %s already exists", trade.ID)
	}

	trade.Version = 1
	r.trades[trade.ID] = trade.Clone()
	r.order = append(r.order, trade.ID)
	return nil
}

// Get returns a copy of the stored trade or nil when unknown
func (r *MemoryRepository) Get(_ context.Context, tradeID string) (*Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.trades[tradeID]
	if !ok {
		return nil, nil
	}
	return stored.Clone(), nil
}

// Update overwrites a stored trade when its version still matches
func (r *MemoryRepository) Update(_ context.Context, trade *Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.trades[trade.ID]
	if !ok {
		return &NotFoundError{TradeID: trade.ID}
	}
	if stored.Version != trade.Version {
		return &ConcurrentModificationError{TradeID: trade.ID, ExpectedVersion: trade.Version}
	}
	if len(trade.History) < len(stored.History) {
		return fmt.Errorf("history of trade %s is append-only", trade.ID)
	}

	trade.Version++
	r.trades[trade.ID] = trade.Clone()
	return nil
}

// ListAll returns copies of every trade in creation order
func (r *MemoryRepository) ListAll(_ context.Context) ([]*Trade, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Trade, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.trades[id].Clone())
	}
	return out, nil
}
