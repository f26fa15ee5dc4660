package testing

import (
	"context"
	"sync"

	"github.com/aristath/tradeapproval/internal/modules/trades"
)

// MockRepository is an in-memory trade repository whose operations can be
// made to fail
type MockRepository struct {
	*trades.MemoryRepository

	mu        sync.RWMutex
	listErr   error
	updateErr error
}

// Compile-time check that MockRepository implements trades.Repository
var _ trades.Repository = (*MockRepository)(nil)

// NewMockRepository creates an empty mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{MemoryRepository: trades.NewMemoryRepository()}
}

// SetListError makes ListAll fail with err (nil restores normal behavior)
func (m *MockRepository) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// SetUpdateError makes Update fail with err (nil restores normal behavior)
func (m *MockRepository) SetUpdateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

// ListAll returns the configured error or delegates
func (m *MockRepository) ListAll(ctx context.Context) ([]*trades.Trade, error) {
	m.mu.RLock()
	err := m.listErr
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return m.MemoryRepository.ListAll(ctx)
}

// Update returns the configured error or delegates
func (m *MockRepository) Update(ctx context.Context, trade *trades.Trade) error {
	m.mu.RLock()
	err := m.updateErr
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	return m.MemoryRepository.Update(ctx, trade)
}
