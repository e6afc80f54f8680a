package order

import (
	"context"
	"sync"
	"time"

	"github.com/Additional-Code/printshop/internal/entity"
)

// Memory is an in-process repository with the same contract as Repository.
// Tests use it in place of a database.
type Memory struct {
	mu     sync.Mutex
	orders map[string]*entity.Order
	now    func() time.Time

	// FailNext, when set, is returned by the next call and then cleared.
	FailNext error
}

// NewMemory constructs an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{orders: make(map[string]*entity.Order), now: time.Now}
}

func (m *Memory) takeFailure() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

// Insert stores a copy of order.
func (m *Memory) Insert(_ context.Context, order *entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, ok := m.orders[order.ID]; ok {
		return ErrDuplicate
	}
	m.orders[order.ID] = order.Clone()
	return nil
}

// GetByID returns a copy of the stored order.
func (m *Memory) GetByID(_ context.Context, id string) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// Update applies mutate atomically with respect to other Memory calls.
func (m *Memory) Update(_ context.Context, id string, mutate Mutator) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	current, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1
	next.UpdatedAt = m.now().UTC()
	m.orders[id] = next
	return next.Clone(), nil
}

// List returns copies of the matching orders in snapshot order.
func (m *Memory) List(_ context.Context, filter entity.Filter) ([]entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	out := make([]entity.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if filter.Matches(o) {
			out = append(out, *o.Clone())
		}
	}
	entity.SortOrders(out)
	return out, nil
}
