package store

import (
	"context"
	"sync"

	"github.com/transfa/supporter-service/internal/domain"
)

// MemoryRepository keeps the subscriber list in process memory.
type MemoryRepository struct {
	mu          sync.RWMutex
	subscribers []domain.Subscriber
	saves       int
	saveErr     error
}

// NewMemoryRepository creates a repository seeded with the given subscribers.
func NewMemoryRepository(seed ...domain.Subscriber) *MemoryRepository {
	return &MemoryRepository{subscribers: cloneSubscribers(seed)}
}

// Load returns a copy of the stored list.
func (r *MemoryRepository) Load(ctx context.Context) ([]domain.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSubscribers(r.subscribers), nil
}

// Save replaces the stored list.
func (r *MemoryRepository) Save(ctx context.Context, subscribers []domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.subscribers = cloneSubscribers(subscribers)
	r.saves++
	return nil
}

// Saves reports how many successful saves have happened.
func (r *MemoryRepository) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}

// FailSaves makes every subsequent Save return err. A nil err clears the failure.
func (r *MemoryRepository) FailSaves(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
}
