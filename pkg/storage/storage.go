package storage

import (
	"context"
	"sync"

	pkgerrors "github.com/Abhishek-yadav04/agis-flow-test/pkg/errors"
)

// Storage is a generic keyed store used by the registry and the coordinator
// for volatile state. List returns entries in insertion order so that
// consumers observe a stable ordering across calls.
type Storage interface {
	Create(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, error)
	Update(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, offset, limit uint64) ([]any, uint64, error)
}

type memStorage struct {
	mu    sync.RWMutex
	data  map[string]any
	order []string
}

func NewInMemoryStorage() Storage {
	return &memStorage{
		data: make(map[string]any),
	}
}

func (s *memStorage) Create(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; ok {
		return pkgerrors.ErrEntityExists
	}

	s.data[key] = value
	s.order = append(s.order, key)

	return nil
}

func (s *memStorage) Get(ctx context.Context, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}

	return value, nil
}

func (s *memStorage) Update(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return pkgerrors.ErrNotFound
	}

	s.data[key] = value

	return nil
}

func (s *memStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return pkgerrors.ErrNotFound
	}

	delete(s.data, key)
	for i := range s.order {
		if s.order[i] == key {
			s.order = append(s.order[:i], s.order[i+1:]...)

			break
		}
	}

	return nil
}

func (s *memStorage) List(ctx context.Context, offset, limit uint64) ([]any, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := uint64(len(s.order))
	if offset >= total {
		return []any{}, total, nil
	}

	end := min(offset+limit, total)

	values := make([]any, 0, end-offset)
	for _, key := range s.order[offset:end] {
		values = append(values, s.data[key])
	}

	return values, total, nil
}
