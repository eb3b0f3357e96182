package scheme

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sahayata.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[string]Scheme
	codes   map[string]string // code -> id
	ordered []string
}

// NewInMemory creates an empty scheme store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:  make(map[string]Scheme),
		codes: make(map[string]string),
	}
}

func (s *InMemory) Create(ctx context.Context, sch Scheme) (Scheme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[sch.Code]; ok {
		return Scheme{}, fmt.Errorf("%w: scheme code %q already exists", ErrConflict, sch.Code)
	}
	now := time.Now().UTC()
	sch.ID = ids.New()
	sch.CreatedAt = now
	sch.UpdatedAt = now
	s.byID[sch.ID] = sch
	s.codes[sch.Code] = sch.ID
	s.ordered = append(s.ordered, sch.ID)
	return sch, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.byID[id]
	if !ok {
		return Scheme{}, fmt.Errorf("%w: scheme %s", ErrNotFound, id)
	}
	return sch, nil
}

func (s *InMemory) List(ctx context.Context) ([]Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Scheme, 0, len(s.ordered))
	for _, id := range s.ordered {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, sch Scheme) (Scheme, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[sch.ID]
	if !ok {
		return Scheme{}, fmt.Errorf("%w: scheme %s", ErrNotFound, sch.ID)
	}
	sch.CreatedAt = cur.CreatedAt
	sch.UpdatedAt = time.Now().UTC()
	s.byID[sch.ID] = sch
	return sch, nil
}
