package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sahayata.org/internal/ids"
)

// Store describes application persistence. Save is a compare-and-swap
// on the version the caller read; a stale version yields ErrConflict.
type Store interface {
	Create(ctx context.Context, app Application) (Application, error)
	Get(ctx context.Context, id string) (Application, error)
	Save(ctx context.Context, app Application) (Application, error)
	List(ctx context.Context) ([]Application, error)
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu   sync.RWMutex
	apps map[string]Application
	seq  uint64
}

// NewInMemory creates an empty application store.
func NewInMemory() *InMemory {
	return &InMemory{apps: make(map[string]Application)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Create(ctx context.Context, app Application) (Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.seq++
	app.ID = ids.New()
	app.Number = fmt.Sprintf("SAH-%06d", s.seq)
	app.Version = 1
	app.CreatedAt = now
	app.UpdatedAt = now
	s.apps[app.ID] = clone(app)
	return clone(app), nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return Application{}, fmt.Errorf("%w: application %s", ErrNotFound, id)
	}
	return clone(app), nil
}

func (s *InMemory) Save(ctx context.Context, app Application) (Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.apps[app.ID]
	if !ok {
		return Application{}, fmt.Errorf("%w: application %s", ErrNotFound, app.ID)
	}
	if cur.Version != app.Version {
		return Application{}, fmt.Errorf("%w: application %s version %d, have %d",
			ErrConflict, app.ID, cur.Version, app.Version)
	}
	app.Version++
	app.UpdatedAt = time.Now().UTC()
	app.CreatedAt = cur.CreatedAt
	app.Number = cur.Number
	s.apps[app.ID] = clone(app)
	return clone(app), nil
}

func (s *InMemory) List(ctx context.Context) ([]Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Application, 0, len(s.apps))
	for _, app := range s.apps {
		out = append(out, clone(app))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// clone deep-copies the slices and pointer fields so callers never
// share backing arrays with the store.
func clone(app Application) Application {
	out := app
	if len(app.Timeline) > 0 {
		out.Timeline = append([]TransitionEvent(nil), app.Timeline...)
	}
	if len(app.Tranches) > 0 {
		out.Tranches = append([]Tranche(nil), app.Tranches...)
	}
	if app.Interview != nil {
		iv := *app.Interview
		out.Interview = &iv
	}
	return out
}
