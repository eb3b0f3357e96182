package region

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store describes the persistence operations the hierarchy needs.
type Store interface {
	Get(ctx context.Context, id string) (Region, error)
	// Ancestors returns the chain from the region itself up to its root
	// state, nearest-first (the region is element zero).
	Ancestors(ctx context.Context, id string) ([]Region, error)
	Children(ctx context.Context, id string) ([]Region, error)
	Create(ctx context.Context, r Region) (Region, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]Region, error)
}

// Index is an immutable snapshot of the region tree built from parent
// pointers. Reads are lock-free once built; rebuild to observe mutations.
type Index struct {
	byID     map[string]Region
	children map[string][]string
}

// NewIndex builds an index from a flat region list, validating that every
// child sits exactly one level below its parent.
func NewIndex(regions []Region) (*Index, error) {
	ix := &Index{
		byID:     make(map[string]Region, len(regions)),
		children: make(map[string][]string),
	}
	for _, r := range regions {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ix.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate region id %s", ErrInvalidInput, r.ID)
		}
		ix.byID[r.ID] = r
	}
	for _, r := range regions {
		if r.ParentID == "" {
			continue
		}
		parent, ok := ix.byID[r.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s of region %s", ErrNotFound, r.ParentID, r.ID)
		}
		if r.Level.Depth() != parent.Level.Depth()+1 {
			return nil, fmt.Errorf("%w: region %s level %s under parent level %s",
				ErrInvalidInput, r.ID, r.Level, parent.Level)
		}
		ix.children[r.ParentID] = append(ix.children[r.ParentID], r.ID)
	}
	for _, ids := range ix.children {
		sort.Strings(ids)
	}
	return ix, nil
}

// Get looks up a region by id.
func (ix *Index) Get(id string) (Region, bool) {
	r, ok := ix.byID[id]
	return r, ok
}

// Ancestors returns the chain from the region itself to its root state,
// nearest-first.
func (ix *Index) Ancestors(id string) ([]Region, error) {
	r, ok := ix.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: region %s", ErrNotFound, id)
	}
	chain := []Region{r}
	for r.ParentID != "" {
		parent, ok := ix.byID[r.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s of region %s", ErrNotFound, r.ParentID, r.ID)
		}
		chain = append(chain, parent)
		r = parent
	}
	return chain, nil
}

// Contains reports whether ancestorID is id itself or one of its ancestors.
// A district contains its areas and units; never the reverse.
func (ix *Index) Contains(ancestorID, id string) bool {
	r, ok := ix.byID[id]
	if !ok {
		return false
	}
	for {
		if r.ID == ancestorID {
			return true
		}
		if r.ParentID == "" {
			return false
		}
		r, ok = ix.byID[r.ParentID]
		if !ok {
			return false
		}
	}
}

// Children returns the direct children of a region, sorted by id.
func (ix *Index) Children(id string) []Region {
	ids := ix.children[id]
	out := make([]Region, 0, len(ids))
	for _, cid := range ids {
		out = append(out, ix.byID[cid])
	}
	return out
}

// PathFor expands a region into its full four-tier path.
func (ix *Index) PathFor(id string) (Path, error) {
	chain, err := ix.Ancestors(id)
	if err != nil {
		return Path{}, err
	}
	var p Path
	for _, r := range chain {
		switch r.Level {
		case LevelState:
			p.State = r.ID
		case LevelDistrict:
			p.District = r.ID
		case LevelArea:
			p.Area = r.ID
		case LevelUnit:
			p.Unit = r.ID
		}
	}
	return p, nil
}

// InMemory is a mutex-guarded Store for tests and single-node deployments.
type InMemory struct {
	mu      sync.RWMutex
	regions map[string]Region
}

// NewInMemory creates an empty in-process region store.
func NewInMemory() *InMemory {
	return &InMemory{regions: make(map[string]Region)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Get(ctx context.Context, id string) (Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[id]
	if !ok {
		return Region{}, fmt.Errorf("%w: region %s", ErrNotFound, id)
	}
	return r, nil
}

func (s *InMemory) Ancestors(ctx context.Context, id string) ([]Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[id]
	if !ok {
		return nil, fmt.Errorf("%w: region %s", ErrNotFound, id)
	}
	chain := []Region{r}
	for r.ParentID != "" {
		parent, ok := s.regions[r.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s of region %s", ErrNotFound, r.ParentID, r.ID)
		}
		chain = append(chain, parent)
		r = parent
	}
	return chain, nil
}

func (s *InMemory) Children(ctx context.Context, id string) ([]Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Region
	for _, r := range s.regions {
		if r.ParentID == id {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemory) Create(ctx context.Context, r Region) (Region, error) {
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.regions[r.ID]; dup {
		return Region{}, fmt.Errorf("%w: region %s already exists", ErrInvalidInput, r.ID)
	}
	if r.ParentID != "" {
		parent, ok := s.regions[r.ParentID]
		if !ok {
			return Region{}, fmt.Errorf("%w: parent %s", ErrNotFound, r.ParentID)
		}
		if r.Level.Depth() != parent.Level.Depth()+1 {
			return Region{}, fmt.Errorf("%w: region level %s under parent level %s",
				ErrInvalidInput, r.Level, parent.Level)
		}
	}
	s.regions[r.ID] = r
	return r, nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[id]; !ok {
		return fmt.Errorf("%w: region %s", ErrNotFound, id)
	}
	for _, r := range s.regions {
		if r.ParentID == id {
			return fmt.Errorf("%w: region %s", ErrHasChildren, id)
		}
	}
	delete(s.regions, id)
	return nil
}

func (s *InMemory) ListAll(ctx context.Context) ([]Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
