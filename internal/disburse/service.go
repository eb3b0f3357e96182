package disburse

import (
	"context"
	"sync"
	"time"

	"sahayata.org/internal/ids"
)

// Service defines budget ledger operations.
type Service interface {
	OpenBudget(ctx context.Context, schemeID string, allocated int64) (Budget, error)
	GetBudget(ctx context.Context, schemeID string) (Budget, error)
	Commit(ctx context.Context, schemeID string, amount int64) (Budget, error)
	Release(ctx context.Context, schemeID string, amount int64) (Budget, error)
	Pay(ctx context.Context, schemeID, applicationID string, trancheIndex int, amount int64, idemKey string) (Payment, error)
	ListPayments(ctx context.Context, limit int, afterSeq uint64) ([]Payment, uint64, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	budgets  map[string]*Budget
	seq      uint64
	payments []Payment
	idem     map[string]Payment // idemKey -> payment
}

// NewInMemory creates a fresh budget ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		budgets: make(map[string]*Budget),
		idem:    make(map[string]Payment),
	}
}

// OpenBudget registers a scheme allocation. Re-opening an existing
// budget adjusts the allocation upward only.
func (s *InMemory) OpenBudget(ctx context.Context, schemeID string, allocated int64) (Budget, error) {
	if allocated < 0 {
		return Budget{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.budgets[schemeID]; ok {
		if allocated > b.Allocated {
			b.Allocated = allocated
		}
		return *b, nil
	}
	b := &Budget{SchemeID: schemeID, Allocated: allocated}
	s.budgets[schemeID] = b
	return *b, nil
}

func (s *InMemory) GetBudget(ctx context.Context, schemeID string) (Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.budgets[schemeID]
	if !ok {
		return Budget{}, ErrNotFound
	}
	return *b, nil
}

// Commit reserves amount for an approved application. Fails without
// side effects when the remaining budget cannot cover it.
func (s *InMemory) Commit(ctx context.Context, schemeID string, amount int64) (Budget, error) {
	if amount <= 0 {
		return Budget{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[schemeID]
	if !ok {
		return Budget{}, ErrNotFound
	}
	if b.Remaining() < amount {
		return Budget{}, ErrBudgetExhausted
	}
	b.Committed += amount
	return *b, nil
}

// Release returns a previously committed amount to the pool, e.g. when
// an approved application is later rejected on return.
func (s *InMemory) Release(ctx context.Context, schemeID string, amount int64) (Budget, error) {
	if amount <= 0 {
		return Budget{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[schemeID]
	if !ok {
		return Budget{}, ErrNotFound
	}
	if b.Committed < amount {
		return Budget{}, ErrNothingCommitted
	}
	b.Committed -= amount
	return *b, nil
}

// Pay converts committed funds into spent funds and records the payout.
// An idempotency key makes retried payments safe: the original payment
// is returned unchanged.
func (s *InMemory) Pay(ctx context.Context, schemeID, applicationID string, trancheIndex int, amount int64, idemKey string) (Payment, error) {
	if amount <= 0 {
		return Payment{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idemKey != "" {
		if p, ok := s.idem[idemKey]; ok {
			return p, nil
		}
	}

	b, ok := s.budgets[schemeID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	if b.Committed < amount {
		return Payment{}, ErrNothingCommitted
	}

	b.Committed -= amount
	b.Spent += amount

	s.seq++
	p := Payment{
		ID:             ids.New(),
		CreatedAt:      time.Now().UTC(),
		SchemeID:       schemeID,
		ApplicationID:  applicationID,
		TrancheIndex:   trancheIndex,
		Amount:         amount,
		IdempotencyKey: idemKey,
		Sequence:       s.seq,
	}
	s.payments = append(s.payments, p)
	if idemKey != "" {
		s.idem[idemKey] = p
	}
	return p, nil
}

func (s *InMemory) ListPayments(ctx context.Context, limit int, afterSeq uint64) ([]Payment, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Payment
	var last uint64
	for _, p := range s.payments {
		if p.Sequence <= afterSeq {
			continue
		}
		res = append(res, p)
		last = p.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
