// Package scheme holds welfare scheme configuration: interview policy,
// budget allocation and the tranche template applied at approval time.
package scheme

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("scheme: not found")
	ErrConflict     = errors.New("scheme: resource conflict")
	ErrInvalidInput = errors.New("scheme: invalid input")

	// ErrInvalidTemplate marks a distribution template whose percentages
	// do not sum to exactly 100. Detected eagerly at publish time; a
	// corrupt template is a configuration error, never a per-application
	// one.
	ErrInvalidTemplate = errors.New("scheme: invalid distribution template")

	// ErrNotPublished is returned when an application targets a scheme
	// that has not been published yet.
	ErrNotPublished = errors.New("scheme: not published")
)

// TrancheSpec is one scheduled slice of an approved amount: an integer
// percentage paid Days days after approval.
type TrancheSpec struct {
	Percentage int `json:"percentage"`
	Days       int `json:"days_from_approval"`
}

// Template is the ordered disbursement plan of a scheme.
type Template []TrancheSpec

// Validate enforces the template invariants: at least one tranche, every
// percentage positive, day offsets non-negative and non-decreasing, and
// percentages summing to exactly 100.
func (t Template) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: template is empty", ErrInvalidTemplate)
	}
	sum := 0
	prevDays := 0
	for i, spec := range t {
		if spec.Percentage <= 0 {
			return fmt.Errorf("%w: tranche %d percentage %d", ErrInvalidTemplate, i+1, spec.Percentage)
		}
		if spec.Days < 0 {
			return fmt.Errorf("%w: tranche %d day offset %d", ErrInvalidTemplate, i+1, spec.Days)
		}
		if i > 0 && spec.Days < prevDays {
			return fmt.Errorf("%w: tranche %d due before tranche %d", ErrInvalidTemplate, i+1, i)
		}
		prevDays = spec.Days
		sum += spec.Percentage
	}
	if sum != 100 {
		return fmt.Errorf("%w: percentages sum to %d", ErrInvalidTemplate, sum)
	}
	return nil
}

// Amounts splits total (minor currency units) across the template using
// integer arithmetic. Rounding remainders fold into the last tranche so
// the slices always sum to total exactly.
func (t Template) Amounts(total int64) []int64 {
	out := make([]int64, len(t))
	var assigned int64
	for i, spec := range t {
		out[i] = total * int64(spec.Percentage) / 100
		assigned += out[i]
	}
	if n := len(out); n > 0 {
		out[n-1] += total - assigned
	}
	return out
}

// Scheme is a welfare program applications are filed against.
type Scheme struct {
	ID                string    `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	RequiresInterview bool      `json:"requires_interview"`
	Allocated         int64     `json:"allocated"` // minor currency units
	Template          Template  `json:"template"`
	Published         bool      `json:"published"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Store describes scheme persistence.
type Store interface {
	Create(ctx context.Context, s Scheme) (Scheme, error)
	Get(ctx context.Context, id string) (Scheme, error)
	List(ctx context.Context) ([]Scheme, error)
	Update(ctx context.Context, s Scheme) (Scheme, error)
}

// Provider is the read-side interface the workflow consumes.
type Provider interface {
	Scheme(ctx context.Context, id string) (Scheme, error)
}

// Service validates scheme configuration before it reaches the store.
type Service struct {
	store Store
}

// NewService constructs the scheme configuration service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("scheme: store is required")
	}
	return &Service{store: store}, nil
}

// Create registers an unpublished scheme draft.
func (s *Service) Create(ctx context.Context, code, name string, requiresInterview bool, allocated int64, tmpl Template) (Scheme, error) {
	code = strings.TrimSpace(strings.ToUpper(code))
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return Scheme{}, fmt.Errorf("%w: scheme code and name are required", ErrInvalidInput)
	}
	if allocated < 0 {
		return Scheme{}, fmt.Errorf("%w: allocation must not be negative", ErrInvalidInput)
	}
	return s.store.Create(ctx, Scheme{
		Code:              code,
		Name:              name,
		RequiresInterview: requiresInterview,
		Allocated:         allocated,
		Template:          tmpl,
	})
}

// Publish validates the tranche template and makes the scheme available
// for applications. This is the single point where the 100% invariant is
// enforced; approval never re-checks it.
func (s *Service) Publish(ctx context.Context, id string) (Scheme, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Scheme{}, fmt.Errorf("%w: scheme_id is required", ErrInvalidInput)
	}
	sch, err := s.store.Get(ctx, id)
	if err != nil {
		return Scheme{}, err
	}
	if err := sch.Template.Validate(); err != nil {
		return Scheme{}, err
	}
	if sch.Published {
		return sch, nil
	}
	sch.Published = true
	return s.store.Update(ctx, sch)
}

// Scheme returns a published or draft scheme by id.
func (s *Service) Scheme(ctx context.Context, id string) (Scheme, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Scheme{}, fmt.Errorf("%w: scheme_id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns all schemes.
func (s *Service) List(ctx context.Context) ([]Scheme, error) {
	return s.store.List(ctx)
}
