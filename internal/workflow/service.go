package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sahayata.org/internal/authz"
	"sahayata.org/internal/disburse"
	"sahayata.org/internal/obs"
	"sahayata.org/internal/region"
	"sahayata.org/internal/scheme"
)

// saveRetries bounds optimistic-save attempts before surfacing ErrConflict.
const saveRetries = 3

// PermissionResolver gates every transition. Satisfied by authz.Resolver.
type PermissionResolver interface {
	Resolve(ctx context.Context, userID, permKey string, rc authz.Context) (authz.Decision, error)
}

// SchemeProvider supplies scheme configuration. Satisfied by scheme.Service.
type SchemeProvider interface {
	Scheme(ctx context.Context, id string) (scheme.Scheme, error)
}

// Ledger is the budget side of approvals and payouts. Satisfied by
// disburse.InMemory and the Postgres-backed ledger.
type Ledger interface {
	Commit(ctx context.Context, schemeID string, amount int64) (disburse.Budget, error)
	Release(ctx context.Context, schemeID string, amount int64) (disburse.Budget, error)
	Pay(ctx context.Context, schemeID, applicationID string, trancheIndex int, amount int64, idemKey string) (disburse.Payment, error)
}

// RegionSource resolves the beneficiary's region into a full path at
// submission time.
type RegionSource interface {
	Ancestors(ctx context.Context, id string) ([]region.Region, error)
}

// Sink receives every authorization refusal and every successful
// transition for compliance logging. Satisfied by audit.LogSink.
type Sink interface {
	Denied(ctx context.Context, userID, permission, resource, reason string)
	Transition(ctx context.Context, applicationID, from, to, actorID string)
}

// Notifier is told about successful transitions. Fire-and-forget: a
// notification failure never rolls back a transition.
type Notifier interface {
	Notify(applicationID string, ev TransitionEvent)
}

// Service drives the application lifecycle.
type Service struct {
	store    Store
	resolver PermissionResolver
	schemes  SchemeProvider
	ledger   Ledger
	regions  RegionSource
	sink     Sink
	notifier Notifier

	maxReschedules int // 0 = unlimited
	now            func() time.Time
}

// Option tweaks service construction.
type Option func(*Service)

// WithClock overrides the time source. Test use only.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRescheduleLimit caps interview reschedules per application.
// Zero keeps them unlimited.
func WithRescheduleLimit(n int) Option {
	return func(s *Service) { s.maxReschedules = n }
}

// WithNotifier attaches a transition notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService wires the workflow engine to its collaborators.
func NewService(store Store, resolver PermissionResolver, schemes SchemeProvider, ledger Ledger, regions RegionSource, sink Sink, opts ...Option) (*Service, error) {
	if store == nil || resolver == nil || schemes == nil || ledger == nil || regions == nil || sink == nil {
		return nil, errors.New("workflow: store, resolver, schemes, ledger, regions and sink are required")
	}
	s := &Service{
		store:    store,
		resolver: resolver,
		schemes:  schemes,
		ledger:   ledger,
		regions:  regions,
		sink:     sink,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SubmitRequest creates a new application.
type SubmitRequest struct {
	BeneficiaryID   string
	SchemeID        string
	RegionID        string
	RequestedAmount int64
}

// Submit files an application. The beneficiary's region is expanded to
// its full path and frozen; later region edits never move an
// application.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (Application, error) {
	req.BeneficiaryID = strings.TrimSpace(req.BeneficiaryID)
	req.SchemeID = strings.TrimSpace(req.SchemeID)
	req.RegionID = strings.TrimSpace(req.RegionID)
	if req.BeneficiaryID == "" || req.SchemeID == "" || req.RegionID == "" {
		return Application{}, fmt.Errorf("%w: beneficiary_id, scheme_id and region_id are required", ErrInvalidInput)
	}
	if req.RequestedAmount <= 0 {
		return Application{}, fmt.Errorf("%w: requested_amount must be positive", ErrInvalidInput)
	}

	dec, err := s.resolver.Resolve(ctx, req.BeneficiaryID, authz.PermApplicationsSubmit, authz.Context{
		ResourceOwnerID: req.BeneficiaryID,
	})
	if err != nil {
		return Application{}, err
	}
	if !dec.Allowed {
		s.sink.Denied(ctx, req.BeneficiaryID, authz.PermApplicationsSubmit, req.SchemeID, dec.Reason)
		return Application{}, &DeniedError{Permission: authz.PermApplicationsSubmit, Reason: dec.Reason}
	}

	sch, err := s.schemes.Scheme(ctx, req.SchemeID)
	if err != nil {
		return Application{}, err
	}
	if !sch.Published {
		return Application{}, fmt.Errorf("%w: scheme %s", scheme.ErrNotPublished, req.SchemeID)
	}

	path, err := s.pathFor(ctx, req.RegionID)
	if err != nil {
		return Application{}, err
	}

	now := s.now().UTC()
	app := Application{
		BeneficiaryID:   req.BeneficiaryID,
		SchemeID:        req.SchemeID,
		RegionPath:      path,
		Status:          StatusSubmitted,
		RequestedAmount: req.RequestedAmount,
		Timeline: []TransitionEvent{{
			From:      "",
			To:        StatusSubmitted,
			ActorID:   req.BeneficiaryID,
			Timestamp: now,
		}},
	}
	created, err := s.store.Create(ctx, app)
	if err != nil {
		return Application{}, err
	}
	s.notify(created.ID, created.Timeline[len(created.Timeline)-1])
	return created, nil
}

// TransitionRequest carries the optional payload of a transition.
type TransitionRequest struct {
	Comment        string
	ApprovedAmount int64         // used when target is approved; defaults to requested
	Interview      *InterviewRef // used when target is interview_scheduled
}

// Transition moves an application to target on behalf of actorID.
//
// Refusals come back as typed errors: *DeniedError for authorization,
// ErrInvalidTransition for unreachable targets, ErrBudgetExceeded when
// an approval does not fit the scheme budget, ErrConflict when another
// writer keeps winning the version race.
func (s *Service) Transition(ctx context.Context, applicationID string, target Status, actorID string, req TransitionRequest) (Application, error) {
	applicationID = strings.TrimSpace(applicationID)
	actorID = strings.TrimSpace(actorID)
	if applicationID == "" || actorID == "" {
		return Application{}, fmt.Errorf("%w: application_id and actor_id are required", ErrInvalidInput)
	}
	if !target.Valid() {
		return Application{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, target)
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		app, err := s.transitionOnce(ctx, applicationID, target, actorID, req)
		if err == nil {
			return app, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Application{}, err
		}
		lastErr = err
	}
	obs.ObserveTransition(string(target), "conflict")
	return Application{}, lastErr
}

func (s *Service) transitionOnce(ctx context.Context, applicationID string, target Status, actorID string, req TransitionRequest) (Application, error) {
	app, err := s.store.Get(ctx, applicationID)
	if err != nil {
		return Application{}, err
	}

	sch, err := s.schemes.Scheme(ctx, app.SchemeID)
	if err != nil {
		return Application{}, err
	}

	if !CanTransition(app.Status, target, sch.RequiresInterview) {
		obs.ObserveTransition(string(target), "invalid")
		return Application{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, app.Status, target)
	}

	permKey, err := PermissionFor(target)
	if err != nil {
		return Application{}, err
	}
	dec, err := s.resolver.Resolve(ctx, actorID, permKey, authz.Context{
		RegionID:        app.RegionPath.MostSpecific(),
		ResourceOwnerID: app.BeneficiaryID,
	})
	if err != nil {
		return Application{}, err
	}
	if !dec.Allowed {
		obs.ObserveTransition(string(target), "denied")
		s.sink.Denied(ctx, actorID, permKey, app.ID, dec.Reason)
		return Application{}, &DeniedError{Permission: permKey, Reason: dec.Reason}
	}

	now := s.now().UTC()
	var committed int64 // rolled back if the save loses the version race

	switch target {
	case StatusApproved:
		amount := req.ApprovedAmount
		if amount == 0 {
			amount = app.RequestedAmount
		}
		if amount <= 0 {
			return Application{}, fmt.Errorf("%w: approved_amount must be positive", ErrInvalidInput)
		}
		if _, err := s.ledger.Commit(ctx, app.SchemeID, amount); err != nil {
			if errors.Is(err, disburse.ErrBudgetExhausted) {
				obs.ObserveTransition(string(target), "budget_exceeded")
				return Application{}, fmt.Errorf("%w: scheme %s cannot cover %d", ErrBudgetExceeded, app.SchemeID, amount)
			}
			return Application{}, err
		}
		committed = amount
		app.ApprovedAmount = amount
		app.Tranches = buildTranches(sch.Template, amount, now)
	case StatusInterviewScheduled:
		if req.Interview == nil {
			return Application{}, fmt.Errorf("%w: interview slot is required", ErrInvalidInput)
		}
		iv := *req.Interview
		app.Interview = &iv
	case StatusOnHold, StatusReturned:
		// Leaving an approved track hands unspent funds back to the pool.
		if unpaid := unpaidTotal(app.Tranches); unpaid > 0 {
			if _, err := s.ledger.Release(ctx, app.SchemeID, unpaid); err != nil {
				return Application{}, err
			}
		}
		app.Tranches = nil
		app.ApprovedAmount = 0
	case StatusCompleted:
		if unpaid := unpaidTotal(app.Tranches); unpaid > 0 {
			return Application{}, fmt.Errorf("%w: %d minor units outstanding", ErrTranchesUnpaid, unpaid)
		}
	}

	app.Timeline = append(app.Timeline, TransitionEvent{
		From:      app.Status,
		To:        target,
		ActorID:   actorID,
		Timestamp: now,
		Comment:   strings.TrimSpace(req.Comment),
	})
	app.Status = target

	saved, err := s.store.Save(ctx, app)
	if err != nil {
		// The commit must not outlive a failed save, whatever the failure.
		if committed > 0 {
			_, _ = s.ledger.Release(ctx, app.SchemeID, committed)
		}
		return Application{}, err
	}

	obs.ObserveTransition(string(target), "ok")
	ev := saved.Timeline[len(saved.Timeline)-1]
	s.sink.Transition(ctx, saved.ID, string(ev.From), string(ev.To), actorID)
	s.notify(saved.ID, ev)
	return saved, nil
}

// RescheduleInterview replaces the interview slot without changing
// status. Gated by its own permission and the optional reschedule cap.
func (s *Service) RescheduleInterview(ctx context.Context, applicationID, actorID string, ref InterviewRef) (Application, error) {
	applicationID = strings.TrimSpace(applicationID)
	actorID = strings.TrimSpace(actorID)
	if applicationID == "" || actorID == "" {
		return Application{}, fmt.Errorf("%w: application_id and actor_id are required", ErrInvalidInput)
	}
	if ref.ScheduledAt.IsZero() {
		return Application{}, fmt.Errorf("%w: scheduled_at is required", ErrInvalidInput)
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		app, err := s.store.Get(ctx, applicationID)
		if err != nil {
			return Application{}, err
		}
		if app.Status != StatusInterviewScheduled {
			return Application{}, fmt.Errorf("%w: no interview to reschedule in status %s", ErrInvalidTransition, app.Status)
		}
		if s.maxReschedules > 0 && app.RescheduleCount >= s.maxReschedules {
			return Application{}, fmt.Errorf("%w: %d of %d used", ErrRescheduleLimit, app.RescheduleCount, s.maxReschedules)
		}

		dec, err := s.resolver.Resolve(ctx, actorID, authz.PermInterviewReschedule, authz.Context{
			RegionID: app.RegionPath.MostSpecific(),
		})
		if err != nil {
			return Application{}, err
		}
		if !dec.Allowed {
			s.sink.Denied(ctx, actorID, authz.PermInterviewReschedule, app.ID, dec.Reason)
			return Application{}, &DeniedError{Permission: authz.PermInterviewReschedule, Reason: dec.Reason}
		}

		iv := ref
		app.Interview = &iv
		app.RescheduleCount++
		saved, err := s.store.Save(ctx, app)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Application{}, err
		}
		lastErr = err
	}
	return Application{}, lastErr
}

// PayTranche records a tranche payout while the application is
// disbursing. The idempotency key makes payment retries safe.
func (s *Service) PayTranche(ctx context.Context, applicationID, actorID string, index int, idemKey string) (Application, error) {
	applicationID = strings.TrimSpace(applicationID)
	actorID = strings.TrimSpace(actorID)
	if applicationID == "" || actorID == "" {
		return Application{}, fmt.Errorf("%w: application_id and actor_id are required", ErrInvalidInput)
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		app, err := s.store.Get(ctx, applicationID)
		if err != nil {
			return Application{}, err
		}
		if app.Status != StatusDisbursing {
			return Application{}, fmt.Errorf("%w: payouts only while disbursing, status is %s", ErrInvalidTransition, app.Status)
		}
		if index < 0 || index >= len(app.Tranches) {
			return Application{}, fmt.Errorf("%w: tranche index %d", ErrInvalidInput, index)
		}
		dec, err := s.resolver.Resolve(ctx, actorID, authz.PermApplicationsDisburse, authz.Context{
			RegionID: app.RegionPath.MostSpecific(),
		})
		if err != nil {
			return Application{}, err
		}
		if !dec.Allowed {
			s.sink.Denied(ctx, actorID, authz.PermApplicationsDisburse, app.ID, dec.Reason)
			return Application{}, &DeniedError{Permission: authz.PermApplicationsDisburse, Reason: dec.Reason}
		}

		// Replayed payments succeed only for actors who could pay.
		if app.Tranches[index].Paid() {
			return app, nil
		}

		if _, err := s.ledger.Pay(ctx, app.SchemeID, app.ID, index, app.Tranches[index].Amount, idemKey); err != nil {
			return Application{}, err
		}
		app.Tranches[index].PaidAt = s.now().UTC()
		saved, err := s.store.Save(ctx, app)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Application{}, err
		}
		// The ledger call is idempotent under idemKey, so retrying the
		// whole read-modify-save cycle is safe.
		lastErr = err
	}
	return Application{}, lastErr
}

// Get returns an application by id.
func (s *Service) Get(ctx context.Context, id string) (Application, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Application{}, fmt.Errorf("%w: application_id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// List returns all applications.
func (s *Service) List(ctx context.Context) ([]Application, error) {
	return s.store.List(ctx)
}

func (s *Service) pathFor(ctx context.Context, regionID string) (region.Path, error) {
	chain, err := s.regions.Ancestors(ctx, regionID)
	if err != nil {
		return region.Path{}, err
	}
	var p region.Path
	for _, r := range chain {
		switch r.Level {
		case region.LevelState:
			p.State = r.ID
		case region.LevelDistrict:
			p.District = r.ID
		case region.LevelArea:
			p.Area = r.ID
		case region.LevelUnit:
			p.Unit = r.ID
		}
	}
	return p, nil
}

func (s *Service) notify(applicationID string, ev TransitionEvent) {
	if s.notifier != nil {
		s.notifier.Notify(applicationID, ev)
	}
}

// buildTranches applies the scheme template to the approved amount.
// Integer remainders fold into the last tranche.
func buildTranches(tmpl scheme.Template, amount int64, approvedAt time.Time) []Tranche {
	amounts := tmpl.Amounts(amount)
	out := make([]Tranche, len(amounts))
	for i, a := range amounts {
		out[i] = Tranche{
			Index:  i,
			Amount: a,
			DueAt:  approvedAt.AddDate(0, 0, tmpl[i].Days),
		}
	}
	return out
}

func unpaidTotal(tranches []Tranche) int64 {
	var sum int64
	for _, t := range tranches {
		if !t.Paid() {
			sum += t.Amount
		}
	}
	return sum
}
