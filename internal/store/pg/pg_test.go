package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"sahayata.org/internal/authz"
	"sahayata.org/internal/disburse"
	"sahayata.org/internal/region"
	"sahayata.org/internal/workflow"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestActiveBindingsFiltersWindow(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "role_id", "region_id", "is_primary", "is_temporary",
		"valid_from", "valid_until", "granted", "restricted", "assigned_by", "created_at",
	}).AddRow("b1", "u1", "r1", "kollam", true, false,
		at.Add(-time.Hour), nil, []byte(`["applications.view"]`), []byte(`[]`), "seed", at.Add(-time.Hour))

	mock.ExpectQuery("select (.+) from bindings").
		WithArgs("u1", at).
		WillReturnRows(rows)

	got, err := store.ActiveBindings(context.Background(), "u1", at)
	if err != nil {
		t.Fatalf("ActiveBindings: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(got))
	}
	b := got[0]
	if b.RegionID != "kollam" || !b.Primary || b.ValidUntil != nil {
		t.Fatalf("unexpected binding: %+v", b)
	}
	if len(b.Granted) != 1 || b.Granted[0] != "applications.view" {
		t.Fatalf("granted keys not decoded: %+v", b.Granted)
	}
	if b.Restricted != nil {
		t.Fatalf("empty restricted should decode to nil, got %+v", b.Restricted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetRoleNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select (.+) from roles").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetRole(context.Background(), "missing")
	if !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("GetRole = %v, want ErrNotFound", err)
	}
}

func TestRegionAncestorsOrdersNearestFirst(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"id", "code", "name", "level", "parent_id", "created_at"}).
		AddRow("pettah", "PT", "Pettah", "unit", "kollam-west", now).
		AddRow("kollam-west", "KW", "Kollam West", "area", "kollam", now).
		AddRow("kollam", "KLM", "Kollam", "district", "kerala", now).
		AddRow("kerala", "KL", "Kerala", "state", nil, now)

	mock.ExpectQuery("with recursive chain").
		WithArgs("pettah").
		WillReturnRows(rows)

	chain, err := store.Regions().Ancestors(context.Background(), "pettah")
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(chain) != 4 || chain[0].ID != "pettah" || chain[3].ID != "kerala" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
	if chain[3].Level != region.LevelState || chain[3].ParentID != "" {
		t.Fatalf("root not decoded: %+v", chain[3])
	}
}

func TestRegionAncestorsMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("with recursive chain").
		WithArgs("nowhere").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "level", "parent_id", "created_at"}))

	_, err := store.Regions().Ancestors(context.Background(), "nowhere")
	if !errors.Is(err, region.ErrNotFound) {
		t.Fatalf("Ancestors = %v, want ErrNotFound", err)
	}
}

func TestApplicationSaveStaleVersionConflicts(t *testing.T) {
	store, mock := newMock(t)

	app := workflow.Application{
		ID:      "app-1",
		Status:  workflow.StatusUnderReview,
		Version: 3,
	}
	mock.ExpectExec("update applications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from applications").
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err := store.Applications().Save(context.Background(), app)
	if !errors.Is(err, workflow.ErrConflict) {
		t.Fatalf("Save = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplicationSaveMissingRow(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("update applications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from applications").
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	_, err := store.Applications().Save(context.Background(), workflow.Application{ID: "gone", Version: 1})
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("Save = %v, want ErrNotFound", err)
	}
}

func TestLedgerCommitExhausted(t *testing.T) {
	store, mock := newMock(t)

	// Guarded update matches no row, then the budget row itself exists.
	mock.ExpectQuery("update budgets").
		WithArgs("snp", int64(5000)).
		WillReturnRows(sqlmock.NewRows([]string{"scheme_id", "allocated", "committed", "spent"}))
	mock.ExpectQuery("select scheme_id, allocated, committed, spent").
		WithArgs("snp").
		WillReturnRows(sqlmock.NewRows([]string{"scheme_id", "allocated", "committed", "spent"}).
			AddRow("snp", int64(1000), int64(0), int64(0)))

	_, err := store.Ledger().Commit(context.Background(), "snp", 5000)
	if !errors.Is(err, disburse.ErrBudgetExhausted) {
		t.Fatalf("Commit = %v, want ErrBudgetExhausted", err)
	}
}

func TestLedgerPayIdempotentReplay(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from payments where idempotency_key").
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "created_at", "scheme_id", "application_id", "tranche_index", "amount", "sequence", "idempotency_key",
		}).AddRow("p1", now, "snp", "app-1", 0, int64(400), uint64(7), "k1"))
	mock.ExpectRollback()

	p, err := store.Ledger().Pay(context.Background(), "snp", "app-1", 0, 400, "k1")
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if p.ID != "p1" || p.Sequence != 7 {
		t.Fatalf("replay returned wrong payment: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
