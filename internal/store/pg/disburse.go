package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sahayata.org/internal/disburse"
	"sahayata.org/internal/ids"
)

// Ledger is the disburse.Service view over the shared pool.
type Ledger struct {
	db *sql.DB
}

// Ledger exposes the budget ledger.
func (s *Store) Ledger() *Ledger { return &Ledger{db: s.db} }

var _ disburse.Service = (*Ledger)(nil)

func (l *Ledger) OpenBudget(ctx context.Context, schemeID string, allocated int64) (disburse.Budget, error) {
	if allocated < 0 {
		return disburse.Budget{}, disburse.ErrInvalidAmount
	}
	var b disburse.Budget
	err := l.db.QueryRowContext(ctx, `
		insert into budgets (scheme_id, allocated, committed, spent)
		values ($1, $2, 0, 0)
		on conflict (scheme_id) do update
		set allocated = greatest(budgets.allocated, excluded.allocated)
		returning scheme_id, allocated, committed, spent
	`, schemeID, allocated).Scan(&b.SchemeID, &b.Allocated, &b.Committed, &b.Spent)
	if err != nil {
		return disburse.Budget{}, err
	}
	return b, nil
}

func (l *Ledger) GetBudget(ctx context.Context, schemeID string) (disburse.Budget, error) {
	var b disburse.Budget
	err := l.db.QueryRowContext(ctx, `
		select scheme_id, allocated, committed, spent
		from budgets where scheme_id = $1
	`, schemeID).Scan(&b.SchemeID, &b.Allocated, &b.Committed, &b.Spent)
	if errors.Is(err, sql.ErrNoRows) {
		return disburse.Budget{}, disburse.ErrNotFound
	}
	if err != nil {
		return disburse.Budget{}, err
	}
	return b, nil
}

// Commit reserves funds with a single guarded update: the where clause
// keeps the invariant committed + spent <= allocated under concurrency.
func (l *Ledger) Commit(ctx context.Context, schemeID string, amount int64) (disburse.Budget, error) {
	if amount <= 0 {
		return disburse.Budget{}, disburse.ErrInvalidAmount
	}
	var b disburse.Budget
	err := l.db.QueryRowContext(ctx, `
		update budgets
		set committed = committed + $2
		where scheme_id = $1 and allocated - committed - spent >= $2
		returning scheme_id, allocated, committed, spent
	`, schemeID, amount).Scan(&b.SchemeID, &b.Allocated, &b.Committed, &b.Spent)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the budget row is missing or the funds are not there.
		if _, gerr := l.GetBudget(ctx, schemeID); gerr != nil {
			return disburse.Budget{}, gerr
		}
		return disburse.Budget{}, disburse.ErrBudgetExhausted
	}
	if err != nil {
		return disburse.Budget{}, err
	}
	return b, nil
}

func (l *Ledger) Release(ctx context.Context, schemeID string, amount int64) (disburse.Budget, error) {
	if amount <= 0 {
		return disburse.Budget{}, disburse.ErrInvalidAmount
	}
	var b disburse.Budget
	err := l.db.QueryRowContext(ctx, `
		update budgets
		set committed = committed - $2
		where scheme_id = $1 and committed >= $2
		returning scheme_id, allocated, committed, spent
	`, schemeID, amount).Scan(&b.SchemeID, &b.Allocated, &b.Committed, &b.Spent)
	if errors.Is(err, sql.ErrNoRows) {
		if _, gerr := l.GetBudget(ctx, schemeID); gerr != nil {
			return disburse.Budget{}, gerr
		}
		return disburse.Budget{}, disburse.ErrNothingCommitted
	}
	if err != nil {
		return disburse.Budget{}, err
	}
	return b, nil
}

func (l *Ledger) Pay(ctx context.Context, schemeID, applicationID string, trancheIndex int, amount int64, idemKey string) (disburse.Payment, error) {
	if amount <= 0 {
		return disburse.Payment{}, disburse.ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return disburse.Payment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return the existing payment if the key was seen.
	if idemKey != "" {
		var p disburse.Payment
		var idem sql.NullString
		err := tx.QueryRowContext(ctx, `
			select id, created_at, scheme_id, application_id, tranche_index, amount, sequence, idempotency_key
			from payments where idempotency_key = $1
		`, idemKey).Scan(&p.ID, &p.CreatedAt, &p.SchemeID, &p.ApplicationID, &p.TrancheIndex, &p.Amount, &p.Sequence, &idem)
		if err == nil {
			if idem.Valid {
				p.IdempotencyKey = idem.String
			}
			return p, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return disburse.Payment{}, err
		}
	}

	res, err := tx.ExecContext(ctx, `
		update budgets
		set committed = committed - $2, spent = spent + $2
		where scheme_id = $1 and committed >= $2
	`, schemeID, amount)
	if err != nil {
		return disburse.Payment{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return disburse.Payment{}, err
	}
	if aff == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `select 1 from budgets where scheme_id = $1`, schemeID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return disburse.Payment{}, disburse.ErrNotFound
		}
		if err != nil {
			return disburse.Payment{}, err
		}
		return disburse.Payment{}, disburse.ErrNothingCommitted
	}

	pid := ids.New()
	var seq uint64
	if err := tx.QueryRowContext(ctx, `
		insert into payments (id, scheme_id, application_id, tranche_index, amount, idempotency_key)
		values ($1, $2, $3, $4, $5, nullif($6, ''))
		returning sequence
	`, pid, schemeID, applicationID, trancheIndex, amount, idemKey).Scan(&seq); err != nil {
		return disburse.Payment{}, err
	}

	if err := tx.Commit(); err != nil {
		return disburse.Payment{}, err
	}
	return disburse.Payment{
		ID:             pid,
		CreatedAt:      time.Now().UTC(),
		SchemeID:       schemeID,
		ApplicationID:  applicationID,
		TrancheIndex:   trancheIndex,
		Amount:         amount,
		IdempotencyKey: idemKey,
		Sequence:       seq,
	}, nil
}

func (l *Ledger) ListPayments(ctx context.Context, limit int, afterSeq uint64) ([]disburse.Payment, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		select id, created_at, scheme_id, application_id, tranche_index, amount, sequence, coalesce(idempotency_key, '')
		from payments
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []disburse.Payment
	var last uint64
	for rows.Next() {
		var p disburse.Payment
		var idem string
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.SchemeID, &p.ApplicationID, &p.TrancheIndex, &p.Amount, &p.Sequence, &idem); err != nil {
			return nil, 0, err
		}
		if idem != "" {
			p.IdempotencyKey = idem
		}
		res = append(res, p)
		last = p.Sequence
	}
	return res, last, rows.Err()
}
