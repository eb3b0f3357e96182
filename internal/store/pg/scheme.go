package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sahayata.org/internal/ids"
	"sahayata.org/internal/scheme"
)

// Schemes is the scheme.Store view over the shared pool. The tranche
// template lives in a jsonb column.
type Schemes struct {
	db *sql.DB
}

// Schemes exposes the scheme configuration store.
func (s *Store) Schemes() *Schemes { return &Schemes{db: s.db} }

var _ scheme.Store = (*Schemes)(nil)

const schemeColumns = `id, code, name, requires_interview, allocated, template, published, created_at, updated_at`

func scanScheme(row interface{ Scan(...any) error }) (scheme.Scheme, error) {
	var (
		sch scheme.Scheme
		tpl []byte
	)
	err := row.Scan(&sch.ID, &sch.Code, &sch.Name, &sch.RequiresInterview,
		&sch.Allocated, &tpl, &sch.Published, &sch.CreatedAt, &sch.UpdatedAt)
	if err != nil {
		return scheme.Scheme{}, err
	}
	if len(tpl) > 0 {
		if err := json.Unmarshal(tpl, &sch.Template); err != nil {
			return scheme.Scheme{}, fmt.Errorf("decode template: %w", err)
		}
	}
	return sch, nil
}

func (s *Schemes) Create(ctx context.Context, sch scheme.Scheme) (scheme.Scheme, error) {
	sch.ID = ids.New()
	tpl, err := json.Marshal(sch.Template)
	if err != nil {
		return scheme.Scheme{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into schemes (id, code, name, requires_interview, allocated, template, published)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, sch.ID, sch.Code, sch.Name, sch.RequiresInterview, sch.Allocated, tpl, sch.Published)
	if err := row.Scan(&sch.CreatedAt, &sch.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return scheme.Scheme{}, fmt.Errorf("%w: scheme code %q already exists", scheme.ErrConflict, sch.Code)
		}
		return scheme.Scheme{}, err
	}
	return sch, nil
}

func (s *Schemes) Get(ctx context.Context, id string) (scheme.Scheme, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+schemeColumns+` from schemes where id = $1`, id)
	sch, err := scanScheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return scheme.Scheme{}, fmt.Errorf("%w: scheme %s", scheme.ErrNotFound, id)
	}
	return sch, err
}

func (s *Schemes) List(ctx context.Context) ([]scheme.Scheme, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+schemeColumns+` from schemes order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scheme.Scheme
	for rows.Next() {
		sch, err := scanScheme(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, rows.Err()
}

func (s *Schemes) Update(ctx context.Context, sch scheme.Scheme) (scheme.Scheme, error) {
	tpl, err := json.Marshal(sch.Template)
	if err != nil {
		return scheme.Scheme{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		update schemes
		set name = $2, requires_interview = $3, allocated = $4, template = $5, published = $6, updated_at = now()
		where id = $1
	`, sch.ID, sch.Name, sch.RequiresInterview, sch.Allocated, tpl, sch.Published)
	if err != nil {
		return scheme.Scheme{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return scheme.Scheme{}, err
	}
	if aff == 0 {
		return scheme.Scheme{}, fmt.Errorf("%w: scheme %s", scheme.ErrNotFound, sch.ID)
	}
	return s.Get(ctx, sch.ID)
}
