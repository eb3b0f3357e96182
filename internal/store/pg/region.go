package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sahayata.org/internal/region"
)

// Regions is the region.Store view over the shared pool.
type Regions struct {
	db *sql.DB
}

// Regions exposes the region hierarchy store.
func (s *Store) Regions() *Regions { return &Regions{db: s.db} }

var _ region.Store = (*Regions)(nil)

const regionColumns = `id, code, name, level, parent_id, created_at`

func scanRegion(row interface{ Scan(...any) error }) (region.Region, error) {
	var (
		r      region.Region
		level  string
		parent sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Code, &r.Name, &level, &parent, &r.CreatedAt); err != nil {
		return region.Region{}, err
	}
	lv, err := region.ParseLevel(level)
	if err != nil {
		return region.Region{}, err
	}
	r.Level = lv
	if parent.Valid {
		r.ParentID = parent.String
	}
	return r, nil
}

func (s *Regions) Get(ctx context.Context, id string) (region.Region, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+regionColumns+` from regions where id = $1`, id)
	r, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return region.Region{}, fmt.Errorf("%w: region %s", region.ErrNotFound, id)
	}
	return r, err
}

// Ancestors walks the parent chain in one round trip with a recursive
// CTE, nearest-first (the region itself is element zero).
func (s *Regions) Ancestors(ctx context.Context, id string) ([]region.Region, error) {
	rows, err := s.db.QueryContext(ctx, `
		with recursive chain as (
			select `+regionColumns+`, 0 as depth
			from regions where id = $1
			union all
			select r.id, r.code, r.name, r.level, r.parent_id, r.created_at, c.depth + 1
			from regions r
			join chain c on r.id = c.parent_id
		)
		select `+regionColumns+` from chain order by depth
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []region.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: region %s", region.ErrNotFound, id)
	}
	return out, nil
}

func (s *Regions) Children(ctx context.Context, id string) ([]region.Region, error) {
	return s.queryRegions(ctx,
		`select `+regionColumns+` from regions where parent_id = $1 order by id`, id)
}

func (s *Regions) ListAll(ctx context.Context) ([]region.Region, error) {
	return s.queryRegions(ctx,
		`select `+regionColumns+` from regions order by id`)
}

func (s *Regions) queryRegions(ctx context.Context, query string, args ...any) ([]region.Region, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []region.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Regions) Create(ctx context.Context, r region.Region) (region.Region, error) {
	if err := r.Validate(); err != nil {
		return region.Region{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return region.Region{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if r.ParentID != "" {
		var parentLevel string
		err := tx.QueryRowContext(ctx,
			`select level from regions where id = $1`, r.ParentID).Scan(&parentLevel)
		if errors.Is(err, sql.ErrNoRows) {
			return region.Region{}, fmt.Errorf("%w: parent %s", region.ErrNotFound, r.ParentID)
		}
		if err != nil {
			return region.Region{}, err
		}
		pl, err := region.ParseLevel(parentLevel)
		if err != nil {
			return region.Region{}, err
		}
		if r.Level.Depth() != pl.Depth()+1 {
			return region.Region{}, fmt.Errorf("%w: region level %s under parent level %s",
				region.ErrInvalidInput, r.Level, pl)
		}
	}

	row := tx.QueryRowContext(ctx, `
		insert into regions (id, code, name, level, parent_id)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, r.ID, r.Code, r.Name, string(r.Level), nullIfEmpty(r.ParentID))
	if err := row.Scan(&r.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return region.Region{}, fmt.Errorf("%w: region %s already exists", region.ErrInvalidInput, r.ID)
		}
		return region.Region{}, err
	}
	if err := tx.Commit(); err != nil {
		return region.Region{}, err
	}
	return r, nil
}

func (s *Regions) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from regions where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: region %s", region.ErrHasChildren, id)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: region %s", region.ErrNotFound, id)
	}
	return nil
}
