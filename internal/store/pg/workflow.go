package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sahayata.org/internal/ids"
	"sahayata.org/internal/region"
	"sahayata.org/internal/workflow"
)

// Applications is the workflow.Store view over the shared pool. The
// timeline, tranche and interview structures live in jsonb columns; the
// version column backs the optimistic save.
type Applications struct {
	db *sql.DB
}

// Applications exposes the application store.
func (s *Store) Applications() *Applications { return &Applications{db: s.db} }

var _ workflow.Store = (*Applications)(nil)

const applicationColumns = `id, number, beneficiary_id, scheme_id,
	region_state, region_district, region_area, region_unit,
	status, requested_amount, approved_amount,
	timeline, interview, reschedule_count, tranches,
	version, created_at, updated_at`

func (s *Applications) Create(ctx context.Context, app workflow.Application) (workflow.Application, error) {
	app.ID = ids.New()
	app.Version = 1
	timeline, interview, tranches, err := encodeApp(app)
	if err != nil {
		return workflow.Application{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into applications (id, number, beneficiary_id, scheme_id,
			region_state, region_district, region_area, region_unit,
			status, requested_amount, approved_amount,
			timeline, interview, reschedule_count, tranches, version)
		values ($1, 'SAH-' || lpad(nextval('application_number_seq')::text, 6, '0'),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		returning number, created_at, updated_at
	`, app.ID, app.BeneficiaryID, app.SchemeID,
		app.RegionPath.State, nullIfEmpty(app.RegionPath.District),
		nullIfEmpty(app.RegionPath.Area), nullIfEmpty(app.RegionPath.Unit),
		string(app.Status), app.RequestedAmount, app.ApprovedAmount,
		timeline, interview, app.RescheduleCount, tranches, app.Version)
	if err := row.Scan(&app.Number, &app.CreatedAt, &app.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return workflow.Application{}, fmt.Errorf("%w: scheme or region missing", workflow.ErrNotFound)
		}
		return workflow.Application{}, err
	}
	return app, nil
}

func (s *Applications) Get(ctx context.Context, id string) (workflow.Application, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+applicationColumns+` from applications where id = $1`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.Application{}, fmt.Errorf("%w: application %s", workflow.ErrNotFound, id)
	}
	return app, err
}

// Save writes the application back only if nobody else advanced the
// version since the caller's read. A zero-row update on an existing id
// is a lost race, reported as ErrConflict.
func (s *Applications) Save(ctx context.Context, app workflow.Application) (workflow.Application, error) {
	timeline, interview, tranches, err := encodeApp(app)
	if err != nil {
		return workflow.Application{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		update applications
		set status = $3, approved_amount = $4,
			timeline = $5, interview = $6, reschedule_count = $7, tranches = $8,
			version = version + 1, updated_at = now()
		where id = $1 and version = $2
	`, app.ID, app.Version,
		string(app.Status), app.ApprovedAmount,
		timeline, interview, app.RescheduleCount, tranches)
	if err != nil {
		return workflow.Application{}, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return workflow.Application{}, err
	}
	if aff == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`select 1 from applications where id = $1`, app.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.Application{}, fmt.Errorf("%w: application %s", workflow.ErrNotFound, app.ID)
		}
		if err != nil {
			return workflow.Application{}, err
		}
		return workflow.Application{}, fmt.Errorf("%w: application %s version %d is stale",
			workflow.ErrConflict, app.ID, app.Version)
	}
	return s.Get(ctx, app.ID)
}

func (s *Applications) List(ctx context.Context) ([]workflow.Application, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+applicationColumns+` from applications order by number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []workflow.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

func encodeApp(app workflow.Application) (timeline, interview, tranches []byte, err error) {
	if timeline, err = json.Marshal(app.Timeline); err != nil {
		return nil, nil, nil, err
	}
	if app.Interview != nil {
		if interview, err = json.Marshal(app.Interview); err != nil {
			return nil, nil, nil, err
		}
	}
	if app.Tranches == nil {
		tranches = []byte("[]")
	} else if tranches, err = json.Marshal(app.Tranches); err != nil {
		return nil, nil, nil, err
	}
	return timeline, interview, tranches, nil
}

func scanApplication(row interface{ Scan(...any) error }) (workflow.Application, error) {
	var (
		app                  workflow.Application
		district, area, unit sql.NullString
		status               string
		timeline, interview  []byte
		tranches             []byte
	)
	err := row.Scan(&app.ID, &app.Number, &app.BeneficiaryID, &app.SchemeID,
		&app.RegionPath.State, &district, &area, &unit,
		&status, &app.RequestedAmount, &app.ApprovedAmount,
		&timeline, &interview, &app.RescheduleCount, &tranches,
		&app.Version, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return workflow.Application{}, err
	}
	app.RegionPath = region.Path{
		State:    app.RegionPath.State,
		District: district.String,
		Area:     area.String,
		Unit:     unit.String,
	}
	app.Status = workflow.Status(status)
	if len(timeline) > 0 {
		if err := json.Unmarshal(timeline, &app.Timeline); err != nil {
			return workflow.Application{}, fmt.Errorf("decode timeline: %w", err)
		}
	}
	if len(interview) > 0 {
		var iv workflow.InterviewRef
		if err := json.Unmarshal(interview, &iv); err != nil {
			return workflow.Application{}, fmt.Errorf("decode interview: %w", err)
		}
		app.Interview = &iv
	}
	if len(tranches) > 0 {
		var ts []workflow.Tranche
		if err := json.Unmarshal(tranches, &ts); err != nil {
			return workflow.Application{}, fmt.Errorf("decode tranches: %w", err)
		}
		if len(ts) > 0 {
			app.Tranches = ts
		}
	}
	return app, nil
}
