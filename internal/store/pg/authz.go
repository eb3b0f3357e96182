package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sahayata.org/internal/authz"
	"sahayata.org/internal/ids"
)

var _ authz.Store = (*Store)(nil)

// jsonKeys encodes a permission key list for a jsonb column.
func jsonKeys(keys []string) ([]byte, error) {
	if keys == nil {
		keys = []string{}
	}
	return json.Marshal(keys)
}

func decodeKeys(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return keys, nil
}

func (s *Store) EnsurePermissions(ctx context.Context, perms []authz.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		if p.Key == "" || !p.Scope.Valid() {
			return fmt.Errorf("%w: permission %q", authz.ErrInvalidInput, p.Key)
		}
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		// Immutable once present: conflicts are skipped, not updated.
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, key, module, scope, security_level, description)
			values ($1, $2, $3, $4, $5, $6)
			on conflict (key) do nothing
		`, id, p.Key, p.Module, string(p.Scope), p.SecurityLevel, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) PermissionByKey(ctx context.Context, key string) (authz.Permission, error) {
	var (
		p     authz.Permission
		scope string
		desc  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, key, module, scope, security_level, description, created_at
		from permissions
		where key = $1
	`, key).Scan(&p.ID, &p.Key, &p.Module, &scope, &p.SecurityLevel, &desc, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Permission{}, fmt.Errorf("%w: permission %s", authz.ErrNotFound, key)
	}
	if err != nil {
		return authz.Permission{}, err
	}
	p.Scope = authz.ScopeClass(scope)
	if desc.Valid {
		p.Description = desc.String
	}
	return p, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, key, module, scope, security_level, description, created_at
		from permissions
		order by key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Permission
	for rows.Next() {
		var (
			p     authz.Permission
			scope string
			desc  sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Key, &p.Module, &scope, &p.SecurityLevel, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Scope = authz.ScopeClass(scope)
		if desc.Valid {
			p.Description = desc.String
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateRole(ctx context.Context, role authz.Role) (authz.Role, error) {
	if role.ID == "" {
		role.ID = ids.New()
	}
	keys, err := jsonKeys(role.PermissionKeys)
	if err != nil {
		return authz.Role{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, level, kind, permission_keys, deletable, modifiable, max_assignable_users)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, role.ID, role.Name, role.Level, string(role.Kind), keys,
		role.Deletable, role.Modifiable, role.MaxAssignableUsers)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.Role{}, fmt.Errorf("%w: role %s", authz.ErrConflict, role.Name)
		}
		return authz.Role{}, err
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (authz.Role, error) {
	var (
		role    authz.Role
		kind    string
		rawKeys []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, level, kind, permission_keys, deletable, modifiable, max_assignable_users, created_at, updated_at
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &role.Level, &kind, &rawKeys,
		&role.Deletable, &role.Modifiable, &role.MaxAssignableUsers, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Role{}, fmt.Errorf("%w: role %s", authz.ErrNotFound, id)
	}
	if err != nil {
		return authz.Role{}, err
	}
	role.Kind = authz.RoleKind(kind)
	if role.PermissionKeys, err = decodeKeys(rawKeys); err != nil {
		return authz.Role{}, err
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]authz.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, level, kind, permission_keys, deletable, modifiable, max_assignable_users, created_at, updated_at
		from roles
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Role
	for rows.Next() {
		var (
			role    authz.Role
			kind    string
			rawKeys []byte
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Level, &kind, &rawKeys,
			&role.Deletable, &role.Modifiable, &role.MaxAssignableUsers, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Kind = authz.RoleKind(kind)
		if role.PermissionKeys, err = decodeKeys(rawKeys); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd authz.RoleUpdate) (authz.Role, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Level != nil {
		sets = append(sets, fmt.Sprintf("level = $%d", idx))
		args = append(args, *upd.Level)
		idx++
	}
	if upd.PermissionKeys != nil {
		keys, err := jsonKeys(upd.PermissionKeys)
		if err != nil {
			return authz.Role{}, err
		}
		sets = append(sets, fmt.Sprintf("permission_keys = $%d", idx))
		args = append(args, keys)
		idx++
	}
	if upd.MaxAssignableUsers != nil {
		sets = append(sets, fmt.Sprintf("max_assignable_users = $%d", idx))
		args = append(args, *upd.MaxAssignableUsers)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return authz.Role{}, fmt.Errorf("%w: role name taken", authz.ErrConflict)
			}
			return authz.Role{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return authz.Role{}, err
		}
		if aff == 0 {
			return authz.Role{}, fmt.Errorf("%w: role %s", authz.ErrNotFound, id)
		}
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: role %s is referenced by bindings", authz.ErrConflict, id)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: role %s", authz.ErrNotFound, id)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u authz.User) (authz.User, error) {
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, password_hash, status)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, u.ID, u.Email, nullIfEmpty(u.Name), u.PasswordHash, u.Status)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return authz.User{}, fmt.Errorf("%w: email %s", authz.ErrConflict, u.Email)
		}
		return authz.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (authz.User, error) {
	return s.userBy(ctx, "id", id)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (authz.User, error) {
	return s.userBy(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) userBy(ctx context.Context, column, value string) (authz.User, error) {
	var (
		u    authz.User
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		select id, email, name, password_hash, status, created_at, updated_at
		from users
		where %s = $1
	`, column), value).Scan(&u.ID, &u.Email, &name, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.User{}, fmt.Errorf("%w: user %s", authz.ErrNotFound, value)
	}
	if err != nil {
		return authz.User{}, err
	}
	if name.Valid {
		u.Name = name.String
	}
	return u, nil
}

func (s *Store) CreateBinding(ctx context.Context, b authz.Binding) (authz.Binding, error) {
	if b.ID == "" {
		b.ID = ids.New()
	}
	granted, err := jsonKeys(b.Granted)
	if err != nil {
		return authz.Binding{}, err
	}
	restricted, err := jsonKeys(b.Restricted)
	if err != nil {
		return authz.Binding{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return authz.Binding{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if b.Primary {
		var exists int
		err := tx.QueryRowContext(ctx, `
			select 1 from bindings
			where user_id = $1 and is_primary
			  and valid_from <= now()
			  and (valid_until is null or valid_until > now())
			limit 1
		`, b.UserID).Scan(&exists)
		if err == nil {
			return authz.Binding{}, fmt.Errorf("%w: user %s already has a primary binding", authz.ErrConflict, b.UserID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return authz.Binding{}, err
		}
	}

	row := tx.QueryRowContext(ctx, `
		insert into bindings (id, user_id, role_id, region_id, is_primary, is_temporary,
			valid_from, valid_until, granted, restricted, assigned_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning created_at
	`, b.ID, b.UserID, b.RoleID, nullIfEmpty(b.RegionID), b.Primary, b.Temporary,
		b.ValidFrom, nullTime(b.ValidUntil), granted, restricted, b.AssignedBy)
	if err := row.Scan(&b.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return authz.Binding{}, fmt.Errorf("%w: user, role or region missing", authz.ErrNotFound)
		}
		return authz.Binding{}, err
	}
	if err := tx.Commit(); err != nil {
		return authz.Binding{}, err
	}
	return b, nil
}

const bindingColumns = `id, user_id, role_id, region_id, is_primary, is_temporary,
	valid_from, valid_until, granted, restricted, assigned_by, created_at`

func scanBinding(row interface{ Scan(...any) error }) (authz.Binding, error) {
	var (
		b          authz.Binding
		regionID   sql.NullString
		validUntil sql.NullTime
		granted    []byte
		restricted []byte
	)
	err := row.Scan(&b.ID, &b.UserID, &b.RoleID, &regionID, &b.Primary, &b.Temporary,
		&b.ValidFrom, &validUntil, &granted, &restricted, &b.AssignedBy, &b.CreatedAt)
	if err != nil {
		return authz.Binding{}, err
	}
	if regionID.Valid {
		b.RegionID = regionID.String
	}
	if validUntil.Valid {
		t := validUntil.Time
		b.ValidUntil = &t
	}
	if b.Granted, err = decodeKeys(granted); err != nil {
		return authz.Binding{}, err
	}
	if b.Restricted, err = decodeKeys(restricted); err != nil {
		return authz.Binding{}, err
	}
	return b, nil
}

func (s *Store) GetBinding(ctx context.Context, id string) (authz.Binding, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+bindingColumns+` from bindings where id = $1`, id)
	b, err := scanBinding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.Binding{}, fmt.Errorf("%w: binding %s", authz.ErrNotFound, id)
	}
	return b, err
}

func (s *Store) ListBindings(ctx context.Context, userID string) ([]authz.Binding, error) {
	return s.queryBindings(ctx,
		`select `+bindingColumns+` from bindings where user_id = $1 order by id`, userID)
}

func (s *Store) ActiveBindings(ctx context.Context, userID string, at time.Time) ([]authz.Binding, error) {
	return s.queryBindings(ctx, `
		select `+bindingColumns+`
		from bindings
		where user_id = $1
		  and valid_from <= $2
		  and (valid_until is null or valid_until > $2)
		order by id
	`, userID, at)
}

func (s *Store) queryBindings(ctx context.Context, query string, args ...any) ([]authz.Binding, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveBindings(ctx context.Context, roleID string, at time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		select count(*)
		from bindings
		where role_id = $1
		  and valid_from <= $2
		  and (valid_until is null or valid_until > $2)
	`, roleID, at).Scan(&count)
	return count, err
}

func (s *Store) DeactivateBinding(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update bindings set valid_until = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: binding %s", authz.ErrNotFound, id)
	}
	return nil
}
