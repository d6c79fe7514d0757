package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"estateflow/apperr"
	"estateflow/db"
	"estateflow/role"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = apperr.New(apperr.KindNotFound, "user: not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = apperr.New(apperr.KindConflict, "user: email already exists")
	// ErrRoleAlreadyHeld signals that the role, or a pending request for it, is already on the user.
	ErrRoleAlreadyHeld = apperr.New(apperr.KindConflict, "user: role already held or requested")
	// ErrAdminUndeletable signals an attempt to delete an admin account.
	ErrAdminUndeletable = apperr.New(apperr.KindForbidden, "user: admin accounts cannot be deleted")
)

// Repository handles directory persistence. Role mutations are single
// statements so concurrent writers never lose each other's tags.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	List(ctx context.Context, filters Filters) ([]User, int, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error)
	GrantRole(ctx context.Context, userID string, granted role.Role, cleared ...role.Role) (User, error)
	RevokeRoles(ctx context.Context, userID string, revoked ...role.Role) (User, error)
	AddPendingRole(ctx context.Context, userID string, pending role.Role, blockers []role.Role) (User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed user repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, phone, profile_photos, roles, status, created_at, updated_at`

func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (id, email, password_hash, first_name, last_name, phone, roles)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), lower($2), $3, $4, $5, $6, '{user}')
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, insertSQL,
		params.ID, params.Email, params.PasswordHash, params.FirstName, params.LastName, params.Phone))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("user: create: %w", err)
	}
	return u, nil
}

func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`

	u, err := scanUser(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("user: get by email: %w", err)
	}
	return u, nil
}

func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("user: get by id: %w", err)
	}
	return u, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]User, int, error) {
	filters = normalizeFilters(filters)

	where := []string{"1=1"}
	args := []any{}
	if filters.Role != "" {
		where = append(where, fmt.Sprintf("$%d = ANY(roles)", len(args)+1))
		args = append(args, string(filters.Role))
	}
	if filters.Email != "" {
		where = append(where, fmt.Sprintf("email ILIKE $%d", len(args)+1))
		args = append(args, "%"+filters.Email+"%")
	}
	if filters.Name != "" {
		where = append(where, fmt.Sprintf("(first_name || ' ' || last_name) ILIKE $%d", len(args)+1))
		args = append(args, "%"+filters.Name+"%")
	}
	if !filters.CreatedAfter.IsZero() {
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, filters.CreatedAfter)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		userColumns, whereClause, mapSortKey(filters.SortKey), sortOrder(filters.SortOrder),
		filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("user: query list: %w", err)
	}
	defer rows.Close()

	list := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("user: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("user: count list: %w", err)
	}
	return list, total, nil
}

// UpdateProfile overwrites the fields set on update. Role tags and status
// are not touched here.
func (r *PGRepository) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	const updateSQL = `
		UPDATE users
		SET first_name = COALESCE($2, first_name),
		    last_name = COALESCE($3, last_name),
		    phone = COALESCE($4, phone),
		    profile_photos = COALESCE($5::text[], profile_photos),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, updateSQL,
		userID, update.FirstName, update.LastName, update.Phone, update.ProfilePhotos))
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("user: update profile: %w", err)
	}
	return u, nil
}

// GrantRole adds granted to the role set if absent and drops cleared tags.
func (r *PGRepository) GrantRole(ctx context.Context, userID string, granted role.Role, cleared ...role.Role) (User, error) {
	const updateSQL = `
		UPDATE users
		SET roles = roles_grant(roles, $2, $3::text[]), updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, updateSQL, userID, string(granted), role.Set(cleared).Strings()))
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("user: grant role: %w", err)
	}
	return u, nil
}

func (r *PGRepository) RevokeRoles(ctx context.Context, userID string, revoked ...role.Role) (User, error) {
	const updateSQL = `
		UPDATE users
		SET roles = roles_revoke(roles, $2::text[]), updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, updateSQL, userID, role.Set(revoked).Strings()))
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("user: revoke roles: %w", err)
	}
	return u, nil
}

// AddPendingRole appends the pending tag unless the user already holds any
// of blockers.
func (r *PGRepository) AddPendingRole(ctx context.Context, userID string, pending role.Role, blockers []role.Role) (User, error) {
	const updateSQL = `
		UPDATE users
		SET roles = roles_grant(roles, $2, '{}'), updated_at = now()
		WHERE id = $1 AND NOT (roles && $3::text[])
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, updateSQL, userID, string(pending), role.Set(blockers).Strings()))
	if err == nil {
		return u, nil
	}
	if !db.IsNoRows(err) {
		return User{}, fmt.Errorf("user: add pending role: %w", err)
	}
	if _, err := r.GetUserByID(ctx, userID); err != nil {
		return User{}, err
	}
	return User{}, ErrRoleAlreadyHeld
}

func (r *PGRepository) DeleteUser(ctx context.Context, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1 AND NOT ('admin' = ANY(roles))`, userID)
	if db.IsNoRows(err) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("user: delete: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return ErrAdminUndeletable
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u     User
		roles []string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.Phone,
		&u.ProfilePhotos,
		&roles,
		&u.Status,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	u.Roles = role.FromStrings(roles)
	return u, nil
}

func normalizeFilters(f Filters) Filters {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

func sortOrder(order string) string {
	if strings.EqualFold(order, "asc") {
		return "ASC"
	}
	return "DESC"
}

func mapSortKey(key string) string {
	switch key {
	case "email":
		return "email"
	case "firstName":
		return "first_name"
	case "lastName":
		return "last_name"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}
