package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"estateflow/apperr"
	"estateflow/db"
	"estateflow/role"
	"estateflow/user"
)

var (
	ErrAgentNotFound = apperr.New(apperr.KindNotFound, "agent: not found")
	// ErrAlreadyRequested signals that the user already owns an agent record
	// in any status.
	ErrAlreadyRequested = apperr.New(apperr.KindConflict, "agent: user already has an agent record")
	// ErrNotPending signals a decision on a request that was already decided.
	ErrNotPending = apperr.New(apperr.KindConflict, "agent: request is not pending")
)

// Repository persists agent records. Decisions that touch the owning user's
// role set run in one transaction with the status change.
type Repository interface {
	Create(ctx context.Context, a Agent) (Agent, error)
	CreateApproved(ctx context.Context, a Agent) (Agent, error)
	GetByID(ctx context.Context, id string) (Agent, error)
	GetByUserID(ctx context.Context, userID string) (Agent, error)
	Approve(ctx context.Context, id, license string) (Agent, error)
	Reject(ctx context.Context, id string) (Agent, error)
	Credit(ctx context.Context, id string, amount float64) (Agent, error)
	UpdateDetails(ctx context.Context, id string, d Details) (Agent, error)
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status Status, page, pageSize int) ([]Agent, int, error)
	ListApprovedWithUsers(ctx context.Context, page, pageSize int) ([]WithUser, int, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const agentColumns = `id, user_id, status, license, balance::float8, specializations, employees, badges, bio, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, a Agent) (Agent, error) {
	const insertSQL = `
		INSERT INTO agents (id, user_id, status, specializations, employees, badges, bio)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, 'pending', $3, $4, $5, $6)
		RETURNING ` + agentColumns

	created, err := scanAgent(r.pool.QueryRow(ctx, insertSQL, a.ID, a.UserID,
		specStrings(a.Details.Specializations), string(a.Details.Employees), badgeStrings(a.Details.Badges), a.Details.Bio))
	if err != nil {
		return Agent{}, mapInsertErr("create", err)
	}
	return created, nil
}

// CreateApproved inserts an already-approved record and grants the agent
// role to its user.
func (r *PGRepository) CreateApproved(ctx context.Context, a Agent) (Agent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Agent{}, fmt.Errorf("agent: begin create approved: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO agents (id, user_id, status, license, specializations, employees, badges, bio)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, 'approved', $3, $4, $5, $6, $7)
		RETURNING ` + agentColumns

	created, err := scanAgent(tx.QueryRow(ctx, insertSQL, a.ID, a.UserID, a.License,
		specStrings(a.Details.Specializations), string(a.Details.Employees), badgeStrings(a.Details.Badges), a.Details.Bio))
	if err != nil {
		return Agent{}, mapInsertErr("create approved", err)
	}
	if err := grantAgentRole(ctx, tx, created.UserID); err != nil {
		return Agent{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Agent{}, fmt.Errorf("agent: commit create approved: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Agent, error) {
	return r.getOne(ctx, "id", id)
}

func (r *PGRepository) GetByUserID(ctx context.Context, userID string) (Agent, error) {
	return r.getOne(ctx, "user_id", userID)
}

func (r *PGRepository) getOne(ctx context.Context, column, value string) (Agent, error) {
	a, err := scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE `+column+` = $1`, value))
	if err != nil {
		if db.IsNoRows(err) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, fmt.Errorf("agent: get by %s: %w", column, err)
	}
	return a, nil
}

// Approve moves a pending record to approved, stores the license and grants
// the agent role, all or nothing.
func (r *PGRepository) Approve(ctx context.Context, id, license string) (Agent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Agent{}, fmt.Errorf("agent: begin approve: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := decide(ctx, tx, id, StatusApproved, &license)
	if err != nil {
		return Agent{}, err
	}
	if err := grantAgentRole(ctx, tx, a.UserID); err != nil {
		return Agent{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Agent{}, fmt.Errorf("agent: commit approve: %w", err)
	}
	return a, nil
}

// Reject moves a pending record to rejected and clears any pending agent tag
// left on the user.
func (r *PGRepository) Reject(ctx context.Context, id string) (Agent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Agent{}, fmt.Errorf("agent: begin reject: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := decide(ctx, tx, id, StatusRejected, nil)
	if err != nil {
		return Agent{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET roles = roles_revoke(roles, $2::text[]), updated_at = now() WHERE id = $1`,
		a.UserID, []string{string(role.PendingAgent)}); err != nil {
		return Agent{}, fmt.Errorf("agent: clear pending tag: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Agent{}, fmt.Errorf("agent: commit reject: %w", err)
	}
	return a, nil
}

func decide(ctx context.Context, tx pgx.Tx, id string, next Status, license *string) (Agent, error) {
	const updateSQL = `
		UPDATE agents
		SET status = $2, license = COALESCE($3, license), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + agentColumns

	a, err := scanAgent(tx.QueryRow(ctx, updateSQL, id, string(next), license))
	if err == nil {
		return a, nil
	}
	if db.IsMalformedID(err) {
		return Agent{}, ErrAgentNotFound
	}
	if !db.IsNoRows(err) {
		return Agent{}, fmt.Errorf("agent: set status %s: %w", next, err)
	}

	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM agents WHERE id = $1`, id).Scan(&current); err != nil {
		if db.IsNoRows(err) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, fmt.Errorf("agent: check status: %w", err)
	}
	return Agent{}, fmt.Errorf("%w: status is %s", ErrNotPending, current)
}

func grantAgentRole(ctx context.Context, tx pgx.Tx, userID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET roles = roles_grant(roles, $2, $3::text[]), updated_at = now()
		WHERE id = $1`,
		userID, string(role.Agent), []string{string(role.PendingAgent)})
	if err != nil {
		return fmt.Errorf("agent: grant role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrUserNotFound
	}
	return nil
}

// Credit adds amount to the balance in one statement.
func (r *PGRepository) Credit(ctx context.Context, id string, amount float64) (Agent, error) {
	const updateSQL = `
		UPDATE agents SET balance = balance + $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + agentColumns

	a, err := scanAgent(r.pool.QueryRow(ctx, updateSQL, id, amount))
	if err != nil {
		if db.IsNoRows(err) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, fmt.Errorf("agent: credit: %w", err)
	}
	return a, nil
}

func (r *PGRepository) UpdateDetails(ctx context.Context, id string, d Details) (Agent, error) {
	const updateSQL = `
		UPDATE agents
		SET specializations = $2, employees = $3, badges = $4, bio = $5, updated_at = now()
		WHERE id = $1
		RETURNING ` + agentColumns

	a, err := scanAgent(r.pool.QueryRow(ctx, updateSQL, id,
		specStrings(d.Specializations), string(d.Employees), badgeStrings(d.Badges), d.Bio))
	if err != nil {
		if db.IsNoRows(err) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, fmt.Errorf("agent: update details: %w", err)
	}
	return a, nil
}

// Delete removes the record and takes the agent role back from its user.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agent: begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	if err := tx.QueryRow(ctx, `DELETE FROM agents WHERE id = $1 RETURNING user_id`, id).Scan(&userID); err != nil {
		if db.IsNoRows(err) {
			return ErrAgentNotFound
		}
		return fmt.Errorf("agent: delete: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET roles = roles_revoke(roles, $2::text[]), updated_at = now() WHERE id = $1`,
		userID, []string{string(role.Agent), string(role.PendingAgent)}); err != nil {
		return fmt.Errorf("agent: revoke role: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agent: commit delete: %w", err)
	}
	return nil
}

func (r *PGRepository) ListByStatus(ctx context.Context, status Status, page, pageSize int) ([]Agent, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		agentColumns, pageSize, (page-1)*pageSize)

	rows, err := r.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, 0, fmt.Errorf("agent: query list: %w", err)
	}
	defer rows.Close()

	list := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("agent: scan: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("agent: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE status = $1`, string(status)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("agent: count list: %w", err)
	}
	return list, total, nil
}

// ListApprovedWithUsers joins each approved record with its directory entry.
func (r *PGRepository) ListApprovedWithUsers(ctx context.Context, page, pageSize int) ([]WithUser, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	query := fmt.Sprintf(`
		SELECT a.id, a.user_id, a.status, a.license, a.balance::float8, a.specializations, a.employees, a.badges, a.bio,
		       a.created_at, a.updated_at,
		       u.email, u.first_name, u.last_name, u.phone, u.profile_photos, u.roles, u.status, u.created_at, u.updated_at
		FROM agents a
		JOIN users u ON u.id = a.user_id
		WHERE a.status = 'approved'
		ORDER BY a.updated_at DESC, a.id DESC
		LIMIT %d OFFSET %d`, pageSize, (page-1)*pageSize)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("agent: query approved: %w", err)
	}
	defer rows.Close()

	list := []WithUser{}
	for rows.Next() {
		var (
			a       Agent
			u       user.User
			license *string
			specs   []string
			badges  []string
			roles   []string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Status, &license, &a.Balance, &specs, &a.Details.Employees, &badges,
			&a.Details.Bio, &a.CreatedAt, &a.UpdatedAt,
			&u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.ProfilePhotos, &roles, &u.Status, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("agent: scan approved: %w", err)
		}
		fillArrays(&a, license, specs, badges)
		u.ID = a.UserID
		u.Roles = role.FromStrings(roles)
		list = append(list, WithUser{Agent: a, User: u})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("agent: iterate approved: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents WHERE status = 'approved'`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("agent: count approved: %w", err)
	}
	return list, total, nil
}

func scanAgent(row pgx.Row) (Agent, error) {
	var (
		a       Agent
		license *string
		specs   []string
		badges  []string
	)
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Status,
		&license,
		&a.Balance,
		&specs,
		&a.Details.Employees,
		&badges,
		&a.Details.Bio,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Agent{}, err
	}
	fillArrays(&a, license, specs, badges)
	return a, nil
}

func fillArrays(a *Agent, license *string, specs, badges []string) {
	if license != nil {
		a.License = *license
	}
	a.Details.Specializations = make([]Specialization, len(specs))
	for i, s := range specs {
		a.Details.Specializations[i] = Specialization(s)
	}
	a.Details.Badges = make([]Badge, len(badges))
	for i, b := range badges {
		a.Details.Badges[i] = Badge(b)
	}
}

func mapInsertErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyRequested
		case "23503":
			return user.ErrUserNotFound
		}
	}
	return fmt.Errorf("agent: %s: %w", op, err)
}

func specStrings(in []Specialization) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func badgeStrings(in []Badge) []string {
	out := make([]string, len(in))
	for i, b := range in {
		out[i] = string(b)
	}
	return out
}

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
