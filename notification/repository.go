package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"estateflow/apperr"
	"estateflow/db"
	"estateflow/role"
)

var ErrNotificationNotFound = apperr.New(apperr.KindNotFound, "notification: not found")

type Repository interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	GetByID(ctx context.Context, id string) (Notification, error)
	List(ctx context.Context, q Query) ([]Notification, int, error)
	Feed(ctx context.Context, userID string, roles role.Set, page, pageSize int) ([]Notification, int, error)
	UpdateAllowedRoles(ctx context.Context, id string, roles role.Set) (Notification, error)
	Delete(ctx context.Context, id string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, user_id, message, channel, allowed_roles, purpose, related_id, related_model,
	first_name, last_name, roles, profile_photos, created_at`

func (r *PGRepository) Create(ctx context.Context, n Notification) (Notification, error) {
	const query = `
		INSERT INTO notifications (id, user_id, message, channel, allowed_roles, purpose, related_id, related_model,
			first_name, last_name, roles, profile_photos)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + columns

	row := r.pool.QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.Message,
		string(n.Channel),
		n.AllowedRoles.Strings(),
		string(n.Purpose),
		n.RelatedID,
		n.RelatedModel,
		n.Recipient.FirstName,
		n.Recipient.LastName,
		n.Recipient.Roles.Strings(),
		nonNil(n.Recipient.ProfilePhotos),
	)
	created, err := scanNotification(row)
	if err != nil {
		return Notification{}, fmt.Errorf("notification: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Notification{}, ErrNotificationNotFound
		}
		return Notification{}, fmt.Errorf("notification: get: %w", err)
	}
	return n, nil
}

// List returns notifications addressed to q.UserID, optionally narrowed to
// those whose audience intersects q.CallerRoles and to one related model.
func (r *PGRepository) List(ctx context.Context, q Query) ([]Notification, int, error) {
	page, pageSize := normalizePage(q.Page, q.PageSize)

	where := []string{"1=1"}
	args := []any{}
	if q.UserID != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, q.UserID)
	}
	if len(q.CallerRoles) > 0 {
		where = append(where, fmt.Sprintf("allowed_roles && $%d::text[]", len(args)+1))
		args = append(args, q.CallerRoles.Strings())
	}
	if q.RelatedModel != "" {
		where = append(where, fmt.Sprintf("related_model = $%d", len(args)+1))
		args = append(args, q.RelatedModel)
	}
	return r.page(ctx, " WHERE "+strings.Join(where, " AND "), args, page, pageSize)
}

// Feed returns what a user sees: notifications addressed to them plus those
// whose audience includes one of their roles.
func (r *PGRepository) Feed(ctx context.Context, userID string, roles role.Set, page, pageSize int) ([]Notification, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	where := " WHERE (user_id = $1 OR allowed_roles && $2::text[])"
	return r.page(ctx, where, []any{userID, roles.Strings()}, page, pageSize)
}

func (r *PGRepository) page(ctx context.Context, whereClause string, args []any, page, pageSize int) ([]Notification, int, error) {
	query := fmt.Sprintf(`SELECT %s FROM notifications%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		columns, whereClause, pageSize, (page-1)*pageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("notification: query list: %w", err)
	}
	defer rows.Close()

	list := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("notification: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("notification: count list: %w", err)
	}
	return list, total, nil
}

func (r *PGRepository) UpdateAllowedRoles(ctx context.Context, id string, roles role.Set) (Notification, error) {
	const query = `UPDATE notifications SET allowed_roles = $2 WHERE id = $1 RETURNING ` + columns

	n, err := scanNotification(r.pool.QueryRow(ctx, query, id, roles.Strings()))
	if err != nil {
		if db.IsNoRows(err) {
			return Notification{}, ErrNotificationNotFound
		}
		return Notification{}, fmt.Errorf("notification: update allowed roles: %w", err)
	}
	return n, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if db.IsNoRows(err) {
		return ErrNotificationNotFound
	}
	if err != nil {
		return fmt.Errorf("notification: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n            Notification
		allowedRoles []string
		roles        []string
	)
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Message,
		&n.Channel,
		&allowedRoles,
		&n.Purpose,
		&n.RelatedID,
		&n.RelatedModel,
		&n.Recipient.FirstName,
		&n.Recipient.LastName,
		&roles,
		&n.Recipient.ProfilePhotos,
		&n.CreatedAt,
	)
	if err != nil {
		return Notification{}, err
	}
	n.AllowedRoles = role.FromStrings(allowedRoles)
	n.Recipient.Roles = role.FromStrings(roles)
	return n, nil
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

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
