package property

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
	"estateflow/user"
)

var ErrPropertyNotFound = apperr.New(apperr.KindNotFound, "property: not found")

// Repository persists listings. Array mutations (images, deals) are single
// conditional statements so caps hold under concurrent writers.
type Repository interface {
	Create(ctx context.Context, p Property) (Property, error)
	GetByID(ctx context.Context, id string) (Property, error)
	Search(ctx context.Context, f Filters) ([]Property, int, error)
	Patch(ctx context.Context, id string, cols []assignment) (Property, error)
	Delete(ctx context.Context, id string) error
	CompareAndSetStatus(ctx context.Context, id string, expected, next Status) (Property, error)
	AppendImages(ctx context.Context, id string, uris []string) (Property, error)
	RemoveImage(ctx context.Context, id, uri string) (Property, error)
	AppendDeal(ctx context.Context, id string, d Deal) (Property, error)
	UpdateDeals(ctx context.Context, id string, fn func(p *Property) error) (Property, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const propertyColumns = `id, owner_id, title, description, price::float8, currency, area::float8,
	bedrooms, bathrooms, parking_spaces, floor_number, is_furnished, type, property_type, rent_period,
	address, city, state, country, amenities, contact_name, contact_email, contact_number,
	status, images, deals, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, p Property) (Property, error) {
	const insertSQL = `
		INSERT INTO properties (id, owner_id, title, description, price, currency, area,
			bedrooms, bathrooms, parking_spaces, floor_number, is_furnished, type, property_type, rent_period,
			address, city, state, country, amenities, contact_name, contact_email, contact_number,
			status, images, deals)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23,
			$24, '{}', '[]'::jsonb)
		RETURNING ` + propertyColumns

	d := p.Details
	created, err := scanProperty(r.pool.QueryRow(ctx, insertSQL,
		p.ID, p.OwnerID, d.Title, d.Description, d.Price, d.Currency, d.Area,
		d.Bedrooms, d.Bathrooms, d.ParkingSpaces, d.FloorNumber, d.IsFurnished, string(d.Type), d.PropertyType, d.RentPeriod,
		d.Address, d.City, d.State, d.Country, nonNil(d.Amenities), d.ContactName, d.ContactEmail, d.ContactNumber,
		string(p.Status),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Property{}, user.ErrUserNotFound
		}
		return Property{}, fmt.Errorf("property: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Property, error) {
	p, err := scanProperty(r.pool.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Property{}, ErrPropertyNotFound
		}
		return Property{}, fmt.Errorf("property: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Search(ctx context.Context, f Filters) ([]Property, int, error) {
	f = normalizeFilters(f)

	where := []string{"1=1"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.PropertyType != "" {
		add("property_type = $%d", f.PropertyType)
	}
	if f.City != "" {
		add("city ILIKE $%d", f.City)
	}
	if f.MinPrice > 0 {
		add("price >= $%d", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		add("price <= $%d", f.MaxPrice)
	}
	if f.MinArea > 0 {
		add("area >= $%d", f.MinArea)
	}
	if f.MaxArea > 0 {
		add("area <= $%d", f.MaxArea)
	}
	if f.MinBedrooms > 0 {
		add("bedrooms >= $%d", f.MinBedrooms)
	}
	if f.MinBathrooms > 0 {
		add("bathrooms >= $%d", f.MinBathrooms)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM properties%s ORDER BY %s %s, id DESC LIMIT %d OFFSET %d`,
		propertyColumns, whereClause, mapSortKey(f.SortKey), sortOrder(f.SortOrder),
		f.PageSize, (f.Page-1)*f.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("property: query search: %w", err)
	}
	defer rows.Close()

	list := []Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("property: scan: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("property: iterate search: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM properties"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("property: count search: %w", err)
	}
	return list, total, nil
}

// Patch writes the given column assignments. Column names come from the
// patch whitelist, never from callers.
func (r *PGRepository) Patch(ctx context.Context, id string, cols []assignment) (Property, error) {
	if len(cols) == 0 {
		return r.GetByID(ctx, id)
	}
	sets := make([]string, 0, len(cols)+1)
	args := []any{id}
	for _, c := range cols {
		args = append(args, c.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", c.column, len(args)))
	}
	sets = append(sets, "updated_at = now()")

	query := `UPDATE properties SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + propertyColumns
	p, err := scanProperty(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return Property{}, ErrPropertyNotFound
		}
		return Property{}, fmt.Errorf("property: patch: %w", err)
	}
	return p, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM properties WHERE id = $1`, id)
	if db.IsNoRows(err) {
		return ErrPropertyNotFound
	}
	if err != nil {
		return fmt.Errorf("property: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPropertyNotFound
	}
	return nil
}

func scanProperty(row pgx.Row) (Property, error) {
	var (
		p      Property
		d      = &p.Details
		images []string
	)
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&d.Title,
		&d.Description,
		&d.Price,
		&d.Currency,
		&d.Area,
		&d.Bedrooms,
		&d.Bathrooms,
		&d.ParkingSpaces,
		&d.FloorNumber,
		&d.IsFurnished,
		&d.Type,
		&d.PropertyType,
		&d.RentPeriod,
		&d.Address,
		&d.City,
		&d.State,
		&d.Country,
		&d.Amenities,
		&d.ContactName,
		&d.ContactEmail,
		&d.ContactNumber,
		&p.Status,
		&images,
		&p.Deals,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Property{}, err
	}
	p.Images = nonNil(images)
	if p.Deals == nil {
		p.Deals = []Deal{}
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
