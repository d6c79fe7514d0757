package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// IsNoRows reports whether err means the addressed row is absent: either no
// row came back, or the id was not a well-formed uuid (invalid_text_representation).
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || IsMalformedID(err)
}

// IsMalformedID reports whether Postgres rejected a key literal as
// invalid_text_representation. The statement fails, so inside a
// transaction nothing more can run after it.
func IsMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
