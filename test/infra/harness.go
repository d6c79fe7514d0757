package infra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns a migrated, isolated schema for one test.
type Harness struct {
	pool     *pgxpool.Pool
	teardown func(context.Context) error
}

// Open connects to DATABASE_URL and migrates an isolated schema that is
// dropped when the test ends. The test is skipped when DATABASE_URL is empty.
func Open(t testing.TB) *Harness {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, teardown, err := ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	h := &Harness{pool: pool, teardown: teardown}
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
		h.pool = nil
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
		h.teardown = nil
	}
}

// Reset truncates mutable tables between epochs.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{"notifications", "properties", "agents", "users"}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

// SeedUser inserts a directory entry holding roles and returns its id.
func (h *Harness) SeedUser(t testing.TB, email string, roles ...string) string {
	t.Helper()
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	var id string
	err := h.pool.QueryRow(context.Background(),
		`INSERT INTO users (email, password_hash, first_name, last_name, phone, roles)
		 VALUES ($1, 'x', 'Seed', 'User', '+10000000000', $2) RETURNING id`,
		email, roles).Scan(&id)
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return id
}
