package user

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"estateflow/role"
	"estateflow/test/infra"
)

func TestPGRepository_RoleMutations_Integration(t *testing.T) {
	h := infra.Open(t)
	repo := NewRepository(h.Pool())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	u, err := repo.CreateUser(ctx, CreateUserParams{
		Email:        fmt.Sprintf("Ivy+%d@Example.com", time.Now().UnixNano()),
		PasswordHash: "hash",
		FirstName:    "Ivy",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(u.Roles) != 1 || u.Roles[0] != role.User {
		t.Fatalf("expected base role only, got %v", u.Roles)
	}
	if _, err := repo.CreateUser(ctx, CreateUserParams{Email: u.Email, PasswordHash: "x", FirstName: "Dup"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}

	pending, err := repo.AddPendingRole(ctx, u.ID, role.PendingAgent, []role.Role{role.Agent, role.PendingAgent})
	if err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if !pending.Roles.Has(role.PendingAgent) {
		t.Fatalf("expected pending tag, got %v", pending.Roles)
	}
	if _, err := repo.AddPendingRole(ctx, u.ID, role.PendingAgent, []role.Role{role.Agent, role.PendingAgent}); !errors.Is(err, ErrRoleAlreadyHeld) {
		t.Fatalf("expected ErrRoleAlreadyHeld, got %v", err)
	}

	// Concurrent grants of the same role must leave exactly one tag.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GrantRole(ctx, u.ID, role.Agent, role.PendingAgent); err != nil {
				t.Errorf("grant: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := repo.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if count(got.Roles, role.Agent) != 1 || got.Roles.Has(role.PendingAgent) {
		t.Fatalf("expected single agent tag and no pending tag, got %v", got.Roles)
	}

	revoked, err := repo.RevokeRoles(ctx, u.ID, role.Agent, role.User)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !revoked.Roles.Has(role.User) || revoked.Roles.Has(role.Agent) {
		t.Fatalf("expected base role kept after revoke, got %v", revoked.Roles)
	}

	if _, err := repo.GrantRole(ctx, u.ID, role.Admin); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	if err := repo.DeleteUser(ctx, u.ID); !errors.Is(err, ErrAdminUndeletable) {
		t.Fatalf("expected ErrAdminUndeletable, got %v", err)
	}
	if err := repo.DeleteUser(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	list, total, err := repo.List(ctx, Filters{Role: role.Admin})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != u.ID {
		t.Fatalf("expected the admin in list, got total=%d items=%v", total, list)
	}
}

func TestPGRepository_ProfileAndFilters_Integration(t *testing.T) {
	h := infra.Open(t)
	repo := NewRepository(h.Pool())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	older, err := repo.CreateUser(ctx, CreateUserParams{Email: "older@example.com", PasswordHash: "x", FirstName: "Old"})
	if err != nil {
		t.Fatalf("create older: %v", err)
	}
	if _, err := h.Pool().Exec(ctx, `UPDATE users SET created_at = now() - interval '10 days' WHERE id = $1`, older.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	newer, err := repo.CreateUser(ctx, CreateUserParams{Email: "newer@example.com", PasswordHash: "x", FirstName: "New"})
	if err != nil {
		t.Fatalf("create newer: %v", err)
	}

	list, total, err := repo.List(ctx, Filters{CreatedAfter: time.Now().Add(-24 * time.Hour)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != newer.ID {
		t.Fatalf("expected only the recent user, got total=%d items=%v", total, list)
	}
	if _, total, _ := repo.List(ctx, Filters{}); total != 2 {
		t.Fatalf("expected 2 users without the filter, got %d", total)
	}

	last, phone := "Timer", "+15550111"
	updated, err := repo.UpdateProfile(ctx, older.ID, ProfileUpdate{LastName: &last, Phone: &phone, ProfilePhotos: []string{"/profile/a.jpg"}})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.FirstName != "Old" || updated.LastName != last || updated.Phone != phone || len(updated.ProfilePhotos) != 1 {
		t.Fatalf("unexpected profile %+v", updated)
	}
	cleared, err := repo.UpdateProfile(ctx, older.ID, ProfileUpdate{ProfilePhotos: []string{}})
	if err != nil {
		t.Fatalf("clear photos: %v", err)
	}
	if len(cleared.ProfilePhotos) != 0 || cleared.Phone != phone {
		t.Fatalf("expected photos cleared and phone kept, got %+v", cleared)
	}

	for _, id := range []string{"not-a-uuid", "00000000-0000-0000-0000-000000000000"} {
		if _, err := repo.GetUserByID(ctx, id); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("get %q: expected ErrUserNotFound, got %v", id, err)
		}
		if _, err := repo.UpdateProfile(ctx, id, ProfileUpdate{Phone: &phone}); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("update %q: expected ErrUserNotFound, got %v", id, err)
		}
		if err := repo.DeleteUser(ctx, id); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("delete %q: expected ErrUserNotFound, got %v", id, err)
		}
	}
}

func count(s role.Set, r role.Role) int {
	n := 0
	for _, v := range s {
		if v == r {
			n++
		}
	}
	return n
}
