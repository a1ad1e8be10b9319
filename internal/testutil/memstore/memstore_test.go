package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskhub/taskhub-api/internal/db/models"
	"github.com/taskhub/taskhub-api/internal/db/repositories"
)

func newUser(t *testing.T, users *Users, username, email string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Email: email, PasswordHash: "hash"}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create(%s): %v", username, err)
	}
	return u
}

func TestUsers_CreateAssignsIDs(t *testing.T) {
	users := New().Users()
	a := newUser(t, users, "alice", "alice@example.com")
	b := newUser(t, users, "bobby", "bob@example.com")

	if a.ID != 1 || b.ID != 2 {
		t.Errorf("ids = %d, %d; want 1, 2", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestUsers_UniqueConstraints(t *testing.T) {
	users := New().Users()
	newUser(t, users, "alice", "alice@example.com")

	tests := []struct {
		name       string
		user       models.User
		constraint string
	}{
		{"email", models.User{Username: "other", Email: "alice@example.com"}, repositories.ConstraintUserEmail},
		{"username", models.User{Username: "alice", Email: "other@example.com"}, repositories.ConstraintUserUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.user
			err := users.Create(context.Background(), &u)
			var uv *repositories.UniqueViolationError
			if !errors.As(err, &uv) {
				t.Fatalf("err = %v, want UniqueViolationError", err)
			}
			if uv.Constraint != tt.constraint {
				t.Errorf("constraint = %q, want %q", uv.Constraint, tt.constraint)
			}
		})
	}
}

func TestUsers_ListPagesByID(t *testing.T) {
	users := New().Users()
	for _, name := range []string{"aaa", "bbb", "ccc", "ddd"} {
		newUser(t, users, name, name+"@example.com")
	}

	page, err := users.List(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 || page[0].Username != "bbb" || page[1].Username != "ccc" {
		t.Errorf("unexpected page: %+v", page)
	}

	page, _ = users.List(context.Background(), 10, 10)
	if page == nil || len(page) != 0 {
		t.Errorf("past-the-end page = %v, want empty non-nil slice", page)
	}
}

func TestUsers_UpdateMissing(t *testing.T) {
	users := New().Users()
	err := users.Update(context.Background(), &models.User{ID: 42, Username: "ghost"})
	if !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUsers_DeleteCascadesKeys(t *testing.T) {
	store := New()
	users, keys := store.Users(), store.APIKeys()
	alice := newUser(t, users, "alice", "alice@example.com")
	bob := newUser(t, users, "bobby", "bob@example.com")

	ctx := context.Background()
	aliceKey := &models.APIKey{UserID: alice.ID, KeyHash: "h1", KeyPrefix: "thk_aaaa"}
	bobKey := &models.APIKey{UserID: bob.ID, KeyHash: "h2", KeyPrefix: "thk_bbbb"}
	for _, k := range []*models.APIKey{aliceKey, bobKey} {
		if err := keys.Create(ctx, k); err != nil {
			t.Fatalf("Create key: %v", err)
		}
	}

	if err := users.DeleteWithKeys(ctx, alice.ID); err != nil {
		t.Fatalf("DeleteWithKeys: %v", err)
	}
	if _, ok := keys.Key(aliceKey.ID); ok {
		t.Error("alice's key survived her deletion")
	}
	if _, ok := keys.Key(bobKey.ID); !ok {
		t.Error("bob's key was removed")
	}
	if err := users.DeleteWithKeys(ctx, alice.ID); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestAPIKeys_CreateRequiresOwner(t *testing.T) {
	keys := New().APIKeys()
	err := keys.Create(context.Background(), &models.APIKey{UserID: 9, KeyHash: "h"})
	if !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAPIKeys_DuplicateHash(t *testing.T) {
	store := New()
	alice := newUser(t, store.Users(), "alice", "alice@example.com")
	keys := store.APIKeys()

	ctx := context.Background()
	if err := keys.Create(ctx, &models.APIKey{UserID: alice.ID, KeyHash: "same"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := keys.Create(ctx, &models.APIKey{UserID: alice.ID, KeyHash: "same"})
	var uv *repositories.UniqueViolationError
	if !errors.As(err, &uv) || uv.Constraint != repositories.ConstraintAPIKeyHash {
		t.Errorf("err = %v, want key hash violation", err)
	}
}

func TestAPIKeys_RevokeAndLookup(t *testing.T) {
	store := New()
	alice := newUser(t, store.Users(), "alice", "alice@example.com")
	bob := newUser(t, store.Users(), "bobby", "bob@example.com")
	keys := store.APIKeys()
	ctx := context.Background()

	key := &models.APIKey{UserID: alice.ID, KeyHash: "h1"}
	if err := keys.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := keys.GetActiveByHash(ctx, "h1")
	if err != nil || got == nil || got.ID != key.ID {
		t.Fatalf("GetActiveByHash = %+v, %v", got, err)
	}

	if err := keys.Revoke(ctx, bob.ID, key.ID); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("revoke by non-owner err = %v, want ErrNotFound", err)
	}
	for i := 0; i < 2; i++ {
		if err := keys.Revoke(ctx, alice.ID, key.ID); err != nil {
			t.Errorf("Revoke #%d: %v", i+1, err)
		}
	}

	got, err = keys.GetActiveByHash(ctx, "h1")
	if err != nil || got != nil {
		t.Errorf("revoked key lookup = %+v, %v; want nil, nil", got, err)
	}
}

func TestAPIKeys_ListNewestFirstAndLastUsed(t *testing.T) {
	store := New()
	alice := newUser(t, store.Users(), "alice", "alice@example.com")
	keys := store.APIKeys()
	ctx := context.Background()

	for _, h := range []string{"h1", "h2", "h3"} {
		if err := keys.Create(ctx, &models.APIKey{UserID: alice.ID, KeyHash: h}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := keys.UpdateLastUsed(ctx, 2, at); err != nil {
		t.Fatalf("UpdateLastUsed: %v", err)
	}

	list, err := keys.ListByUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 3 || list[0].ID != 3 || list[2].ID != 1 {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[1].LastUsedAt == nil || !list[1].LastUsedAt.Equal(at) {
		t.Errorf("LastUsedAt = %v, want %v", list[1].LastUsedAt, at)
	}
}
