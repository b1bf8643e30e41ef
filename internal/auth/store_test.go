package auth

import (
	"context"
	"path/filepath"
	"testing"
)

func testStores(t *testing.T) map[string]SessionStore {
	t.Helper()
	sqlite, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]SessionStore{
		"memory": &MemoryStore{},
		"sqlite": sqlite,
	}
}

func TestSessionStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Load(ctx)
			if err != nil || got != nil {
				t.Fatalf("Load() on empty store = %+v, %v", got, err)
			}

			want := &Session{
				AccessToken:  "access",
				RefreshToken: "refresh",
				TokenType:    "bearer",
				ExpiresAt:    1900000000,
				User:         &User{ID: "u1", Email: "a@example.com"},
			}
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			want.RefreshToken = "second"
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}

			got, err = store.Load(ctx)
			if err != nil || got == nil {
				t.Fatalf("Load() = %+v, %v", got, err)
			}
			if got.AccessToken != "access" || got.RefreshToken != "second" || got.ExpiresAt != 1900000000 {
				t.Errorf("Load() = %+v", got)
			}
			if got.User == nil || got.User.Email != "a@example.com" {
				t.Errorf("Load().User = %+v", got.User)
			}

			if err := store.Delete(ctx); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if got, err := store.Load(ctx); err != nil || got != nil {
				t.Errorf("Load() after Delete = %+v, %v", got, err)
			}
		})
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	s1, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	if err := s1.Save(ctx, &Session{AccessToken: "kept", User: &User{ID: "u1"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s1.Close()

	s2, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()
	got, err := s2.Load(ctx)
	if err != nil || got == nil || got.AccessToken != "kept" {
		t.Errorf("Load() after reopen = %+v, %v", got, err)
	}
}
