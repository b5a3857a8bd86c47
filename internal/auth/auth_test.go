package auth

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tallerdist/sentinela/internal/er"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := New(db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestAuthenticate(t *testing.T) {
	store := openTestStore(t)
	if err := store.Seed("camera-operator", "s3cr3t", 4); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"correct credentials", "camera-operator", "s3cr3t", nil},
		{"wrong password", "camera-operator", "wrong", er.ErrInvalidPassword},
		{"unknown user", "ghost", "s3cr3t", er.ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Authenticate(tt.username, tt.password)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Authenticate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeedOverwritesExistingUser(t *testing.T) {
	store := openTestStore(t)
	if err := store.Seed("drone-ops", "first", 4); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := store.Seed("drone-ops", "second", 4); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	if err := store.Authenticate("drone-ops", "second"); err != nil {
		t.Errorf("Authenticate() with updated password error = %v", err)
	}
	if err := store.Authenticate("drone-ops", "first"); !errors.Is(err, er.ErrInvalidPassword) {
		t.Errorf("Authenticate() with stale password error = %v, want ErrInvalidPassword", err)
	}
}
