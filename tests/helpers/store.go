package helpers

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewFileSQLiteStore opens a store on a database file under t.TempDir().
// Unlike the in-memory store it uses a pool of connections, so concurrent
// callers really contend for the write lock.
func NewFileSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "chathub.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// CreateUser inserts an attendant with a unique username.
func CreateUser(t *testing.T, s repository.Store, name string) *domain.User {
	t.Helper()

	u := &domain.User{Name: name, Username: fmt.Sprintf("user-%s", uuid.NewString())}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

// CreateClient inserts a client without contact fields.
func CreateClient(t *testing.T, s repository.Store, name string) *domain.Client {
	t.Helper()

	c := &domain.Client{Name: name}
	if err := s.CreateClient(context.Background(), c); err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}
