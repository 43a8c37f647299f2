package auth

import (
	"database/sql"
	"testing"
	"time"

	"github.com/nerrad567/mortal-core/internal/infrastructure/database"
	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
	"github.com/nerrad567/mortal-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-chars!"

// testDB opens a private in-memory database with the full schema applied.
// The seed migration leaves one SUPER_ADMIN role (id 1) and the default menus.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

func testOptions() Options {
	return Options{
		Secret:                 testSecret,
		AccessTTL:              15 * time.Minute,
		RefreshTTL:             time.Hour,
		RotateRefreshTokens:    true,
		BlacklistAfterRotation: true,
		MinPasswordLength:      6,
	}
}

func testService(t *testing.T, db *sql.DB, opts Options) *Service {
	t.Helper()
	return NewService(NewUserRepository(db), NewRoleRepository(db), NewTokenRepository(db), opts, logging.Discard())
}

// seedTestUser inserts an enabled user with password "test-password".
func seedTestUser(t *testing.T, db *sql.DB, username string, roleIDs ...int64) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewUserRepository(db)
	user := &User{
		Username:     username,
		NickName:     username,
		PasswordHash: hash,
		Enable:       true,
	}
	if err := repo.Create(t.Context(), user, roleIDs); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

func ptr[T any](v T) *T { return &v }
