package menu

import (
	"database/sql"
	"testing"

	"github.com/nerrad567/mortal-core/internal/infrastructure/database"
	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
	"github.com/nerrad567/mortal-core/migrations"
)

// testDB opens a private in-memory database with the full schema and the
// seeded console menus removed.
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
	if _, err := db.ExecContext(t.Context(), "DELETE FROM menus"); err != nil {
		t.Fatalf("clearing seeded menus: %v", err)
	}
	return db.DB
}

func testService(t *testing.T) (*Service, *SQLiteRepository) {
	t.Helper()
	repo := NewSQLiteRepository(testDB(t))
	return NewService(repo, logging.Discard()), repo
}

func ptr[T any](v T) *T { return &v }

// node builds an enabled, visible node for pure tree tests.
func node(id int64, parent int64, typ Type, code string, order int) Node {
	n := Node{ID: id, Name: code, Code: code, Type: typ, Order: order, Show: true, Enable: true}
	if parent != 0 {
		n.ParentID = &parent
	}
	return n
}
