package auth

import (
	"database/sql"
	"strings"
	"time"
)

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nowUTC returns the current time truncated to the second, matching the
// RFC3339 text stored in the database.
func nowUTC() (time.Time, string) {
	now := time.Now().UTC().Truncate(time.Second)
	return now, now.Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if a SQLite error is a FOREIGN KEY constraint violation.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
