package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the console.
const (
	ActionLogin    = "login"
	ActionLogout   = "logout"
	ActionRegister = "register"
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
)

// Entity types recorded by the console.
const (
	EntityUser    = "user"
	EntityRole    = "role"
	EntityMenu    = "menu"
	EntitySession = "session"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Entry is one audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Filter controls which entries List returns. Zero values match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// ListResult is one page of entries plus the unpaged total.
type ListResult struct {
	Entries []Entry `json:"list"`
	Total   int     `json:"total"`
	Limit   int     `json:"pageSize"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for audit persistence.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create appends an entry. ID and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	var details sql.NullString
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.EntityType,
		nullString(entry.EntityID), nullString(entry.UserID),
		entry.Source, details, entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	where, args := filter.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT id, action, entity_type, entity_id, user_id, source, details, created_at
		FROM audit_logs` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                         Entry
			entityID, userID, details sql.NullString
			createdAt                 string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType,
			&entityID, &userID, &e.Source, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.EntityID = entityID.String
		e.UserID = userID.String
		if details.Valid && details.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(details.String), &m) == nil {
				e.Details = m
			}
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// where builds a parameterised WHERE clause; only column names are
// concatenated into the SQL text.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		add("created_at < ?", f.Until.UTC().Format(time.RFC3339))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
