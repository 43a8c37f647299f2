package menu

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for menu persistence operations.
type Repository interface {
	CreateTree(ctx context.Context, tree *Tree) error
	ListAll(ctx context.Context) ([]Node, error)
	UpdateWithChildren(ctx context.Context, node *Node, children []Node) error
	Delete(ctx context.Context, id int64) error
	ExistsCode(ctx context.Context, code string, excludeID int64) (bool, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed menu repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// scanner is satisfied by *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const menuColumns = `id, name, code, type, parent_id, path, icon, component,
	sort_order, show, enable, layout, keep_alive, created_at, updated_at`

// CreateTree inserts a node and all of its nested children in one
// transaction. Every child's ParentID is set to its parent's new ID.
func (r *SQLiteRepository) CreateTree(ctx context.Context, tree *Tree) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := insertTree(ctx, tx, tree, 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing menu tree: %w", err)
	}
	return nil
}

func insertTree(ctx context.Context, ex execer, tree *Tree, depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("menu tree deeper than %d levels", MaxDepth)
	}
	if err := insertNode(ctx, ex, &tree.Node); err != nil {
		return err
	}
	for _, child := range tree.Children {
		id := tree.ID
		child.ParentID = &id
		if err := insertTree(ctx, ex, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func insertNode(ctx context.Context, ex execer, node *Node) error {
	now, ts := nowUTC()
	const query = `INSERT INTO menus (name, code, type, parent_id, path, icon, component,
		sort_order, show, enable, layout, keep_alive, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := ex.ExecContext(ctx, query,
		node.Name, node.Code, string(node.Type), nullID(node.ParentID),
		nullString(node.Path), nullString(node.Icon), nullString(node.Component),
		node.Order, boolToInt(node.Show), boolToInt(node.Enable),
		nullString(node.Layout), boolToInt(node.KeepAlive), ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrCodeExists, node.Code)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: parent of %s", ErrNotFound, node.Code)
		}
		return fmt.Errorf("inserting menu %s: %w", node.Code, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading menu id: %w", err)
	}
	node.ID = id
	node.CreatedAt = now
	node.UpdatedAt = now
	return nil
}

// ListAll returns every node ordered by parent, order, then ID.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]Node, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+menuColumns+" FROM menus ORDER BY parent_id, sort_order, id")
	if err != nil {
		return nil, fmt.Errorf("listing menus: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning menu: %w", err)
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating menus: %w", err)
	}
	return nodes, nil
}

// UpdateWithChildren overwrites every mutable column of a node and of a
// set of other nodes in one transaction. node may be nil when only the
// children change. Either every row is written or none is. A row that no
// longer exists fails the whole write with ErrNotFound.
func (r *SQLiteRepository) UpdateWithChildren(ctx context.Context, node *Node, children []Node) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if node != nil {
		if err := updateNode(ctx, tx, node); err != nil {
			return err
		}
	}
	for i := range children {
		if err := updateNode(ctx, tx, &children[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing menu update: %w", err)
	}
	return nil
}

func updateNode(ctx context.Context, ex execer, node *Node) error {
	now, ts := nowUTC()
	const query = `UPDATE menus SET name = ?, code = ?, type = ?, parent_id = ?, path = ?,
		icon = ?, component = ?, sort_order = ?, show = ?, enable = ?, layout = ?,
		keep_alive = ?, updated_at = ?
		WHERE id = ?`
	res, err := ex.ExecContext(ctx, query,
		node.Name, node.Code, string(node.Type), nullID(node.ParentID),
		nullString(node.Path), nullString(node.Icon), nullString(node.Component),
		node.Order, boolToInt(node.Show), boolToInt(node.Enable),
		nullString(node.Layout), boolToInt(node.KeepAlive), ts, node.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrCodeExists, node.Code)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: parent of %d", ErrNotFound, node.ID)
		}
		return fmt.Errorf("updating menu %d: %w", node.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	node.UpdatedAt = now
	return nil
}

// Delete removes a node. Descendants are removed by the ON DELETE CASCADE
// foreign key.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM menus WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting menu %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExistsCode reports whether a node other than excludeID uses code.
// Pass 0 to check against every node.
func (r *SQLiteRepository) ExistsCode(ctx context.Context, code string, excludeID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM menus WHERE code = ? AND id != ?", code, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking menu code: %w", err)
	}
	return n > 0, nil
}

func scanNode(s scanner) (*Node, error) {
	var (
		node                          Node
		typ                           string
		parentID                      sql.NullInt64
		path, icon, component, layout sql.NullString
		show, enable, keepAlive       int
		createdAt, updatedAt          string
	)
	err := s.Scan(&node.ID, &node.Name, &node.Code, &typ, &parentID,
		&path, &icon, &component, &node.Order, &show, &enable, &layout,
		&keepAlive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	node.Type = Type(typ)
	if parentID.Valid {
		pid := parentID.Int64
		node.ParentID = &pid
	}
	node.Path = path.String
	node.Icon = icon.String
	node.Component = component.String
	node.Layout = layout.String
	node.Show = show != 0
	node.Enable = enable != 0
	node.KeepAlive = keepAlive != 0
	node.CreatedAt = parseTime(createdAt)
	node.UpdatedAt = parseTime(updatedAt)
	return &node, nil
}

// ─── SQL helpers ────────────────────────────────────────────────────

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowUTC() (time.Time, string) {
	now := time.Now().UTC().Truncate(time.Second)
	return now, now.Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
