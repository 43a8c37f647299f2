package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RoleRepository defines the interface for role persistence and menu grants.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id int64) (*Role, error)
	GetByCode(ctx context.Context, code string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id int64) error
	MenuIDs(ctx context.Context, roleID int64) ([]int64, error)
	SetMenus(ctx context.Context, roleID int64, menuIDs []int64) error
	GrantedMenuIDs(ctx context.Context, userID int64) ([]int64, error)
}

// ErrMenuNotFound is returned when a grant names a menu node that does not exist.
var ErrMenuNotFound = errors.New("menu not found")

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

const roleColumns = "id, code, name, enable, created_at, updated_at"

// Create inserts a role and sets its ID and timestamps.
func (r *SQLiteRoleRepository) Create(ctx context.Context, role *Role) error {
	now, ts := nowUTC()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (code, name, enable, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		role.Code, role.Name, boolToInt(role.Enable), ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleCodeExists
		}
		return fmt.Errorf("creating role: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading role id: %w", err)
	}
	role.ID = id
	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetByID retrieves a role by ID.
func (r *SQLiteRoleRepository) GetByID(ctx context.Context, id int64) (*Role, error) {
	return scanRole(r.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE id = ?", id))
}

// GetByCode retrieves a role by its unique code.
func (r *SQLiteRoleRepository) GetByCode(ctx context.Context, code string) (*Role, error) {
	return scanRole(r.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE code = ?", code))
}

// List returns all roles ordered by ID.
func (r *SQLiteRoleRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+roleColumns+" FROM roles ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

// Update modifies code, name and enable.
func (r *SQLiteRoleRepository) Update(ctx context.Context, role *Role) error {
	now, ts := nowUTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE roles SET code = ?, name = ?, enable = ?, updated_at = ? WHERE id = ?`,
		role.Code, role.Name, boolToInt(role.Enable), ts, role.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleCodeExists
		}
		return fmt.Errorf("updating role: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrRoleNotFound
	}
	role.UpdatedAt = now
	return nil
}

// Delete removes a role; user and menu assignments cascade.
func (r *SQLiteRoleRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrRoleNotFound
	}
	return nil
}

// MenuIDs returns the menu node IDs granted to a role.
func (r *SQLiteRoleRepository) MenuIDs(ctx context.Context, roleID int64) ([]int64, error) {
	if _, err := r.GetByID(ctx, roleID); err != nil {
		return nil, err
	}
	return r.queryIDs(ctx, "SELECT menu_id FROM role_menus WHERE role_id = ? ORDER BY menu_id", roleID)
}

// SetMenus replaces a role's menu grants in one transaction.
func (r *SQLiteRoleRepository) SetMenus(ctx context.Context, roleID int64, menuIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning menu grant: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles WHERE id = ?", roleID).Scan(&exists); err != nil {
		return fmt.Errorf("checking role: %w", err)
	}
	if exists == 0 {
		return ErrRoleNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM role_menus WHERE role_id = ?", roleID); err != nil {
		return fmt.Errorf("clearing menu grants: %w", err)
	}

	for _, menuID := range menuIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO role_menus (role_id, menu_id) VALUES (?, ?)", roleID, menuID); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %d", ErrMenuNotFound, menuID)
			}
			return fmt.Errorf("granting menu %d: %w", menuID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing menu grant: %w", err)
	}
	return nil
}

// GrantedMenuIDs returns the union of menu IDs granted to the user's enabled roles.
func (r *SQLiteRoleRepository) GrantedMenuIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.queryIDs(ctx,
		`SELECT DISTINCT rm.menu_id
		 FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id AND r.enable = 1
		 JOIN role_menus rm ON rm.role_id = r.id
		 WHERE ur.user_id = ?
		 ORDER BY rm.menu_id`, userID)
}

func (r *SQLiteRoleRepository) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying menu grants: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning menu grant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating menu grants: %w", err)
	}
	return ids, nil
}

func scanRole(s scanner) (*Role, error) {
	var role Role
	var enable int
	var createdAt, updatedAt string

	if err := s.Scan(&role.ID, &role.Code, &role.Name, &enable, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("scanning role: %w", err)
	}

	role.Enable = enable != 0
	role.CreatedAt = parseTime(createdAt)
	role.UpdatedAt = parseTime(updatedAt)
	return &role, nil
}
