package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UserRepository defines the interface for user account persistence.
// Every write commits as one transaction.
type UserRepository interface {
	Create(ctx context.Context, user *User, roleIDs []int64) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, filter UserFilter) (*UserListResult, error)
	Update(ctx context.Context, user *User, change UserChange) error
	Count(ctx context.Context) (int, error)
}

// UserChange carries the parts of an account write beyond the profile
// columns. Zero values leave the stored state alone.
type UserChange struct {
	PasswordHash   string
	RoleIDs        *[]int64 // replaces every assignment when non-nil
	RevokeSessions bool     // blacklists the user's refresh tokens
}

// UserFilter narrows a user listing. Zero values mean "no constraint";
// Limit 0 returns every match.
type UserFilter struct {
	Enable   *bool
	Gender   string
	Username string // case-insensitive substring
	Limit    int
	Offset   int
}

// UserListResult is one page of users plus the unpaged match count.
type UserListResult struct {
	Users []User
	Total int
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = "id, username, password_hash, nick_name, avatar, enable, gender, date_joined, updated_at"

// Create inserts a new user with its role assignments and sets its ID and
// timestamps. An empty gender is stored as GenderDefault. An unknown role
// ID fails the whole call with ErrRoleNotFound and stores nothing.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User, roleIDs []int64) error {
	if user.Gender == "" {
		user.Gender = GenderDefault
	}
	now, ts := nowUTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning user creation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, nick_name, avatar, enable, gender, date_joined, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Username, user.PasswordHash, nullString(user.NickName), nullString(user.Avatar),
		boolToInt(user.Enable), user.Gender, ts, ts,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	if err := insertUserRoles(ctx, tx, id, roleIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user creation: %w", err)
	}

	user.ID = id
	user.DateJoined = now
	user.UpdatedAt = now
	if user.Roles == nil {
		user.Roles = []Role{}
	}
	return nil
}

// GetByID retrieves a user and their roles.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByUsername retrieves a user and their roles by exact username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// List returns users matching the filter, newest first.
func (r *SQLiteUserRepository) List(ctx context.Context, filter UserFilter) (*UserListResult, error) {
	var where []string
	var args []any

	if filter.Enable != nil {
		where = append(where, "enable = ?")
		args = append(args, boolToInt(*filter.Enable))
	}
	if filter.Gender != "" {
		where = append(where, "gender = ?")
		args = append(args, filter.Gender)
	}
	if filter.Username != "" {
		where = append(where, `LOWER(username) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(filter.Username))+"%")
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users"+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	query := "SELECT " + userColumns + " FROM users" + whereClause + " ORDER BY date_joined DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	if err := r.attachRoles(ctx, users); err != nil {
		return nil, err
	}

	return &UserListResult{Users: users, Total: total}, nil
}

// Update writes nick_name, avatar, enable and gender together with the
// rest of change in one transaction. An unknown role ID rolls back every
// part of the write with ErrRoleNotFound.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User, change UserChange) error {
	now, ts := nowUTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning user update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET nick_name = ?, avatar = ?, enable = ?, gender = ?, updated_at = ? WHERE id = ?`,
		nullString(user.NickName), nullString(user.Avatar), boolToInt(user.Enable), user.Gender, ts, user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrUserNotFound
	}

	if change.PasswordHash != "" {
		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET password_hash = ? WHERE id = ?", change.PasswordHash, user.ID); err != nil {
			return fmt.Errorf("updating password: %w", err)
		}
	}
	if change.RevokeSessions {
		if _, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?", user.ID); err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
	}
	if change.RoleIDs != nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE user_id = ?", user.ID); err != nil {
			return fmt.Errorf("clearing roles: %w", err)
		}
		if err := insertUserRoles(ctx, tx, user.ID, *change.RoleIDs); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user update: %w", err)
	}
	user.UpdatedAt = now
	if change.PasswordHash != "" {
		user.PasswordHash = change.PasswordHash
	}
	return nil
}

// insertUserRoles assigns roleIDs to userID. Duplicate IDs are ignored.
func insertUserRoles(ctx context.Context, ex execer, userID int64, roleIDs []int64) error {
	for _, roleID := range roleIDs {
		if _, err := ex.ExecContext(ctx,
			"INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)", userID, roleID); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %d", ErrRoleNotFound, roleID)
			}
			return fmt.Errorf("assigning role %d: %w", roleID, err)
		}
	}
	return nil
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	users := []User{*u}
	if err := r.attachRoles(ctx, users); err != nil {
		return nil, err
	}
	return &users[0], nil
}

// attachRoles loads role assignments for every user in one query.
func (r *SQLiteUserRepository) attachRoles(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}

	ids := make([]int64, len(users))
	index := make(map[int64]int, len(users))
	for i := range users {
		ids[i] = users[i].ID
		index[users[i].ID] = i
		users[i].Roles = []Role{}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT ur.user_id, r.id, r.code, r.name, r.enable, r.created_at, r.updated_at
		 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id IN (`+placeholders(len(ids))+`)
		 ORDER BY r.id`, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("loading user roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		var role Role
		var enable int
		var createdAt, updatedAt string
		if err := rows.Scan(&userID, &role.ID, &role.Code, &role.Name, &enable, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("scanning user role: %w", err)
		}
		role.Enable = enable != 0
		role.CreatedAt = parseTime(createdAt)
		role.UpdatedAt = parseTime(updatedAt)

		i := index[userID]
		users[i].Roles = append(users[i].Roles, role)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating user roles: %w", err)
	}
	return nil
}

func scanUser(s scanner) (*User, error) {
	var u User
	var nickName, avatar sql.NullString
	var enable int
	var dateJoined, updatedAt string

	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &nickName, &avatar,
		&enable, &u.Gender, &dateJoined, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.NickName = nickName.String
	u.Avatar = avatar.String
	u.Enable = enable != 0
	u.DateJoined = parseTime(dateJoined)
	u.UpdatedAt = parseTime(updatedAt)

	return &u, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
