package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxNickNameLength = 64
	maxAvatarLength   = 512
	maxRoleCodeLength = 64
	maxRoleNameLength = 100
)

// RegisterInput is the self-service registration payload.
type RegisterInput struct {
	Username string
	Password string
	NickName string
	Avatar   string
	Gender   string
}

// CreateUserInput is the admin creation payload. Roles are attached after
// the account row is created.
type CreateUserInput struct {
	RegisterInput
	Enable  *bool
	RoleIDs []int64
}

// UserPatch lists the mutable user fields. Nil means unchanged.
type UserPatch struct {
	NickName *string
	Avatar   *string
	Enable   *bool
	Gender   *string
	Password *string
	RoleIDs  *[]int64
}

// ─── Accounts ───────────────────────────────────────────────────────

// Register creates an enabled account with no roles.
// A duplicate username is a validation failure.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	return s.CreateUser(ctx, CreateUserInput{RegisterInput: in})
}

// CreateUser validates, hashes the password, stores the account and then
// attaches RoleIDs. Enable defaults to true.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	in.Username = strings.TrimSpace(in.Username)

	verr := &ValidationError{}
	if !IsValidUsername(in.Username) {
		verr.add("username", "must be 1-64 characters of letters, digits, '.', '-' or '_'")
	}
	s.checkPassword(verr, in.Password)
	checkProfile(verr, &in.NickName, &in.Avatar, &in.Gender)
	if err := s.checkRoleIDs(ctx, verr, in.RoleIDs); err != nil {
		return nil, err
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:     in.Username,
		PasswordHash: hash,
		NickName:     in.NickName,
		Avatar:       in.Avatar,
		Gender:       in.Gender,
		Enable:       in.Enable == nil || *in.Enable,
	}
	if user.NickName == "" {
		user.NickName = user.Username
	}

	if err := s.users.Create(ctx, user, in.RoleIDs); err != nil {
		return nil, mapUserWriteError(err)
	}

	return s.users.GetByID(ctx, user.ID)
}

// GetUser returns one account with its roles.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// ListUsers returns a filtered, optionally paged listing.
func (s *Service) ListUsers(ctx context.Context, filter UserFilter) (*UserListResult, error) {
	if filter.Gender != "" && !IsValidGender(filter.Gender) {
		return nil, fieldError("gender", "must be \"0\" or \"1\"")
	}
	return s.users.List(ctx, filter)
}

// UpdateUser applies a patch field by field in one write. Changing the
// password or disabling the account revokes its refresh tokens.
func (s *Service) UpdateUser(ctx context.Context, id int64, patch UserPatch) (*User, error) {
	return s.updateUser(ctx, id, patch, false)
}

// DisableUser is the account "delete": the row stays, the account is
// disabled and every session is revoked, even for an account that was
// already disabled.
func (s *Service) DisableUser(ctx context.Context, id int64) error {
	enable := false
	_, err := s.updateUser(ctx, id, UserPatch{Enable: &enable}, true)
	return err
}

func (s *Service) updateUser(ctx context.Context, id int64, patch UserPatch, revoke bool) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	nick, avatar, gender := user.NickName, user.Avatar, user.Gender
	if patch.NickName != nil {
		nick = *patch.NickName
	}
	if patch.Avatar != nil {
		avatar = *patch.Avatar
	}
	if patch.Gender != nil {
		gender = *patch.Gender
	}
	checkProfile(verr, &nick, &avatar, &gender)
	if patch.Password != nil {
		s.checkPassword(verr, *patch.Password)
	}
	if patch.RoleIDs != nil {
		if err := s.checkRoleIDs(ctx, verr, *patch.RoleIDs); err != nil {
			return nil, err
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	change := UserChange{RoleIDs: patch.RoleIDs, RevokeSessions: revoke}
	if patch.Password != nil {
		if change.PasswordHash, err = HashPassword(*patch.Password); err != nil {
			return nil, err
		}
		change.RevokeSessions = true
	}

	wasEnabled := user.Enable
	user.NickName, user.Avatar, user.Gender = nick, avatar, gender
	if patch.Enable != nil {
		user.Enable = *patch.Enable
	}
	if wasEnabled && !user.Enable {
		change.RevokeSessions = true
	}

	if err := s.users.Update(ctx, user, change); err != nil {
		return nil, mapUserWriteError(err)
	}
	return s.users.GetByID(ctx, id)
}

// mapUserWriteError turns store conflicts that slipped past validation
// into field errors.
func mapUserWriteError(err error) error {
	switch {
	case errors.Is(err, ErrUsernameExists):
		return fieldError("username", "already exists")
	case errors.Is(err, ErrRoleNotFound):
		return fieldError("roleIds", err.Error())
	}
	return err
}

// ─── Roles ──────────────────────────────────────────────────────────

// RolePatch lists the mutable role fields. Nil means unchanged.
type RolePatch struct {
	Code   *string
	Name   *string
	Enable *bool
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.roles.List(ctx)
}

// GetRole returns one role.
func (s *Service) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.roles.GetByID(ctx, id)
}

// CreateRole validates and stores a role. Enable defaults to true.
func (s *Service) CreateRole(ctx context.Context, code, name string, enable *bool) (*Role, error) {
	role := &Role{
		Code:   strings.TrimSpace(code),
		Name:   strings.TrimSpace(name),
		Enable: enable == nil || *enable,
	}
	if err := checkRole(role); err != nil {
		return nil, err
	}

	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, ErrRoleCodeExists) {
			return nil, fieldError("code", "already exists")
		}
		return nil, err
	}
	return role, nil
}

// UpdateRole applies a patch to a role.
func (s *Service) UpdateRole(ctx context.Context, id int64, patch RolePatch) (*Role, error) {
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Code != nil {
		role.Code = strings.TrimSpace(*patch.Code)
	}
	if patch.Name != nil {
		role.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Enable != nil {
		role.Enable = *patch.Enable
	}
	if err := checkRole(role); err != nil {
		return nil, err
	}

	if err := s.roles.Update(ctx, role); err != nil {
		if errors.Is(err, ErrRoleCodeExists) {
			return nil, fieldError("code", "already exists")
		}
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a role and its assignments.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.roles.Delete(ctx, id)
}

// RoleMenus returns the menu IDs granted to a role.
func (s *Service) RoleMenus(ctx context.Context, id int64) ([]int64, error) {
	return s.roles.MenuIDs(ctx, id)
}

// SetRoleMenus replaces the menu grants of a role.
func (s *Service) SetRoleMenus(ctx context.Context, id int64, menuIDs []int64) error {
	err := s.roles.SetMenus(ctx, id, menuIDs)
	if errors.Is(err, ErrMenuNotFound) {
		return fieldError("menuIds", err.Error())
	}
	return err
}

// GrantedMenuIDs returns the menu IDs visible to a user through their enabled roles.
func (s *Service) GrantedMenuIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.roles.GrantedMenuIDs(ctx, userID)
}

// ─── Validation ─────────────────────────────────────────────────────

func (s *Service) checkPassword(verr *ValidationError, password string) {
	if utf8.RuneCountInString(password) < s.opts.MinPasswordLength {
		verr.add("password", fmt.Sprintf("must be at least %d characters", s.opts.MinPasswordLength))
	}
}

// checkRoleIDs records a field error for the first role ID that does not exist.
func (s *Service) checkRoleIDs(ctx context.Context, verr *ValidationError, ids []int64) error {
	for _, id := range ids {
		if _, err := s.roles.GetByID(ctx, id); err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				verr.add("roleIds", fmt.Sprintf("role %d does not exist", id))
				return nil
			}
			return err
		}
	}
	return nil
}

// checkProfile validates and normalises the profile fields in place.
func checkProfile(verr *ValidationError, nickName, avatar, gender *string) {
	*nickName = strings.TrimSpace(*nickName)
	*avatar = strings.TrimSpace(*avatar)

	if utf8.RuneCountInString(*nickName) > maxNickNameLength {
		verr.add("nickName", fmt.Sprintf("must be at most %d characters", maxNickNameLength))
	}
	if *avatar != "" {
		u, err := url.Parse(*avatar)
		if err != nil || len(*avatar) > maxAvatarLength || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			verr.add("avatar", "must be an http(s) URL")
		}
	}
	if *gender == "" {
		*gender = GenderDefault
	}
	if !IsValidGender(*gender) {
		verr.add("gender", `must be "0" or "1"`)
	}
}

func checkRole(role *Role) error {
	verr := &ValidationError{}
	if role.Code == "" || len(role.Code) > maxRoleCodeLength {
		verr.add("code", fmt.Sprintf("is required and at most %d characters", maxRoleCodeLength))
	}
	if role.Name == "" || utf8.RuneCountInString(role.Name) > maxRoleNameLength {
		verr.add("name", fmt.Sprintf("is required and at most %d characters", maxRoleNameLength))
	}
	return verr.orNil()
}
