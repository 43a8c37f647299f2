package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/mortal-core/internal/audit"
	"github.com/nerrad567/mortal-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	NickName string  `json:"nickName"`
	Avatar   string  `json:"avatar"`
	Gender   string  `json:"gender"`
	Enable   *bool   `json:"enable"`
	RoleIDs  []int64 `json:"roleIds"`
}

type updateUserRequest struct {
	NickName *string  `json:"nickName"`
	Avatar   *string  `json:"avatar"`
	Enable   *bool    `json:"enable"`
	Gender   *string  `json:"gender"`
	Password *string  `json:"password"`
	RoleIDs  *[]int64 `json:"roleIds"`
}

// userPage is the paged listing shape.
type userPage struct {
	List        []auth.User `json:"list"`
	Total       int         `json:"total"`
	PageSize    int         `json:"pageSize"`
	CurrentPage int         `json:"currentPage"`
}

// userDetail is the /user/detail payload.
type userDetail struct {
	ID          int64       `json:"id"`
	Username    string      `json:"username"`
	Enable      bool        `json:"enable"`
	Profile     userProfile `json:"profile"`
	CurrentRole *auth.Role  `json:"currentRole"`
	Roles       []auth.Role `json:"roles"`
}

type userProfile struct {
	ID       int64  `json:"id"`
	NickName string `json:"nickName"`
	Avatar   string `json:"avatar"`
	Gender   string `json:"gender"`
	UserID   int64  `json:"userId"`
}

func newUserDetail(u *auth.User) userDetail {
	d := userDetail{
		ID:       u.ID,
		Username: u.Username,
		Enable:   u.Enable,
		Profile: userProfile{
			ID:       u.ID,
			NickName: u.NickName,
			Avatar:   u.Avatar,
			Gender:   u.Gender,
			UserID:   u.ID,
		},
		Roles: u.Roles,
	}
	if d.Roles == nil {
		d.Roles = []auth.Role{}
	}
	for i := range u.Roles {
		if u.Roles[i].Enable {
			d.CurrentRole = &u.Roles[i]
			break
		}
	}
	return d
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleUserDetail returns the profile of the authenticated caller.
func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.GetUser(r.Context(), principalFrom(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, newUserDetail(user))
}

// handleListUsers returns accounts, newest first.
//
// Query parameters:
//   - enable: true/false
//   - gender: "0" or "1"
//   - username: case-insensitive substring
//   - size, page: optional pagination; without size the full list is returned
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := auth.UserFilter{
		Gender:   strings.TrimSpace(q.Get("gender")),
		Username: strings.TrimSpace(q.Get("username")),
	}

	if v := q.Get("enable"); v != "" {
		enable, err := strconv.ParseBool(v)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, CodeDataValidationFailed, "validation failed",
				map[string]string{"enable": "must be true or false"})
			return
		}
		filter.Enable = &enable
	}

	size, page := pageParams(r)
	if size > 0 {
		filter.Limit = size
		filter.Offset = (page - 1) * size
	}

	result, err := s.auth.ListUsers(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if size == 0 {
		writeSuccess(w, http.StatusOK, result.Users)
		return
	}
	writeSuccess(w, http.StatusOK, userPage{
		List:        result.Users,
		Total:       result.Total,
		PageSize:    size,
		CurrentPage: page,
	})
}

// handleGetUser returns one account.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	user, err := s.auth.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, user)
}

// handleCreateUser creates an account and attaches roleIds.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	user, err := s.auth.CreateUser(r.Context(), auth.CreateUserInput{
		RegisterInput: auth.RegisterInput{
			Username: req.Username,
			Password: req.Password,
			NickName: req.NickName,
			Avatar:   req.Avatar,
			Gender:   req.Gender,
		},
		Enable:  req.Enable,
		RoleIDs: req.RoleIDs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordChange(r, audit.EntityUser, audit.ActionCreate, user.ID, user)
	writeSuccess(w, http.StatusCreated, user)
}

// handleUpdateUser applies a partial update. PUT and PATCH behave the same.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	user, err := s.auth.UpdateUser(r.Context(), id, auth.UserPatch{
		NickName: req.NickName,
		Avatar:   req.Avatar,
		Enable:   req.Enable,
		Gender:   req.Gender,
		Password: req.Password,
		RoleIDs:  req.RoleIDs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Mirrors the session revocation in auth.Service.UpdateUser.
	if req.Password != nil || !user.Enable {
		s.hub.DropUser(user.ID)
	}
	s.recordChange(r, audit.EntityUser, audit.ActionUpdate, user.ID, user)
	writeSuccess(w, http.StatusOK, user)
}

// handleDeleteUser disables the account and revokes its sessions.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.auth.DisableUser(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.hub.DropUser(id)
	s.recordChange(r, audit.EntityUser, audit.ActionDelete, id, nil)
	writeSuccess(w, http.StatusOK, true)
}
