package api

import (
	"net/http"

	"github.com/nerrad567/mortal-core/internal/audit"
	"github.com/nerrad567/mortal-core/internal/auth"
)

type roleRequest struct {
	Code   *string `json:"code"`
	Name   *string `json:"name"`
	Enable *bool   `json:"enable"`
}

type roleMenusRequest struct {
	MenuIDs []int64 `json:"menuIds"`
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.auth.ListRoles(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if roles == nil {
		roles = []auth.Role{}
	}
	writeSuccess(w, http.StatusOK, roles)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	role, err := s.auth.GetRole(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, role)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	var code, name string
	if req.Code != nil {
		code = *req.Code
	}
	if req.Name != nil {
		name = *req.Name
	}

	role, err := s.auth.CreateRole(r.Context(), code, name, req.Enable)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordChange(r, audit.EntityRole, audit.ActionCreate, role.ID, role)
	writeSuccess(w, http.StatusCreated, role)
}

// handleUpdateRole applies a partial update. PUT and PATCH behave the same.
func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	role, err := s.auth.UpdateRole(r.Context(), id, auth.RolePatch{
		Code:   req.Code,
		Name:   req.Name,
		Enable: req.Enable,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordChange(r, audit.EntityRole, audit.ActionUpdate, role.ID, role)
	writeSuccess(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.auth.DeleteRole(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordChange(r, audit.EntityRole, audit.ActionDelete, id, nil)
	writeSuccess(w, http.StatusOK, true)
}

// handleGetRoleMenus returns the menu node IDs granted to a role.
func (s *Server) handleGetRoleMenus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ids, err := s.auth.RoleMenus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, ids)
}

// handleSetRoleMenus replaces the grants of a role with menuIds.
func (s *Server) handleSetRoleMenus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req roleMenusRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	if err := s.auth.SetRoleMenus(r.Context(), id, req.MenuIDs); err != nil {
		s.writeError(w, r, err)
		return
	}

	// Grants change the /async-routes payload.
	s.recordChange(r, audit.EntityRole, audit.ActionUpdate, id, map[string]any{"menuIds": req.MenuIDs})
	s.hub.Publish(ChannelMenuChanged, changeEvent{Action: audit.ActionUpdate, ID: id})

	ids, err := s.auth.RoleMenus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, ids)
}
