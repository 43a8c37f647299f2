package api

import (
	"net/http"

	"github.com/nerrad567/mortal-core/internal/audit"
	"github.com/nerrad567/mortal-core/internal/menu"
)

// handleListMenus returns every root with its full subtree.
func (s *Server) handleListMenus(w http.ResponseWriter, r *http.Request) {
	forest, err := s.menus.Forest(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, forest)
}

// handleGetMenu returns one node with its subtree.
func (s *Server) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	tree, err := s.menus.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, tree)
}

// handleCreateMenu creates a node and any nested children.
func (s *Server) handleCreateMenu(w http.ResponseWriter, r *http.Request) {
	var in menu.CreateInput
	if !decodeJSON(w, r, &in, false) {
		return
	}

	tree, err := s.menus.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordChange(r, audit.EntityMenu, audit.ActionCreate, tree.ID, tree)
	writeSuccess(w, http.StatusCreated, tree)
}

// handleUpdateMenu patches a node and, through "children", its direct
// children. PUT and PATCH behave the same.
func (s *Server) handleUpdateMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var patch menu.Patch
	if !decodeJSON(w, r, &patch, false) {
		return
	}

	tree, err := s.menus.Update(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordChange(r, audit.EntityMenu, audit.ActionUpdate, tree.ID, tree)
	writeSuccess(w, http.StatusOK, tree)
}

// handleDeleteMenu removes a node and its subtree.
func (s *Server) handleDeleteMenu(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.menus.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.recordChange(r, audit.EntityMenu, audit.ActionDelete, id, nil)
	writeSuccess(w, http.StatusOK, true)
}

// handleAsyncRoutes returns the navigation tree visible to the caller.
func (s *Server) handleAsyncRoutes(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	var scope menu.Scope
	if principal.HasRole(s.secCfg.SuperRole) {
		scope.All = true
	} else {
		ids, err := s.auth.GrantedMenuIDs(r.Context(), principal.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		scope.Granted = make(map[int64]bool, len(ids))
		for _, id := range ids {
			scope.Granted[id] = true
		}
	}

	routes, err := s.menus.Routes(r.Context(), scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, routes)
}
