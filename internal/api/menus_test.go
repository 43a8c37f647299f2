package api

import (
	"fmt"
	"net/http"
	"slices"
	"testing"
)

type menuJSON struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Code     string     `json:"code"`
	Type     string     `json:"type"`
	ParentID *int64     `json:"parentId"`
	Order    int        `json:"order"`
	Children []menuJSON `json:"children"`
}

type routeJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Meta struct {
		Title string   `json:"title"`
		Auths []string `json:"auths"`
	} `json:"meta"`
	Children []routeJSON `json:"children"`
}

func TestMenus_ListReturnsRootTrees(t *testing.T) {
	_, router := testServer(t)
	admin := login(t, router, "admin")

	w, env := do(t, router, http.MethodGet, "/menus", nil, admin.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var forest []menuJSON
	decodeData(t, env, &forest)
	if len(forest) != 1 || forest[0].Code != "system" {
		t.Fatalf("roots = %+v, want [system]", forest)
	}

	var codes []string
	for _, c := range forest[0].Children {
		codes = append(codes, c.Code)
	}
	want := []string{"system-user", "system-role", "system-menu", "system-audit"}
	if !slices.Equal(codes, want) {
		t.Errorf("children = %v, want %v", codes, want)
	}
}

func TestMenus_CreateNestedAndFetch(t *testing.T) {
	_, router := testServer(t)
	admin := login(t, router, "admin")

	w, env := do(t, router, http.MethodPost, "/menus", map[string]any{
		"name": "Reports", "code": "reports", "type": "DIRECTORY", "path": "/reports",
		"children": []map[string]any{{
			"name": "Sales", "code": "reports-sales", "type": "MENU", "order": 2,
			"children": []map[string]any{
				{"name": "Export", "code": "reports-sales-export", "type": "BUTTON"},
			},
		}, {
			"name": "Costs", "code": "reports-costs", "type": "MENU", "order": 1,
		}},
	}, admin.AccessToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", w.Code, w.Body.String())
	}

	var created menuJSON
	decodeData(t, env, &created)
	if created.ID == 0 || len(created.Children) != 2 {
		t.Fatalf("created = %+v, want an id and 2 children", created)
	}

	_, env = do(t, router, http.MethodGet, fmt.Sprintf("/menus/%d", created.ID), nil, admin.AccessToken)
	var fetched menuJSON
	decodeData(t, env, &fetched)
	if len(fetched.Children) != 2 {
		t.Fatalf("stored children = %d, want 2", len(fetched.Children))
	}
	if fetched.Children[0].Code != "reports-costs" {
		t.Errorf("first child = %q, want reports-costs (lower order first)", fetched.Children[0].Code)
	}
	sales := fetched.Children[1]
	if len(sales.Children) != 1 || sales.Children[0].Code != "reports-sales-export" {
		t.Errorf("grandchildren = %+v", sales.Children)
	}
	if sales.ParentID == nil || *sales.ParentID != created.ID {
		t.Errorf("child parentId = %v, want %d", sales.ParentID, created.ID)
	}
}

func TestMenus_CreateValidation(t *testing.T) {
	_, router := testServer(t)
	admin := login(t, router, "admin")

	w, env := do(t, router, http.MethodPost, "/menus", map[string]any{
		"name": "Dup", "code": "system", "type": "MENU",
		"children": []map[string]any{{"name": "", "code": "child", "type": "LINK"}},
	}, admin.AccessToken)
	expectFailure(t, w, env, http.StatusBadRequest, CodeDataValidationFailed)
	for _, field := range []string{"code", "children[0].name", "children[0].type"} {
		if _, ok := env.Errors[field]; !ok {
			t.Errorf("errors = %v, want %s", env.Errors, field)
		}
	}
}

func TestMenus_UpdatePatchesDirectChildren(t *testing.T) {
	_, router := testServer(t)
	admin := login(t, router, "admin")

	// Node 2 (system-user) has buttons 3, 4 and 5; node 6 belongs to node 1.
	w, env := do(t, router, http.MethodPatch, "/menus/2", map[string]any{
		"name": "Accounts",
		"children": []map[string]any{
			{"id": 5, "name": "Remove user"},
			{"id": 6, "name": "Not a child"},
			{"id": 9999, "name": "Missing"},
			{"name": "No id"},
		},
	}, admin.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", w.Code, w.Body.String())
	}

	var tree menuJSON
	decodeData(t, env, &tree)
	if tree.Name != "Accounts" {
		t.Errorf("name = %q, want Accounts", tree.Name)
	}
	names := map[int64]string{}
	for _, c := range tree.Children {
		names[c.ID] = c.Name
	}
	if names[5] != "Remove user" {
		t.Errorf("child 5 name = %q, want Remove user", names[5])
	}
	if names[3] != "Add user" || names[4] != "Edit user" {
		t.Errorf("untouched children changed: %v", names)
	}

	_, env = do(t, router, http.MethodGet, "/menus/6", nil, admin.AccessToken)
	var six menuJSON
	decodeData(t, env, &six)
	if six.Name != "Roles" {
		t.Errorf("node 6 name = %q, want Roles (not a child of 2)", six.Name)
	}
}

func TestMenus_UpdateRejectsDescendantParent(t *testing.T) {
	_, router := testServer(t)
	admin := login(t, router, "admin")

	w, env := do(t, router, http.MethodPatch, "/menus/1", map[string]any{"parentId": 3}, admin.AccessToken)
	expectFailure(t, w, env, http.StatusBadRequest, CodeDataValidationFailed)
	if _, ok := env.Errors["parentId"]; !ok {
		t.Errorf("errors = %v, want parentId", env.Errors)
	}
}

func TestMenus_DeleteCascades(t *testing.T) {
	_, router := testServer(t)
	admin := login(t, router, "admin")

	w, _ := do(t, router, http.MethodDelete, "/menus/2", nil, admin.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	for _, id := range []int{2, 3, 4, 5} {
		w, env := do(t, router, http.MethodGet, fmt.Sprintf("/menus/%d", id), nil, admin.AccessToken)
		expectFailure(t, w, env, http.StatusNotFound, CodeDataNotFound)
	}

	w, env := do(t, router, http.MethodDelete, "/menus/2", nil, admin.AccessToken)
	expectFailure(t, w, env, http.StatusNotFound, CodeDataNotFound)
}

// ─── /async-routes ─────────────────────────────────────────────────

func TestAsyncRoutes_SuperRoleSeesEverything(t *testing.T) {
	_, router := testServer(t)
	admin := login(t, router, "admin")

	w, env := do(t, router, http.MethodGet, "/async-routes", nil, admin.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var routes []routeJSON
	decodeData(t, env, &routes)
	if len(routes) != 1 || routes[0].Name != "system" {
		t.Fatalf("routes = %+v, want [system]", routes)
	}
	if len(routes[0].Children) != 4 {
		t.Fatalf("system children = %d, want 4", len(routes[0].Children))
	}

	user := routes[0].Children[0]
	want := []string{"system-user-add", "system-user-edit", "system-user-delete"}
	if user.Name != "system-user" || !slices.Equal(user.Meta.Auths, want) {
		t.Errorf("system-user = %s auths %v, want %v", user.Name, user.Meta.Auths, want)
	}
	if user.Meta.Title != "Users" {
		t.Errorf("title = %q, want Users", user.Meta.Title)
	}
}

func TestAsyncRoutes_ScopedToGrants(t *testing.T) {
	_, router := testServer(t)
	admin := login(t, router, "admin")

	w, env := do(t, router, http.MethodPost, "/roles", map[string]string{
		"code": "CLERK", "name": "Clerk",
	}, admin.AccessToken)
	if w.Code != http.StatusCreated {
		t.Fatalf("create role = %d", w.Code)
	}
	var role roleJSON
	decodeData(t, env, &role)

	w, _ = do(t, router, http.MethodPut, fmt.Sprintf("/roles/%d/menus", role.ID),
		map[string]any{"menuIds": []int64{3}}, admin.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("grant = %d", w.Code)
	}

	viewer := login(t, router, "viewer")
	_, env = do(t, router, http.MethodGet, "/user/detail", nil, viewer.AccessToken)
	var detail struct {
		ID int64 `json:"id"`
	}
	decodeData(t, env, &detail)

	w, _ = do(t, router, http.MethodPatch, fmt.Sprintf("/users/%d", detail.ID),
		map[string]any{"roleIds": []int64{role.ID}}, admin.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("assign role = %d", w.Code)
	}

	_, env = do(t, router, http.MethodGet, "/async-routes", nil, viewer.AccessToken)
	var routes []routeJSON
	decodeData(t, env, &routes)

	if len(routes) != 1 || routes[0].Name != "system" {
		t.Fatalf("routes = %+v, want [system]", routes)
	}
	if len(routes[0].Children) != 1 {
		t.Fatalf("system children = %+v, want only system-user", routes[0].Children)
	}
	user := routes[0].Children[0]
	if user.Name != "system-user" || !slices.Equal(user.Meta.Auths, []string{"system-user-add"}) {
		t.Errorf("system-user = %s auths %v, want [system-user-add]", user.Name, user.Meta.Auths)
	}
}

func TestAsyncRoutes_NoGrants(t *testing.T) {
	_, router := testServer(t)
	viewer := login(t, router, "viewer")

	_, env := do(t, router, http.MethodGet, "/async-routes", nil, viewer.AccessToken)
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}
}
