package menu

// Route is one entry of the /async-routes payload.
type Route struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Component string    `json:"component,omitempty"`
	Rank      int       `json:"rank"`
	Meta      RouteMeta `json:"meta"`
	Children  []*Route  `json:"children,omitempty"`
}

// RouteMeta carries display hints and the permission codes of the page.
type RouteMeta struct {
	Title     string   `json:"title"`
	Icon      string   `json:"icon,omitempty"`
	ShowLink  bool     `json:"showLink"`
	KeepAlive bool     `json:"keepAlive"`
	Layout    string   `json:"layout,omitempty"`
	Auths     []string `json:"auths"`
}

// Scope selects which nodes a caller may see.
type Scope struct {
	// All is set for the super role.
	All bool

	// Granted holds the node IDs granted through the caller's roles.
	Granted map[int64]bool
}

// BuildRoutes turns the stored nodes into the navigation payload for scope.
//
// DIRECTORY and MENU nodes become routes; enabled BUTTON nodes become
// permission codes in their parent's meta.auths. A disabled node hides its
// whole subtree. Outside the All scope a node is included when it is granted
// or is an ancestor of a granted node.
func BuildRoutes(nodes []Node, scope Scope) []*Route {
	idx := newIndex(nodes)

	var allowed map[int64]bool
	if !scope.All {
		allowed = make(map[int64]bool, len(scope.Granted))
		for id := range scope.Granted {
			n, ok := idx.byID[id]
			if !ok {
				continue
			}
			// Walk up to the root, stopping early once a known path is reached.
			for depth := 0; n != nil && depth <= MaxDepth && !allowed[n.ID]; depth++ {
				allowed[n.ID] = true
				if n.ParentID == nil {
					break
				}
				n = idx.byID[*n.ParentID]
			}
		}
	}

	b := &routeBuilder{idx: idx, allowed: allowed, visited: make(map[int64]bool)}
	routes := make([]*Route, 0, len(idx.roots))
	for _, root := range idx.roots {
		if r := b.route(root, 0); r != nil {
			routes = append(routes, r)
		}
	}
	return routes
}

type routeBuilder struct {
	idx     *index
	allowed map[int64]bool // nil means everything
	visited map[int64]bool
}

func (b *routeBuilder) visible(n *Node) bool {
	if !n.Enable || b.visited[n.ID] {
		return false
	}
	return b.allowed == nil || b.allowed[n.ID]
}

func (b *routeBuilder) route(n *Node, depth int) *Route {
	if n.Type == TypeButton || !b.visible(n) {
		return nil
	}
	b.visited[n.ID] = true

	r := &Route{
		ID:        n.ID,
		Name:      n.Code,
		Path:      n.Path,
		Component: n.Component,
		Rank:      n.Order,
		Meta: RouteMeta{
			Title:     n.Name,
			Icon:      n.Icon,
			ShowLink:  n.Show,
			KeepAlive: n.KeepAlive,
			Layout:    n.Layout,
			Auths:     []string{},
		},
	}
	if depth >= MaxDepth {
		return r
	}

	for _, child := range b.idx.children[n.ID] {
		if child.Type == TypeButton {
			if b.visible(child) {
				b.visited[child.ID] = true
				r.Meta.Auths = append(r.Meta.Auths, child.Code)
			}
			continue
		}
		if cr := b.route(child, depth+1); cr != nil {
			r.Children = append(r.Children, cr)
		}
	}
	return r
}
