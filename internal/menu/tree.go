package menu

import "sort"

// MaxDepth is the deepest level a node may sit at, counting roots as 0.
// Writes that would place a node deeper are rejected; stored data deeper
// than this is truncated on read.
const MaxDepth = 32

// index groups nodes by ID and by parent for tree walks.
type index struct {
	byID     map[int64]*Node
	children map[int64][]*Node
	roots    []*Node
}

// newIndex builds an index over nodes. A node whose parent is not in the
// set is treated as a root. Siblings are sorted by Order, then ID.
func newIndex(nodes []Node) *index {
	idx := &index{
		byID:     make(map[int64]*Node, len(nodes)),
		children: make(map[int64][]*Node),
	}
	for i := range nodes {
		idx.byID[nodes[i].ID] = &nodes[i]
	}
	for i := range nodes {
		n := &nodes[i]
		if n.ParentID != nil {
			if _, ok := idx.byID[*n.ParentID]; ok {
				idx.children[*n.ParentID] = append(idx.children[*n.ParentID], n)
				continue
			}
		}
		idx.roots = append(idx.roots, n)
	}

	sortSiblings(idx.roots)
	for _, kids := range idx.children {
		sortSiblings(kids)
	}
	return idx
}

func sortSiblings(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// tree serialises n and its descendants. Nodes already in visited are
// skipped, which breaks cycles in malformed data.
func (idx *index) tree(n *Node, visited map[int64]bool, depth int) *Tree {
	visited[n.ID] = true
	t := &Tree{Node: *n, Children: []*Tree{}}
	if depth >= MaxDepth {
		return t
	}
	for _, child := range idx.children[n.ID] {
		if visited[child.ID] {
			continue
		}
		t.Children = append(t.Children, idx.tree(child, visited, depth+1))
	}
	return t
}

// descendants returns the IDs below id, not including id itself.
func (idx *index) descendants(id int64) map[int64]bool {
	out := make(map[int64]bool)
	stack := []int64{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range idx.children[cur] {
			if child.ID == id || out[child.ID] {
				continue
			}
			out[child.ID] = true
			stack = append(stack, child.ID)
		}
	}
	return out
}

// depth counts the ancestors of id that are present in the index.
func (idx *index) depth(id int64) int {
	seen := map[int64]bool{id: true}
	d := 0
	for n := idx.byID[id]; n != nil && n.ParentID != nil; d++ {
		if seen[*n.ParentID] {
			break
		}
		seen[*n.ParentID] = true
		n = idx.byID[*n.ParentID]
		if n == nil {
			break
		}
	}
	return d
}

// height returns how many levels sit below id. A leaf has height 0.
func (idx *index) height(id int64) int {
	return idx.heightFrom(id, map[int64]bool{id: true})
}

func (idx *index) heightFrom(id int64, visited map[int64]bool) int {
	h := 0
	for _, child := range idx.children[id] {
		if visited[child.ID] {
			continue
		}
		visited[child.ID] = true
		if ch := idx.heightFrom(child.ID, visited) + 1; ch > h {
			h = ch
		}
	}
	return h
}

// treeHeight returns how many levels sit below the root of t.
func treeHeight(t *Tree) int {
	h := 0
	for _, child := range t.Children {
		if ch := treeHeight(child) + 1; ch > h {
			h = ch
		}
	}
	return h
}

// BuildForest serialises every root node with its subtree.
func BuildForest(nodes []Node) []*Tree {
	idx := newIndex(nodes)
	visited := make(map[int64]bool, len(nodes))

	forest := make([]*Tree, 0, len(idx.roots))
	for _, root := range idx.roots {
		forest = append(forest, idx.tree(root, visited, 0))
	}
	return forest
}

// BuildTree serialises the node with the given ID and its subtree.
// It returns ErrNotFound when the ID is not in nodes.
func BuildTree(nodes []Node, id int64) (*Tree, error) {
	idx := newIndex(nodes)
	n, ok := idx.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return idx.tree(n, make(map[int64]bool), 0), nil
}
