package menu

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(trees []*Tree) []string {
	out := make([]string, 0, len(trees))
	for _, t := range trees {
		out = append(out, t.Code)
	}
	return out
}

func TestBuildForest_SiblingOrder(t *testing.T) {
	nodes := []Node{
		node(1, 0, TypeDirectory, "b-root", 2),
		node(2, 0, TypeDirectory, "a-root", 1),
		node(4, 1, TypeMenu, "second", 5),
		node(3, 1, TypeMenu, "first", 5),
		node(5, 1, TypeMenu, "zero", 0),
	}

	forest := BuildForest(nodes)
	require.Len(t, forest, 2)
	assert.Equal(t, []string{"a-root", "b-root"}, codes(forest))
	assert.Equal(t, []string{"zero", "first", "second"}, codes(forest[1].Children))
	assert.NotNil(t, forest[0].Children, "leaves serialise an empty children list")
}

func TestBuildTree_ParentContainsChild(t *testing.T) {
	nodes := []Node{
		node(1, 0, TypeDirectory, "system", 0),
		node(2, 1, TypeMenu, "system-user", 0),
	}
	nodes[1].Path = "/system/user"

	tree, err := BuildTree(nodes, 1)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, nodes[1], tree.Children[0].Node)

	raw, err := json.Marshal(tree)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	children := decoded["children"].([]any)
	require.Len(t, children, 1)
	child := children[0].(map[string]any)
	assert.Equal(t, "system-user", child["code"])
	assert.Equal(t, float64(1), child["parentId"])
	assert.Equal(t, []any{}, child["children"])
}

func TestBuildTree_NotFound(t *testing.T) {
	_, err := BuildTree([]Node{node(1, 0, TypeMenu, "x", 0)}, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuildForest_CyclesTerminate(t *testing.T) {
	nodes := []Node{
		node(1, 2, TypeMenu, "loop-a", 0),
		node(2, 1, TypeMenu, "loop-b", 0),
		node(3, 0, TypeDirectory, "root", 0),
		node(4, 3, TypeMenu, "leaf", 0),
		node(5, 5, TypeMenu, "self", 0),
	}

	forest := BuildForest(nodes)
	require.Len(t, forest, 1)
	assert.Equal(t, "root", forest[0].Code)
	assert.Equal(t, []string{"leaf"}, codes(forest[0].Children))

	tree, err := BuildTree(nodes, 1)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "loop-b", tree.Children[0].Code)
	assert.Empty(t, tree.Children[0].Children, "cycle back to loop-a is cut")

	self, err := BuildTree(nodes, 5)
	require.NoError(t, err)
	assert.Empty(t, self.Children)
}

func TestBuildTree_DepthCap(t *testing.T) {
	var nodes []Node
	for i := int64(1); i <= MaxDepth+5; i++ {
		nodes = append(nodes, node(i, i-1, TypeMenu, "n", 0))
	}

	tree, err := BuildTree(nodes, 1)
	require.NoError(t, err)

	depth := 0
	for cur := tree; len(cur.Children) > 0; cur = cur.Children[0] {
		depth++
	}
	assert.Equal(t, MaxDepth, depth)
}

func TestIndex_Descendants(t *testing.T) {
	idx := newIndex([]Node{
		node(1, 0, TypeDirectory, "a", 0),
		node(2, 1, TypeMenu, "b", 0),
		node(3, 2, TypeButton, "c", 0),
		node(4, 0, TypeDirectory, "d", 0),
	})

	assert.Equal(t, map[int64]bool{2: true, 3: true}, idx.descendants(1))
	assert.Empty(t, idx.descendants(4))
}

func TestIndex_DepthAndHeight(t *testing.T) {
	idx := newIndex([]Node{
		node(1, 0, TypeDirectory, "a", 0),
		node(2, 1, TypeMenu, "b", 0),
		node(3, 2, TypeButton, "c", 0),
		node(4, 1, TypeMenu, "d", 0),
		node(5, 6, TypeMenu, "loop-a", 0),
		node(6, 5, TypeMenu, "loop-b", 0),
	})

	assert.Equal(t, 0, idx.depth(1))
	assert.Equal(t, 2, idx.depth(3))
	assert.Equal(t, 2, idx.height(1))
	assert.Equal(t, 0, idx.height(3))
	assert.Equal(t, 0, idx.height(4))

	// Cycles terminate.
	assert.Equal(t, 1, idx.depth(5))
	assert.Equal(t, 1, idx.height(5))

	payload := &Tree{Children: []*Tree{{}, {Children: []*Tree{{}}}}}
	assert.Equal(t, 2, treeHeight(payload))
}
