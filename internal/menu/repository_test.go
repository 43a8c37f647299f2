package menu

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createNode stores n as a single-node tree and copies back its ID and
// timestamps.
func createNode(t *testing.T, repo *SQLiteRepository, n *Node) {
	t.Helper()
	tree := &Tree{Node: *n}
	require.NoError(t, repo.CreateTree(t.Context(), tree))
	*n = tree.Node
}

// storedNode reads one row back through ListAll.
func storedNode(t *testing.T, repo *SQLiteRepository, id int64) (Node, bool) {
	t.Helper()
	nodes, err := repo.ListAll(t.Context())
	require.NoError(t, err)
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()

	root := &Node{Name: "System", Code: "system", Type: TypeDirectory, Path: "/system", Icon: "ep:setting", Order: 3, Show: true, Enable: true}
	createNode(t, repo, root)
	require.NotZero(t, root.ID)
	assert.False(t, root.CreatedAt.IsZero())

	got, ok := storedNode(t, repo, root.ID)
	require.True(t, ok)
	assert.Equal(t, "system", got.Code)
	assert.Equal(t, "/system", got.Path)
	assert.Equal(t, 3, got.Order)
	assert.True(t, got.IsRoot())
	assert.Empty(t, got.Component, "NULL columns read back as empty strings")

	dup := &Tree{Node: Node{Name: "Other", Code: "system", Type: TypeMenu}}
	assert.ErrorIs(t, repo.CreateTree(ctx, dup), ErrCodeExists)

	orphan := &Tree{Node: Node{Name: "Orphan", Code: "orphan", Type: TypeMenu, ParentID: ptr(int64(777))}}
	assert.ErrorIs(t, repo.CreateTree(ctx, orphan), ErrNotFound)
}

func TestSQLiteRepository_CreateTree(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()

	tree := &Tree{
		Node: Node{Name: "System", Code: "system", Type: TypeDirectory, Enable: true},
		Children: []*Tree{{
			Node: Node{Name: "Users", Code: "system-user", Type: TypeMenu, Enable: true},
			Children: []*Tree{{
				Node: Node{Name: "Add", Code: "system-user-add", Type: TypeButton, Enable: true},
			}},
		}},
	}
	require.NoError(t, repo.CreateTree(ctx, tree))

	user := tree.Children[0]
	button := user.Children[0]
	require.NotNil(t, user.ParentID)
	assert.Equal(t, tree.ID, *user.ParentID)
	require.NotNil(t, button.ParentID)
	assert.Equal(t, user.ID, *button.ParentID)

	stored, ok := storedNode(t, repo, button.ID)
	require.True(t, ok)
	assert.Equal(t, user.ID, *stored.ParentID)
}

func TestSQLiteRepository_CreateTreeRollsBack(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()

	tree := &Tree{
		Node: Node{Name: "Root", Code: "root", Type: TypeDirectory},
		Children: []*Tree{
			{Node: Node{Name: "A", Code: "same", Type: TypeMenu}},
			{Node: Node{Name: "B", Code: "same", Type: TypeMenu}},
		},
	}
	assert.ErrorIs(t, repo.CreateTree(ctx, tree), ErrCodeExists)

	nodes, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes, "failed tree leaves nothing behind")
}

func TestSQLiteRepository_ListAllOrder(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()

	parent := &Node{Name: "P", Code: "p", Type: TypeDirectory}
	createNode(t, repo, parent)
	for _, n := range []*Node{
		{Name: "C2", Code: "c2", Type: TypeMenu, ParentID: &parent.ID, Order: 2},
		{Name: "C1", Code: "c1", Type: TypeMenu, ParentID: &parent.ID, Order: 1},
		{Name: "R", Code: "r", Type: TypeDirectory, Order: 9},
	} {
		createNode(t, repo, n)
	}

	nodes, err := repo.ListAll(ctx)
	require.NoError(t, err)
	var got []string
	for _, n := range nodes {
		got = append(got, n.Code)
	}
	assert.Equal(t, []string{"p", "r", "c1", "c2"}, got)
}

func TestSQLiteRepository_UpdateAndDelete(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()

	parent := &Node{Name: "P", Code: "p", Type: TypeDirectory}
	createNode(t, repo, parent)
	child := &Node{Name: "C", Code: "c", Type: TypeMenu, ParentID: &parent.ID}
	createNode(t, repo, child)
	grandchild := &Node{Name: "G", Code: "g", Type: TypeButton, ParentID: &child.ID}
	createNode(t, repo, grandchild)

	child.Name = "Renamed"
	child.KeepAlive = true
	require.NoError(t, repo.UpdateWithChildren(ctx, child, nil))
	got, ok := storedNode(t, repo, child.ID)
	require.True(t, ok)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.KeepAlive)

	ghost := &Node{ID: 4242, Name: "x", Code: "x", Type: TypeMenu}
	assert.ErrorIs(t, repo.UpdateWithChildren(ctx, ghost, nil), ErrNotFound)

	child.Code = "p"
	assert.ErrorIs(t, repo.UpdateWithChildren(ctx, child, nil), ErrCodeExists)

	require.NoError(t, repo.Delete(ctx, parent.ID))
	_, ok = storedNode(t, repo, grandchild.ID)
	assert.False(t, ok, "delete cascades to descendants")

	assert.ErrorIs(t, repo.Delete(ctx, parent.ID), ErrNotFound)
}

func TestSQLiteRepository_UpdateWithChildrenIsAtomic(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()

	parent := &Node{Name: "P", Code: "p", Type: TypeDirectory}
	createNode(t, repo, parent)
	a := &Node{Name: "A", Code: "a", Type: TypeMenu, ParentID: &parent.ID}
	createNode(t, repo, a)
	b := &Node{Name: "B", Code: "b", Type: TypeMenu, ParentID: &parent.ID}
	createNode(t, repo, b)

	parent.Name = "Changed"
	badA, badB := *a, *b
	badB.Code = "a"
	err := repo.UpdateWithChildren(ctx, parent, []Node{badA, badB})
	assert.ErrorIs(t, err, ErrCodeExists)

	got, _ := storedNode(t, repo, parent.ID)
	assert.Equal(t, "P", got.Name, "parent change rolled back")

	parent.Name = "Changed"
	a.Name = "A2"
	require.NoError(t, repo.UpdateWithChildren(ctx, parent, []Node{*a}))
	got, _ = storedNode(t, repo, a.ID)
	assert.Equal(t, "A2", got.Name)
}

func TestSQLiteRepository_ExistsCode(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()

	n := &Node{Name: "N", Code: "taken", Type: TypeMenu}
	createNode(t, repo, n)

	exists, err := repo.ExistsCode(ctx, "taken", 0)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsCode(ctx, "taken", n.ID)
	require.NoError(t, err)
	assert.False(t, exists, "a node does not collide with itself")

	exists, err = repo.ExistsCode(ctx, "free", 0)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteRepository_QueryFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLiteRepository(db)
	boom := errors.New("disk I/O error")

	mock.ExpectQuery("SELECT id, name, code").WillReturnError(boom)
	_, err = repo.ListAll(t.Context())
	assert.ErrorIs(t, err, boom)

	mock.ExpectBegin().WillReturnError(boom)
	err = repo.CreateTree(t.Context(), &Tree{Node: Node{Name: "x", Code: "x", Type: TypeMenu}})
	assert.ErrorIs(t, err, boom)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO menus").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(boom)
	err = repo.CreateTree(t.Context(), &Tree{Node: Node{Name: "x", Code: "x", Type: TypeMenu}})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}
