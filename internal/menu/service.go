package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
)

// Field length limits, matching the column sizes the console assumes.
const (
	maxNameLength      = 100
	maxCodeLength      = 100
	maxPathLength      = 255
	maxIconLength      = 100
	maxComponentLength = 255
	maxLayoutLength    = 50
)

// Service implements menu reads and validated writes on top of a Repository.
type Service struct {
	repo   Repository
	logger *logging.Logger
}

// NewService creates a menu service.
func NewService(repo Repository, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{repo: repo, logger: logger.With("component", "menu")}
}

// Forest returns every root node with its subtree.
func (s *Service) Forest(ctx context.Context) ([]*Tree, error) {
	nodes, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return BuildForest(nodes), nil
}

// Get returns one node with its subtree.
func (s *Service) Get(ctx context.Context, id int64) (*Tree, error) {
	nodes, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return BuildTree(nodes, id)
}

// Routes returns the navigation payload visible to scope.
func (s *Service) Routes(ctx context.Context, scope Scope) ([]*Route, error) {
	nodes, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return BuildRoutes(nodes, scope), nil
}

// Create validates a payload and its nested children at every depth, then
// stores the whole tree in one transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Tree, error) {
	verr := &ValidationError{}
	codes := make(map[string]string)
	tree := buildInput(verr, in, "", codes, 0)

	if in.ParentID != nil {
		nodes, err := s.repo.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		idx := newIndex(nodes)
		if idx.byID[*in.ParentID] == nil {
			verr.add("parentId", "does not exist")
		} else if idx.depth(*in.ParentID)+1+treeHeight(tree) > MaxDepth {
			field := "parentId"
			if len(tree.Children) > 0 {
				field = "children"
			}
			verr.add(field, fmt.Sprintf("nesting exceeds %d levels", MaxDepth))
		}
	}
	for code, field := range codes {
		taken, err := s.repo.ExistsCode(ctx, code, 0)
		if err != nil {
			return nil, err
		}
		if taken {
			verr.add(field, "already exists")
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	if err := s.repo.CreateTree(ctx, tree); err != nil {
		return nil, mapWriteError(err)
	}

	s.logger.Info("menu created", "id", tree.ID, "code", tree.Code, "nodes", len(codes))
	return tree, nil
}

// buildInput converts a payload into a Tree, recording problems under
// prefix. codes maps every code in the payload to the field that holds it.
func buildInput(verr *ValidationError, in CreateInput, prefix string, codes map[string]string, depth int) *Tree {
	n := Node{
		Name:      strings.TrimSpace(in.Name),
		Code:      strings.TrimSpace(in.Code),
		Type:      in.Type,
		ParentID:  in.ParentID,
		Path:      strings.TrimSpace(in.Path),
		Icon:      strings.TrimSpace(in.Icon),
		Component: strings.TrimSpace(in.Component),
		Order:     in.Order,
		Show:      in.Show == nil || *in.Show,
		Enable:    in.Enable == nil || *in.Enable,
		Layout:    strings.TrimSpace(in.Layout),
		KeepAlive: in.KeepAlive,
	}
	checkNode(verr, &n, prefix)

	if n.Code != "" {
		if _, dup := codes[n.Code]; dup {
			verr.add(prefix+"code", "duplicate code in payload")
		} else {
			codes[n.Code] = prefix + "code"
		}
	}

	t := &Tree{Node: n, Children: []*Tree{}}
	if len(in.Children) > 0 && depth+1 > MaxDepth {
		verr.add(prefix+"children", fmt.Sprintf("nesting exceeds %d levels", MaxDepth))
		return t
	}
	for i, child := range in.Children {
		t.Children = append(t.Children,
			buildInput(verr, child, fmt.Sprintf("%schildren[%d].", prefix, i), codes, depth+1))
	}
	return t
}

// Update merges patch into the node and its listed direct children in one
// transaction. Child entries without an ID, or whose ID is not a direct
// child of the node, are ignored. Rows the patch leaves unchanged are not
// written, so their updatedAt stays put.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (*Tree, error) {
	nodes, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	idx := newIndex(nodes)
	current, ok := idx.byID[id]
	if !ok {
		return nil, ErrNotFound
	}

	verr := &ValidationError{}
	target := *current
	patch.Fields.apply(&target)
	normalize(&target)
	checkNode(verr, &target, "")

	if patch.ParentID.Set {
		target.ParentID = patch.ParentID.ID
		if checkParent(verr, idx, id, target.ParentID) && target.ParentID != nil &&
			idx.depth(*target.ParentID)+1+idx.height(id) > MaxDepth {
			verr.add("parentId", fmt.Sprintf("nesting exceeds %d levels", MaxDepth))
		}
	}

	// Codes claimed by this request, to catch collisions inside the payload.
	claimed := map[string]int64{target.Code: id}

	children := make([]Node, 0, len(patch.Children))
	for i, cp := range patch.Children {
		if cp.ID == 0 {
			s.logger.Debug("child patch without id ignored", "menu_id", id, "index", i)
			continue
		}
		child, ok := idx.byID[cp.ID]
		if !ok || child.ParentID == nil || *child.ParentID != id {
			s.logger.Debug("child patch for non-child ignored", "menu_id", id, "child_id", cp.ID)
			continue
		}

		prefix := fmt.Sprintf("children[%d].", i)
		updated := *child
		cp.Fields.apply(&updated)
		normalize(&updated)
		if sameNode(&updated, child) {
			continue
		}
		checkNode(verr, &updated, prefix)

		if owner, dup := claimed[updated.Code]; dup && owner != updated.ID {
			verr.add(prefix+"code", "duplicate code in payload")
		}
		claimed[updated.Code] = updated.ID
		children = append(children, updated)
	}

	for code, owner := range claimed {
		if code == "" || code == idx.byID[owner].Code {
			continue
		}
		taken, err := s.repo.ExistsCode(ctx, code, owner)
		if err != nil {
			return nil, err
		}
		if taken {
			verr.add(codeField(patch, owner, id), "already exists")
		}
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	var self *Node
	if !sameNode(&target, current) {
		self = &target
	}
	if self == nil && len(children) == 0 {
		s.logger.Debug("menu update changed nothing", "id", id)
		return s.Get(ctx, id)
	}

	if err := s.repo.UpdateWithChildren(ctx, self, children); err != nil {
		if errors.Is(err, ErrCodeExists) {
			return nil, fieldError("code", "already exists")
		}
		return nil, err
	}

	s.logger.Info("menu updated", "id", id, "children", len(children))
	return s.Get(ctx, id)
}

// codeField names the payload field holding the code of owner.
func codeField(patch Patch, owner, target int64) string {
	if owner == target {
		return "code"
	}
	for i, cp := range patch.Children {
		if cp.ID == owner {
			return fmt.Sprintf("children[%d].code", i)
		}
	}
	return "code"
}

// Delete removes a node and its subtree.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("menu deleted", "id", id)
	return nil
}

// checkParent rejects a parent that is the node itself, does not exist, or
// sits inside the node's own subtree. It reports whether parentID passed.
func checkParent(verr *ValidationError, idx *index, id int64, parentID *int64) bool {
	if parentID == nil {
		return true
	}
	switch {
	case *parentID == id:
		verr.add("parentId", "cannot be the node itself")
	case idx.byID[*parentID] == nil:
		verr.add("parentId", "does not exist")
	case idx.descendants(id)[*parentID]:
		verr.add("parentId", "cannot be a descendant of the node")
	default:
		return true
	}
	return false
}

// sameNode compares the stored fields of a and b, ignoring timestamps.
func sameNode(a, b *Node) bool {
	if (a.ParentID == nil) != (b.ParentID == nil) {
		return false
	}
	if a.ParentID != nil && *a.ParentID != *b.ParentID {
		return false
	}
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Code == b.Code &&
		a.Type == b.Type &&
		a.Path == b.Path &&
		a.Icon == b.Icon &&
		a.Component == b.Component &&
		a.Order == b.Order &&
		a.Show == b.Show &&
		a.Enable == b.Enable &&
		a.Layout == b.Layout &&
		a.KeepAlive == b.KeepAlive
}

func normalize(n *Node) {
	n.Name = strings.TrimSpace(n.Name)
	n.Code = strings.TrimSpace(n.Code)
	n.Path = strings.TrimSpace(n.Path)
	n.Icon = strings.TrimSpace(n.Icon)
	n.Component = strings.TrimSpace(n.Component)
	n.Layout = strings.TrimSpace(n.Layout)
}

// checkNode validates required fields and lengths of an already trimmed node.
func checkNode(verr *ValidationError, n *Node, prefix string) {
	if n.Name == "" {
		verr.add(prefix+"name", "is required")
	} else if utf8.RuneCountInString(n.Name) > maxNameLength {
		verr.add(prefix+"name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if n.Code == "" {
		verr.add(prefix+"code", "is required")
	} else if len(n.Code) > maxCodeLength {
		verr.add(prefix+"code", fmt.Sprintf("must be at most %d characters", maxCodeLength))
	}
	if !n.Type.IsValid() {
		verr.add(prefix+"type", "must be DIRECTORY, MENU or BUTTON")
	}
	checkLength(verr, prefix+"path", n.Path, maxPathLength)
	checkLength(verr, prefix+"icon", n.Icon, maxIconLength)
	checkLength(verr, prefix+"component", n.Component, maxComponentLength)
	checkLength(verr, prefix+"layout", n.Layout, maxLayoutLength)
}

func checkLength(verr *ValidationError, field, value string, max int) {
	if utf8.RuneCountInString(value) > max {
		verr.add(field, fmt.Sprintf("must be at most %d characters", max))
	}
}

// mapWriteError turns store conflicts that slipped past validation into
// field errors.
func mapWriteError(err error) error {
	switch {
	case errors.Is(err, ErrCodeExists):
		return fieldError("code", "already exists")
	case errors.Is(err, ErrNotFound):
		return fieldError("parentId", "does not exist")
	}
	return err
}

func fieldError(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
