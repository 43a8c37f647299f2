package menu

import (
	"bytes"
	"encoding/json"
	"time"
)

// Type classifies a menu node.
type Type string

// Node types.
const (
	TypeDirectory Type = "DIRECTORY"
	TypeMenu      Type = "MENU"
	TypeButton    Type = "BUTTON"
)

// IsValid reports whether t is a known node type.
func (t Type) IsValid() bool {
	switch t {
	case TypeDirectory, TypeMenu, TypeButton:
		return true
	}
	return false
}

// Node is one stored menu row.
type Node struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Type      Type      `json:"type"`
	ParentID  *int64    `json:"parentId"`
	Path      string    `json:"path"`
	Icon      string    `json:"icon"`
	Component string    `json:"component"`
	Order     int       `json:"order"`
	Show      bool      `json:"show"`
	Enable    bool      `json:"enable"`
	Layout    string    `json:"layout"`
	KeepAlive bool      `json:"keepAlive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// Tree is a node with its children serialised recursively.
type Tree struct {
	Node
	Children []*Tree `json:"children"`
}

// CreateInput is a node payload with optional nested children.
// Show and Enable default to true when omitted.
type CreateInput struct {
	Name      string        `json:"name"`
	Code      string        `json:"code"`
	Type      Type          `json:"type"`
	ParentID  *int64        `json:"parentId"`
	Path      string        `json:"path"`
	Icon      string        `json:"icon"`
	Component string        `json:"component"`
	Order     int           `json:"order"`
	Show      *bool         `json:"show"`
	Enable    *bool         `json:"enable"`
	Layout    string        `json:"layout"`
	KeepAlive bool          `json:"keepAlive"`
	Children  []CreateInput `json:"children"`
}

// Fields is the allow-list of mutable scalar attributes. Nil means unchanged.
type Fields struct {
	Name      *string `json:"name"`
	Code      *string `json:"code"`
	Type      *Type   `json:"type"`
	Path      *string `json:"path"`
	Icon      *string `json:"icon"`
	Component *string `json:"component"`
	Order     *int    `json:"order"`
	Show      *bool   `json:"show"`
	Enable    *bool   `json:"enable"`
	Layout    *string `json:"layout"`
	KeepAlive *bool   `json:"keepAlive"`
}

// Patch updates a node and, optionally, some of its direct children.
type Patch struct {
	Fields
	ParentID NullableID   `json:"parentId"`
	Children []ChildPatch `json:"children"`
}

// ChildPatch targets an existing direct child by ID. Entries without an ID
// are ignored.
type ChildPatch struct {
	ID int64 `json:"id"`
	Fields
}

// NullableID distinguishes an absent field from an explicit null.
type NullableID struct {
	Set bool
	ID  *int64
}

// UnmarshalJSON records that the field was present.
func (n *NullableID) UnmarshalJSON(b []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		n.ID = nil
		return nil
	}
	var id int64
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	n.ID = &id
	return nil
}

// MarshalJSON encodes the ID or null.
func (n NullableID) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.ID)
}

// apply merges the non-nil fields into n.
func (f *Fields) apply(n *Node) {
	if f.Name != nil {
		n.Name = *f.Name
	}
	if f.Code != nil {
		n.Code = *f.Code
	}
	if f.Type != nil {
		n.Type = *f.Type
	}
	if f.Path != nil {
		n.Path = *f.Path
	}
	if f.Icon != nil {
		n.Icon = *f.Icon
	}
	if f.Component != nil {
		n.Component = *f.Component
	}
	if f.Order != nil {
		n.Order = *f.Order
	}
	if f.Show != nil {
		n.Show = *f.Show
	}
	if f.Enable != nil {
		n.Enable = *f.Enable
	}
	if f.Layout != nil {
		n.Layout = *f.Layout
	}
	if f.KeepAlive != nil {
		n.KeepAlive = *f.KeepAlive
	}
}
