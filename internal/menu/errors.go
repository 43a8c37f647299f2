package menu

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors for the menu package.
var (
	// ErrNotFound is returned when a menu ID does not exist.
	ErrNotFound = errors.New("menu: not found")

	// ErrCodeExists is returned when a code is already taken by another node.
	ErrCodeExists = errors.New("menu: code already exists")
)

// ValidationError carries per-field messages for a rejected payload.
// Nested fields use paths such as "children[1].code".
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "menu: validation failed: " + strings.Join(parts, "; ")
}

// FieldErrors returns the field → message map.
func (e *ValidationError) FieldErrors() map[string]string {
	return e.Fields
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
