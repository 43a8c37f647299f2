package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrUsernameExists     = errors.New("username already exists")
	ErrRoleCodeExists     = errors.New("role code already exists")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
)

// ValidationError carries per-field messages for rejected input.
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
	return "validation failed: " + strings.Join(parts, "; ")
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

func fieldError(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
