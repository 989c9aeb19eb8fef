package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrUserInput     = errors.New("invalid user input")
	ErrAuthorization = errors.New("not authorized")
	ErrLogic         = errors.New("logic error")
	ErrEngine        = errors.New("business engine error")
	ErrValidation    = errors.New("validation error")
)

// AuthorizationError is an authorization failure that names the offending
// fields, e.g. a write attempt outside the allowed field set.
type AuthorizationError struct {
	Action string
	Fields []string
}

func (e *AuthorizationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s not authorized", e.Action)
	}
	return fmt.Sprintf("%s not authorized for fields: %s", e.Action, strings.Join(e.Fields, ", "))
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// NewAuthorizationError creates an AuthorizationError for an action and the
// fields that caused the refusal (may be empty).
func NewAuthorizationError(action string, fields ...string) *AuthorizationError {
	return &AuthorizationError{Action: action, Fields: fields}
}

// EngineError wraps a BPM engine failure. The detail is kept for logging;
// callers see the uniform ErrEngine sentinel.
type EngineError struct {
	Op     string
	Detail error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("business engine error: %s: %v", e.Op, e.Detail)
}

func (e *EngineError) Unwrap() error { return ErrEngine }

// NewEngineError wraps err as an engine failure for operation op.
func NewEngineError(op string, err error) *EngineError {
	return &EngineError{Op: op, Detail: err}
}
