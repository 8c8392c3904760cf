// Package capabilities defines the contract between a live session and the
// catalog of callable capabilities ("tools"), plus an in-memory registry,
// schema validation and permission checks that satisfy it.
package capabilities

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrUnknownCapability is returned when a name does not resolve.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrPermissionDenied is returned when the caller may not run a capability.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidArguments wraps schema validation failures.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Argument types understood by declarations.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// ArgSpec describes one named argument.
type ArgSpec struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Items       string   `json:"items,omitempty"` // element type for arrays
	Enum        []string `json:"enum,omitempty"`
}

// Declaration is the immutable description of a capability.
type Declaration struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Args        map[string]ArgSpec `json:"args,omitempty"`
}

// RequiredArgs returns the names of required arguments in sorted order.
func (d Declaration) RequiredArgs() []string {
	var required []string
	for name, spec := range d.Args {
		if spec.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return required
}

// Capability is a named action with typed arguments.
type Capability interface {
	Declaration() Declaration

	// Execute runs the capability with validated, normalized arguments.
	// The result is either a string or a JSON-encodable value.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Registry enumerates and resolves capabilities. Implementations must be safe
// for concurrent use.
type Registry interface {
	List() []Declaration
	Resolve(name string) (Capability, bool)
}

// Validator checks arguments against a declaration.
type Validator interface {
	Validate(args map[string]any, decl Declaration) error
}

// Caller identifies who is invoking a capability.
type Caller struct {
	UserID         string
	ConversationID string
	Admin          bool
}

// PermissionChecker answers the yes/no permission question.
type PermissionChecker interface {
	IsPermitted(name string, caller Caller) bool
}

// Func adapts a function into a Capability.
type Func struct {
	Decl Declaration
	Fn   func(ctx context.Context, args map[string]any) (any, error)
}

func (f Func) Declaration() Declaration { return f.Decl }

func (f Func) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}
