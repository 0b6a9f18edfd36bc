package decree

import (
	"fmt"

	"go.starlark.net/starlark"
)

// ActivateIfSetter is implemented by every concrete decree kind (via the
// embedded Base) and lets the policy loader attach a deferred activate_if
// predicate built from a Starlark expression, the generalized form of
// Run's own static *bool convenience field.
type ActivateIfSetter interface {
	SetActivateIf(func() (bool, error))
}

// Handle is what a decree constructor builtin (File(...), Run(...), ...)
// returns into a policy program's namespace: a Node that is also a
// starlark.Value, so a later activate_if=lambda: a.updated expression can
// read an already-applied sibling's flags as plain Starlark attribute
// access, and so the root policy loader can walk the program's top-level
// bindings looking for decrees.
type Handle struct {
	Node
}

// NewHandle wraps an already-constructed decree for exposure to a policy
// program.
func NewHandle(n Node) *Handle { return &Handle{Node: n} }

var (
	_ starlark.Value    = (*Handle)(nil)
	_ starlark.HasAttrs = (*Handle)(nil)
)

func (h *Handle) String() string {
	return fmt.Sprintf("<decree %s>", h.Node.Name())
}

func (h *Handle) Type() string         { return "decree" }
func (h *Handle) Freeze()              {}
func (h *Handle) Truth() starlark.Bool { return starlark.True }

func (h *Handle) Hash() (uint32, error) {
	return 0, fmt.Errorf("decree: unhashable type: decree")
}

// Attr exposes the three fields a predicate expression reads: updated,
// activated, name. Anything else is "no such attribute", same as any other
// Starlark value.
func (h *Handle) Attr(name string) (starlark.Value, error) {
	switch name {
	case "updated":
		return starlark.Bool(h.Node.Updated()), nil
	case "activated":
		return starlark.Bool(h.Node.Activated()), nil
	case "name":
		return starlark.String(h.Node.Name()), nil
	}
	return nil, nil
}

func (h *Handle) AttrNames() []string {
	return []string{"updated", "activated", "name"}
}
