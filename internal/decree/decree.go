// Package decree implements the unit of policy enforcement: a Decree
// detects whether a host matches a desired state, updates it if not, and
// then decides whether to activate (reload/restart) dependents. Decrees
// compose into Groups and Policies, which OR-reduce their children's
// updated/activated flags instead of tracking state of their own.
package decree

import (
	"context"
	"fmt"

	"github.com/sentineld/autocracy/internal/rpcerr"
)

// Summary is the JSON-serializable report a Decree produces after Apply:
// at minimum "updated"/"activated" booleans when true, plus whatever
// decree-specific detail (paths, diffs, commands) is useful to an operator.
type Summary map[string]any

// Repository resolves file content a decree's Update phase may need, e.g. a
// File decree's source payload. Backed by internal/repository in
// production and by fakes in tests.
type Repository interface {
	GetFile(path string) ([]byte, error)
	GetFiles(path string) (map[string][]byte, error)
}

// Node is what the apply engine drives: a single decree, a Group of them,
// or a Policy (a named top-level Group). All three satisfy the same
// contract so a Group can nest Groups without special-casing.
type Node interface {
	Name() string
	Prepare(name string)
	Provision(repo Repository)
	Apply(ctx context.Context, dryRun bool) (Summary, error)
	Updated() bool
	Activated() bool
	Summary() Summary
}

// updateChecker, updater, and activator are the optional hooks a concrete
// decree implements. Base probes for them with a type assertion, mirroring
// hasattr(self, "_update")/hasattr(self, "_activate") in the reference
// implementation: a decree with no _update can never become "updated", one
// with no _activate can never become "activated", regardless of whether the
// corresponding check says it should.
type updateChecker interface {
	UpdateNeeded(ctx context.Context) (bool, error)
}

type updater interface {
	Update(ctx context.Context) error
}

type activator interface {
	Activate(ctx context.Context) error
}

// activateIfChecker lets a decree override the default "always eligible"
// activation policy (the Run decree's activate_if, a Service decree that
// reloads/restarts only a unit that was already running, etc).
type activateIfChecker interface {
	ShouldActivate() bool
}

// Base is embedded by every leaf decree kind. It owns the applied/updated/
// activated bookkeeping and the refuse-to-run-twice latch; it does not know
// how to detect or enforce state itself, that's left to UpdateNeeded/
// Update/Activate on the embedding type.
type Base struct {
	name       string
	file       string
	line       int
	applied    bool
	updated    bool
	activated  bool
	activateIf func() (bool, error)
}

// SetActivateIf attaches a deferred activation predicate to any decree
// kind, the generic form of the per-kind activate_if field spec.md lists
// as common to every decree. The policy loader calls this when a policy
// program sets activate_if= to a Starlark callable (as opposed to Run's
// own static *bool convenience field); p is invoked lazily at apply time,
// after every earlier sibling in the same group has already applied, so
// it can safely read their Updated()/Activated() flags.
func (b *Base) SetActivateIf(p func() (bool, error)) {
	b.activateIf = p
}

// NewBase records the policy source location a decree was declared at, used
// to pin error messages to a "file:line" the operator can act on.
func NewBase(file string, line int) Base {
	return Base{file: file, line: line}
}

func (b *Base) Name() string { return b.name }

// Prepare assigns the decree's name the first time it is placed inside a
// Group, unless it was already given an explicit name.
func (b *Base) Prepare(name string) {
	if name != "" && b.name == "" {
		b.name = name
	}
}

func (b *Base) Provision(Repository) {}

func (b *Base) Applied() bool   { return b.applied }
func (b *Base) Updated() bool   { return b.updated }
func (b *Base) Activated() bool { return b.activated }

func (b *Base) location() string {
	if b.file == "" {
		return b.name
	}
	return fmt.Sprintf("%s:%d", b.file, b.line)
}

// BaseSummary returns the updated/activated keys a concrete decree's
// Summary method should start from.
func (b *Base) BaseSummary() Summary {
	s := Summary{}
	if b.updated {
		s["updated"] = true
	}
	if b.activated {
		s["activated"] = true
	}
	return s
}

// Apply runs the detect/update/activate sequence once. self must be the
// concrete decree embedding this Base, so Apply can probe it for the
// optional UpdateNeeded/Update/Activate/ShouldActivate hooks and ask it for
// its final Summary. A second call on the same decree is refused: reapplying
// a decree silently would let the same side effect fire twice in one
// fan-out, which is exactly the bug this latch exists to catch.
func (b *Base) Apply(self Node, ctx context.Context, dryRun bool) (Summary, error) {
	if b.applied {
		return nil, &rpcerr.Reused{DecreeName: b.location()}
	}
	defer func() { b.applied = true }()

	if uc, ok := self.(updateChecker); ok {
		needed, err := uc.UpdateNeeded(ctx)
		if err != nil {
			return nil, &rpcerr.Decree{DecreeName: b.location(), Message: err.Error()}
		}
		if u, ok := self.(updater); needed && ok {
			if !dryRun {
				if err := u.Update(ctx); err != nil {
					return nil, &rpcerr.Decree{DecreeName: b.location(), Message: err.Error()}
				}
			}
			b.updated = true
		}
	}

	shouldActivate := true
	if b.activateIf != nil {
		v, err := b.activateIf()
		if err != nil {
			return nil, &rpcerr.Decree{DecreeName: b.location(), Message: err.Error()}
		}
		shouldActivate = v
	}
	if ac, ok := self.(activateIfChecker); ok {
		shouldActivate = shouldActivate && ac.ShouldActivate()
	}
	if shouldActivate {
		if a, ok := self.(activator); ok {
			if !dryRun {
				if err := a.Activate(ctx); err != nil {
					return nil, &rpcerr.Decree{DecreeName: b.location(), Message: err.Error()}
				}
			}
			b.activated = true
		}
	}

	return self.Summary(), nil
}

// NamedNode pairs a Node with the name it is declared under inside a Group,
// preserving the declaration order a policy program wrote it in.
type NamedNode struct {
	Name string
	Node Node
}

// Group applies a fixed, ordered set of child nodes and OR-reduces their
// updated/activated flags; it never has update/activate logic of its own.
type Group struct {
	Base
	members []NamedNode
}

// NewGroup builds a Group from its declared members in order, propagating
// each member's name so nested decrees report it in summaries and errors.
func NewGroup(members []NamedNode) *Group {
	for _, m := range members {
		m.Node.Prepare(m.Name)
	}
	return &Group{members: append([]NamedNode(nil), members...)}
}

func (g *Group) Provision(repo Repository) {
	for _, m := range g.members {
		m.Node.Provision(repo)
	}
}

func (g *Group) Updated() bool {
	for _, m := range g.members {
		if m.Node.Updated() {
			return true
		}
	}
	return false
}

func (g *Group) Activated() bool {
	for _, m := range g.members {
		if m.Node.Activated() {
			return true
		}
	}
	return false
}

func (g *Group) Summary() Summary {
	out := Summary{}
	for _, m := range g.members {
		if s := m.Node.Summary(); len(s) > 0 {
			out[m.Name] = s
		}
	}
	return out
}

// Apply runs every member in declaration order, stopping at the first
// error. Partial effects from members that already ran are left in place:
// there is no rollback, only the reported error.
func (g *Group) Apply(ctx context.Context, dryRun bool) (Summary, error) {
	if g.applied {
		return nil, &rpcerr.Reused{DecreeName: g.location()}
	}
	defer func() { g.applied = true }()

	for _, m := range g.members {
		if _, err := m.Node.Apply(ctx, dryRun); err != nil {
			return nil, err
		}
	}
	return g.Summary(), nil
}

// Members exposes the group's children for callers that walk the tree, such
// as the policy loader tests inspecting a loaded policy's top level.
func (g *Group) Members() []NamedNode {
	return append([]NamedNode(nil), g.members...)
}

// Policy is the top-level Group a policy program evaluates to; it behaves
// exactly like a Group and exists as a distinct type only so error messages
// and logs can say "policy" instead of "group" at the root.
type Policy struct {
	Group
}

func NewPolicy(members []NamedNode) *Policy {
	return &Policy{Group: *NewGroup(members)}
}
