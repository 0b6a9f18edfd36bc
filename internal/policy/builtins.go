package policy

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/sentineld/autocracy/internal/decree"
)

// callerPos recovers the policy-source file:line a decree constructor
// builtin was called from, for Base.NewBase's location bookkeeping.
func callerPos(thread *starlark.Thread) (string, int) {
	stack := thread.CallStack()
	if len(stack) == 0 {
		return "", 0
	}
	pos := stack.At(0).Pos
	return pos.Filename(), int(pos.Line)
}

// activatePredicate turns a Starlark activate_if= value into the deferred
// func() (bool, error) form decree.ActivateIfSetter wants. None means "no
// override" (nil), a bool is a constant predicate, and a callable is
// invoked lazily at apply time so it can read an earlier sibling's
// .updated/.activated flags (spec.md §4.5's dependent-decree pattern).
func activatePredicate(thread *starlark.Thread, v starlark.Value) (func() (bool, error), error) {
	switch x := v.(type) {
	case starlark.NoneType, nil:
		return nil, nil
	case starlark.Bool:
		b := bool(x)
		return func() (bool, error) { return b, nil }, nil
	case starlark.Callable:
		return func() (bool, error) {
			result, err := starlark.Call(thread, x, nil, nil)
			if err != nil {
				return false, err
			}
			return bool(result.Truth()), nil
		}, nil
	default:
		return nil, fmt.Errorf("activate_if must be None, a bool, or a callable, got %s", v.Type())
	}
}

// finish attaches activate_if (if given), wraps node in a Handle exposed to
// the rest of the policy program, and records it in the thread-local
// declOrder so the root Policy can recover declaration order afterward.
func finish(thread *starlark.Thread, node decree.Node, activateIf starlark.Value) (starlark.Value, error) {
	if activateIf != nil {
		pred, err := activatePredicate(thread, activateIf)
		if err != nil {
			return nil, err
		}
		if pred != nil {
			setter, ok := node.(decree.ActivateIfSetter)
			if !ok {
				return nil, fmt.Errorf("%T does not support activate_if", node)
			}
			setter.SetActivateIf(pred)
		}
	}

	h := decree.NewHandle(node)
	if order, ok := thread.Local("decree_order").(*declOrder); ok {
		order.handles = append(order.handles, h)
	}
	return h, nil
}

func unpackContents(v starlark.Value) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case starlark.String:
		return []byte(string(x)), nil
	case starlark.Bytes:
		return []byte(string(x)), nil
	case starlark.NoneType:
		return nil, nil
	default:
		return nil, fmt.Errorf("contents must be a string or bytes, got %s", v.Type())
	}
}

func unpackOptionalBool(v starlark.Value) (*bool, error) {
	if v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		b := bool(x)
		return &b, nil
	default:
		return nil, fmt.Errorf("expected a bool or None, got %s", v.Type())
	}
}

// unpackInstall accepts either a dict mapping package name to a desired
// bool (install/remove), or a bare list/tuple of package names treated as
// "install all of these", the convenience form the reference Packages
// decree's install kwarg also takes.
func unpackInstall(v starlark.Value) (map[string]bool, error) {
	out := map[string]bool{}
	switch x := v.(type) {
	case *starlark.Dict:
		for _, item := range x.Items() {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("install: keys must be strings")
			}
			b, ok := item[1].(starlark.Bool)
			if !ok {
				return nil, fmt.Errorf("install[%s]: value must be a bool", name)
			}
			out[name] = bool(b)
		}
		return out, nil
	case starlark.Iterable:
		iter := x.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			name, ok := starlark.AsString(item)
			if !ok {
				return nil, fmt.Errorf("install: members must be strings")
			}
			out[name] = true
		}
		return out, nil
	default:
		return nil, fmt.Errorf("install must be a dict or a list of strings, got %s", v.Type())
	}
}

// unpackCommand mirrors the reference Run decree's single "command" kwarg,
// which accepts either a shell one-liner (string) or a direct argv
// (iterable of strings, no shell involved).
func unpackCommand(v starlark.Value) (shell string, args []string, err error) {
	switch x := v.(type) {
	case starlark.String:
		return string(x), nil, nil
	case *starlark.List, starlark.Tuple:
		iter := x.(starlark.Iterable).Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			s, ok := starlark.AsString(item)
			if !ok {
				return "", nil, fmt.Errorf("command: members must be strings")
			}
			args = append(args, s)
		}
		if len(args) == 0 {
			return "", nil, fmt.Errorf("command: argv form must not be empty")
		}
		return "", args, nil
	default:
		return "", nil, fmt.Errorf("command must be a string or a list of strings, got %s", v.Type())
	}
}

func builtinFile() *starlark.Builtin {
	return starlark.NewBuiltin("File", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			target     string
			owner      = ""
			mode       = "644"
			source     = ""
			contents   starlark.Value
			makeDirs   bool
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("File", args, kwargs,
			"target", &target,
			"owner?", &owner,
			"mode?", &mode,
			"source?", &source,
			"contents?", &contents,
			"make_dirs?", &makeDirs,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		c, err := unpackContents(contents)
		if err != nil {
			return nil, err
		}
		file, line := callerPos(thread)
		node, err := decree.NewFile(file, line, target, owner, mode, source, c, makeDirs)
		if err != nil {
			return nil, err
		}
		return finish(thread, node, activateIf)
	})
}

func builtinRecursiveFiles() *starlark.Builtin {
	return starlark.NewBuiltin("RecursiveFiles", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			target     string
			owner      = ""
			mode       = "644"
			source     string
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("RecursiveFiles", args, kwargs,
			"target", &target,
			"source", &source,
			"owner?", &owner,
			"mode?", &mode,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		file, line := callerPos(thread)
		node, err := decree.NewRecursiveFiles(file, line, target, owner, mode, source)
		if err != nil {
			return nil, err
		}
		return finish(thread, node, activateIf)
	})
}

func builtinSymlink() *starlark.Builtin {
	return starlark.NewBuiltin("Symlink", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			target     string
			owner      = ""
			contents   string
			force      bool
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("Symlink", args, kwargs,
			"target", &target,
			"contents", &contents,
			"owner?", &owner,
			"force?", &force,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		file, line := callerPos(thread)
		node, err := decree.NewSymlink(file, line, target, owner, contents, force)
		if err != nil {
			return nil, err
		}
		return finish(thread, node, activateIf)
	})
}

func builtinDirectory() *starlark.Builtin {
	return starlark.NewBuiltin("Directory", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			target     string
			owner      = ""
			mode       = "755"
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("Directory", args, kwargs,
			"target", &target,
			"owner?", &owner,
			"mode?", &mode,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		file, line := callerPos(thread)
		node, err := decree.NewDirectory(file, line, target, owner, mode)
		if err != nil {
			return nil, err
		}
		return finish(thread, node, activateIf)
	})
}

func builtinPermissions() *starlark.Builtin {
	return starlark.NewBuiltin("Permissions", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			target     string
			owner      = ""
			mode       = ""
			missingOK  bool
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("Permissions", args, kwargs,
			"target", &target,
			"owner?", &owner,
			"mode?", &mode,
			"missing_ok?", &missingOK,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		file, line := callerPos(thread)
		node, err := decree.NewPermissions(file, line, target, owner, mode, missingOK)
		if err != nil {
			return nil, err
		}
		return finish(thread, node, activateIf)
	})
}

func builtinDelete() *starlark.Builtin {
	return starlark.NewBuiltin("Delete", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			target     string
			force      bool
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("Delete", args, kwargs,
			"target", &target,
			"force?", &force,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		file, line := callerPos(thread)
		node := decree.NewDelete(file, line, target, force)
		return finish(thread, node, activateIf)
	})
}

func builtinPackages(runner decree.CommandRunner) *starlark.Builtin {
	return starlark.NewBuiltin("Packages", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			install    starlark.Value
			purge      starlark.Value
			recommends starlark.Value
			update     = true
			clean      = false
			gentle     = false
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("Packages", args, kwargs,
			"install", &install,
			"purge?", &purge,
			"recommends?", &recommends,
			"update?", &update,
			"clean?", &clean,
			"gentle?", &gentle,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		inst, err := unpackInstall(install)
		if err != nil {
			return nil, err
		}
		p, err := unpackOptionalBool(purge)
		if err != nil {
			return nil, err
		}
		r, err := unpackOptionalBool(recommends)
		if err != nil {
			return nil, err
		}
		file, line := callerPos(thread)
		node := decree.NewPackages(file, line, inst, p, r, update, clean, gentle, runner)
		return finish(thread, node, activateIf)
	})
}

func builtinService(runner decree.CommandRunner) *starlark.Builtin {
	return starlark.NewBuiltin("Service", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			unit       string
			reload     bool
			restart    bool
			enable     starlark.Value
			active     starlark.Value
			mask       starlark.Value
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("Service", args, kwargs,
			"unit", &unit,
			"reload?", &reload,
			"restart?", &restart,
			"enable?", &enable,
			"active?", &active,
			"mask?", &mask,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		en, err := unpackOptionalBool(enable)
		if err != nil {
			return nil, err
		}
		ac, err := unpackOptionalBool(active)
		if err != nil {
			return nil, err
		}
		ma, err := unpackOptionalBool(mask)
		if err != nil {
			return nil, err
		}
		file, line := callerPos(thread)
		node, err := decree.NewService(file, line, unit, reload, restart, en, ac, ma, runner)
		if err != nil {
			return nil, err
		}
		return finish(thread, node, activateIf)
	})
}

func builtinRun(runner decree.CommandRunner) *starlark.Builtin {
	return starlark.NewBuiltin("Run", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			command    starlark.Value
			activateIf starlark.Value
		)
		if err := starlark.UnpackArgs("Run", args, kwargs,
			"command", &command,
			"activate_if?", &activateIf,
		); err != nil {
			return nil, err
		}
		shell, cmdArgs, err := unpackCommand(command)
		if err != nil {
			return nil, err
		}
		// Run's own static ActivateIf field predates the generic
		// activate_if mechanism and only accepts a plain bool; a callable
		// activate_if is instead attached afterward through finish, same
		// as every other decree kind.
		var staticActivateIf *bool
		if b, ok := activateIf.(starlark.Bool); ok {
			v := bool(b)
			staticActivateIf = &v
			activateIf = nil
		}
		file, line := callerPos(thread)
		node, err := decree.NewRun(file, line, shell, cmdArgs, staticActivateIf, runner)
		if err != nil {
			return nil, err
		}
		return finish(thread, node, activateIf)
	})
}

// namedChildren builds the ordered NamedNode list Group/Policy want directly
// from kwargs, since Starlark preserves call-site keyword order in kwargs
// even though the StringDict a whole file evaluates to does not.
func namedChildren(fnname string, kwargs []starlark.Tuple) ([]decree.NamedNode, error) {
	members := make([]decree.NamedNode, 0, len(kwargs))
	for _, kv := range kwargs {
		name, ok := starlark.AsString(kv[0])
		if !ok {
			return nil, fmt.Errorf("%s: invalid keyword", fnname)
		}
		h, ok := kv[1].(*decree.Handle)
		if !ok {
			return nil, fmt.Errorf("%s: %s must be a decree, got %s", fnname, name, kv[1].Type())
		}
		members = append(members, decree.NamedNode{Name: name, Node: h})
	}
	return members, nil
}

func builtinGroup() *starlark.Builtin {
	return starlark.NewBuiltin("Group", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("Group takes only keyword arguments")
		}
		members, err := namedChildren("Group", kwargs)
		if err != nil {
			return nil, err
		}
		node := decree.NewGroup(members)
		return finish(thread, node, nil)
	})
}

func builtinPolicy() *starlark.Builtin {
	return starlark.NewBuiltin("Policy", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("Policy takes only keyword arguments")
		}
		members, err := namedChildren("Policy", kwargs)
		if err != nil {
			return nil, err
		}
		node := decree.NewPolicy(members)
		return finish(thread, node, nil)
	})
}

// decreeBuiltins assembles the predeclared constructor functions a policy
// program sees for every decree kind spec.md §4.6 lists. Packages, Service,
// and Run close over runner so tests can substitute a fake CommandRunner.
func decreeBuiltins(runner decree.CommandRunner) starlark.StringDict {
	return starlark.StringDict{
		"File":           builtinFile(),
		"RecursiveFiles": builtinRecursiveFiles(),
		"Symlink":        builtinSymlink(),
		"Directory":      builtinDirectory(),
		"Permissions":    builtinPermissions(),
		"Delete":         builtinDelete(),
		"Packages":       builtinPackages(runner),
		"Service":        builtinService(runner),
		"Run":            builtinRun(runner),
		"Group":          builtinGroup(),
		"Policy":         builtinPolicy(),
	}
}
