package policy

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/sentineld/autocracy/internal/value"
)

// factsValue adapts internal/value.Value onto the Starlark value
// interfaces, giving a policy program's "facts" binding exactly the ghost
// semantics spec.md §4.5 describes: unknown key lookup, indexing,
// attribute access, iteration, and even calling all return an absorptive,
// falsy placeholder instead of raising. Every reachable piece of the
// wrapped fact tree — not just the root — is itself a factsValue, so
// "facts.network.vlan" chains through two levels of Absent when "network"
// was never collected.
type factsValue struct {
	v value.Value
}

func newFactsValue(facts map[string]any) starlark.Value {
	return wrap(value.FromAny(map[string]any(facts)))
}

func wrap(v value.Value) starlark.Value {
	return &factsValue{v: v}
}

var (
	_ starlark.Value     = (*factsValue)(nil)
	_ starlark.HasAttrs  = (*factsValue)(nil)
	_ starlark.Mapping   = (*factsValue)(nil)
	_ starlark.Indexable = (*factsValue)(nil)
	_ starlark.Sequence  = (*factsValue)(nil)
	_ starlark.Callable  = (*factsValue)(nil)
)

func (fv *factsValue) String() string         { return fv.v.AsString() }
func (fv *factsValue) Type() string           { return "facts" }
func (fv *factsValue) Freeze()                {}
func (fv *factsValue) Truth() starlark.Bool   { return starlark.Bool(fv.v.Truth()) }
func (fv *factsValue) Hash() (uint32, error)  { return 0, fmt.Errorf("facts: unhashable") }
func (fv *factsValue) Len() int               { return fv.v.Len() }
func (fv *factsValue) Name() string           { return "facts" }

// Attr implements dotted access (facts.hostname); an absent value answers
// every attribute with Absent rather than erroring, the way the reference
// "Ghost" object does. A present non-map value has no attributes.
func (fv *factsValue) Attr(name string) (starlark.Value, error) {
	switch fv.v.Kind() {
	case value.KindMap:
		return wrap(fv.v.Get(name)), nil
	case value.KindAbsent:
		return wrap(value.Absent), nil
	default:
		return nil, nil
	}
}

func (fv *factsValue) AttrNames() []string {
	return fv.v.Keys()
}

// Get implements subscript access (facts["hostname"]). found is always
// true for map/absent values: a missing key chains to Absent rather than
// raising a KeyError.
func (fv *factsValue) Get(key starlark.Value) (starlark.Value, bool, error) {
	switch fv.v.Kind() {
	case value.KindMap, value.KindAbsent:
		s, ok := starlark.AsString(key)
		if !ok {
			return nil, false, fmt.Errorf("facts: map keys must be strings")
		}
		return wrap(fv.v.Get(s)), true, nil
	default:
		return nil, false, nil
	}
}

// Index implements facts.some_list[0]; out-of-range and non-list access
// both resolve to Absent rather than panicking or raising IndexError.
func (fv *factsValue) Index(i int) starlark.Value {
	return wrap(fv.v.Index(i))
}

// Iterate implements `for x in facts.some_list`; non-list values (include
// Absent) iterate zero times.
func (fv *factsValue) Iterate() starlark.Iterator {
	if fv.v.Kind() != value.KindList {
		return &emptyIterator{}
	}
	items := make([]value.Value, fv.v.Len())
	for i := range items {
		items[i] = fv.v.Index(i)
	}
	return &listIterator{items: items}
}

type emptyIterator struct{}

func (*emptyIterator) Next(*starlark.Value) bool { return false }
func (*emptyIterator) Done()                     {}

type listIterator struct {
	items []value.Value
	i     int
}

func (it *listIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.items) {
		return false
	}
	*p = wrap(it.items[it.i])
	it.i++
	return true
}

func (it *listIterator) Done() {}

// CallInternal implements the ghost's "any method call returns itself"
// rule: facts.some_optional_accessor() never raises, even though nothing
// about a plain fact value is ordinarily callable. Calling a concrete
// (non-absent) value is still an error, matching ordinary Starlark
// semantics for non-callable values.
func (fv *factsValue) CallInternal(*starlark.Thread, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	if fv.v.IsAbsent() {
		return fv, nil
	}
	return nil, fmt.Errorf("facts: value is not callable")
}
