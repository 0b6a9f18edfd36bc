package policy

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"

	"github.com/sentineld/autocracy/internal/decree"
)

// TagSet is the membership set of one tag: every CN it names. Vanilla
// Starlark has no set literal (Python's {"h1","h2"} in the reference
// tags.py), so a tag here is defined as a top-level list-of-strings
// binding in tags.star; duplicates collapse when it's compiled into a
// TagSet.
type TagSet map[string]bool

// LoadTagSets evaluates tags.star and returns every top-level list-of-
// strings binding as a TagSet keyed by its binding name, for the
// controller's "@tag" target expansion (spec.md §4.3).
func LoadTagSets(repo decree.Repository) (map[string]TagSet, error) {
	l := newLoader(repo, nil)

	const entry = "tags.star"
	content, err := repo.GetFile(entry)
	if err != nil {
		return nil, fmt.Errorf("policy: tags: %w", err)
	}

	globals, err := starlark.ExecFile(l.thread, entry, content, l.predeclared)
	if err != nil {
		return nil, wrapStarlarkErr(entry, err)
	}

	return extractTagSets(globals)
}

func extractTagSets(globals starlark.StringDict) (map[string]TagSet, error) {
	out := map[string]TagSet{}
	for name, v := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		list, ok := v.(*starlark.List)
		if !ok {
			continue
		}
		set := TagSet{}
		iter := list.Iterate()
		var item starlark.Value
		for iter.Next(&item) {
			cn, ok := starlark.AsString(item)
			if !ok {
				iter.Done()
				return nil, fmt.Errorf("policy: tags: %s: members must be strings", name)
			}
			set[cn] = true
		}
		iter.Done()
		out[name] = set
	}
	return out, nil
}

// CompileTagBooleans projects every known tag set down to a single
// membership boolean for subject, the form a policy program's namespace
// actually sees (spec.md §4.5 step 1: "tag values that are sets are
// compiled into booleans {tagName: (cn ∈ set)}").
func CompileTagBooleans(tagSets map[string]TagSet, subject string) map[string]bool {
	out := make(map[string]bool, len(tagSets))
	for name, set := range tagSets {
		out[name] = set[subject]
	}
	return out
}

// ExpandTag returns the sorted CN membership of a named tag, for resolving
// an admin apply's "@tagName" target entries (spec.md §4.3).
func ExpandTag(tagSets map[string]TagSet, name string) ([]string, bool) {
	set, ok := tagSets[name]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(set))
	for cn := range set {
		out = append(out, cn)
	}
	sort.Strings(out)
	return out, true
}
