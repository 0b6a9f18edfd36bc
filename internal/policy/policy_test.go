package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/sentineld/autocracy/internal/rpcerr"
)

// fakeRepo is a minimal in-memory decree.Repository for exercising the
// loader without touching a real filesystem.
type fakeRepo struct {
	files map[string][]byte
}

func newFakeRepo(files map[string]string) *fakeRepo {
	m := make(map[string][]byte, len(files))
	for k, v := range files {
		m[k] = []byte(v)
	}
	return &fakeRepo{files: m}
}

func (r *fakeRepo) GetFile(path string) ([]byte, error) {
	content, ok := r.files[path]
	if !ok {
		return nil, errors.New("no such file: " + path)
	}
	return content, nil
}

func (r *fakeRepo) GetFiles(path string) (map[string][]byte, error) {
	out := map[string][]byte{}
	for k, v := range r.files {
		out[k] = v
	}
	return out, nil
}

type fakeRunner struct{}

func (fakeRunner) Output(context.Context, string, []string, []string) (string, error) {
	return "", nil
}

func (fakeRunner) Run(context.Context, string, []string) (string, int, error) {
	return "", 0, nil
}

func TestLoadPolicyBasicDecrees(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"tags.star": ``,
		"policy.star": `
motd = File(target="/etc/motd", contents="hello\n")
group = Group(motd=motd, cleanup=Delete(target="/tmp/stale"))
`,
	})

	policy, err := LoadPolicy(repo, "host1.example.com", nil, fakeRunner{})
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	members := policy.Members()
	if len(members) != 2 {
		t.Fatalf("expected 2 top-level members, got %d: %v", len(members), members)
	}
	names := map[string]bool{}
	for _, m := range members {
		names[m.Name] = true
	}
	if !names["motd"] || !names["group"] {
		t.Errorf("expected motd and group bindings, got %v", names)
	}
}

func TestLoadPolicyDuplicateIncludeFails(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"tags.star": ``,
		"common.star": `
shared = Delete(target="/tmp/shared")
`,
		"policy.star": `
a = include("common")
b = include("common")
`,
	})

	_, err := LoadPolicy(repo, "host1", nil, fakeRunner{})
	if err == nil {
		t.Fatalf("expected an error for duplicate include")
	}
	var dup *rpcerr.DuplicateInclude
	if !errors.As(err, &dup) {
		t.Fatalf("expected *rpcerr.DuplicateInclude, got %T: %v", err, err)
	}
}

func TestLoadPolicyRequireToleratesRepeat(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"tags.star": ``,
		"common.star": `
shared = Delete(target="/tmp/shared")
`,
		"policy.star": `
a = require("common")
b = require("common")
root = Group(only=Delete(target="/tmp/only"))
`,
	})

	policy, err := LoadPolicy(repo, "host1", nil, fakeRunner{})
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(policy.Members()) != 1 {
		t.Fatalf("expected only the root group bound at top level, got %v", policy.Members())
	}
}

func TestLoadPolicySyntaxErrorIsPolicyLoad(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"tags.star":   ``,
		"policy.star": "this is not valid starlark (((",
	})

	_, err := LoadPolicy(repo, "host1", nil, fakeRunner{})
	if err == nil {
		t.Fatalf("expected a syntax error")
	}
	var pl *rpcerr.PolicyLoad
	if !errors.As(err, &pl) {
		t.Fatalf("expected *rpcerr.PolicyLoad, got %T: %v", err, err)
	}
}

func TestLoadPolicyTagBooleanAcceptedAsActivateIf(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"tags.star": `
webservers = ["host1.example.com", "host2.example.com"]
`,
		"policy.star": `
root = Group(nginx=Service(unit="nginx.service", activate_if=webservers))
`,
	})

	policy, err := LoadPolicy(repo, "host3.example.com", nil, fakeRunner{})
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(policy.Members()) != 1 {
		t.Fatalf("expected 1 member, got %v", policy.Members())
	}
}

func TestLoadPolicyFactsGhostNeverRaises(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"tags.star": ``,
		"policy.star": `
vlan = facts.network.vlan
present = Group(
    known=Delete(target="/tmp/known", activate_if=bool(facts.hostname)),
    unknown=Delete(target="/tmp/unknown", activate_if=bool(facts.nonexistent.deeply.nested)),
)
`,
	})

	_, err := LoadPolicy(repo, "host1", map[string]any{"hostname": "host1"}, fakeRunner{})
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
}

func TestExtractTagSetsIgnoresUnderscoreAndNonLists(t *testing.T) {
	repo := newFakeRepo(map[string]string{
		"tags.star": `
_helper = ["ignored"]
webservers = ["h1", "h2"]
count = 3
`,
	})
	sets, err := LoadTagSets(repo)
	if err != nil {
		t.Fatalf("LoadTagSets: %v", err)
	}
	if _, ok := sets["_helper"]; ok {
		t.Errorf("expected underscore-prefixed binding to be skipped")
	}
	if _, ok := sets["count"]; ok {
		t.Errorf("expected non-list binding to be skipped")
	}
	ws, ok := sets["webservers"]
	if !ok || !ws["h1"] || !ws["h2"] {
		t.Errorf("expected webservers = {h1, h2}, got %v", ws)
	}
}

func TestExpandTagSortsMembers(t *testing.T) {
	sets := map[string]TagSet{"webservers": {"h2": true, "h1": true, "h3": true}}
	members, ok := ExpandTag(sets, "webservers")
	if !ok {
		t.Fatalf("expected webservers to be found")
	}
	want := []string{"h1", "h2", "h3"}
	if len(members) != len(want) {
		t.Fatalf("expected %v, got %v", want, members)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Errorf("expected %v, got %v", want, members)
		}
	}
}

func TestCompileTagBooleansMembershipPerSubject(t *testing.T) {
	sets := map[string]TagSet{"webservers": {"h1": true}}
	booleans := CompileTagBooleans(sets, "h1")
	if !booleans["webservers"] {
		t.Errorf("expected h1 to be a member of webservers")
	}
	booleans = CompileTagBooleans(sets, "h2")
	if booleans["webservers"] {
		t.Errorf("expected h2 not to be a member of webservers")
	}
}
