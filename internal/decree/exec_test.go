package decree

import (
	"context"
	"fmt"
)

// fakeRunner is a scripted CommandRunner: each (name, joined args) gets a
// canned response, and every invocation is recorded for assertions.
type fakeRunner struct {
	outputs map[string]fakeOutput
	runs    map[string]fakeRun
	calls   []fakeCall
}

type fakeOutput struct {
	out string
	err error
}

type fakeRun struct {
	out  string
	code int
	err  error
}

type fakeCall struct {
	name string
	args []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]fakeOutput{}, runs: map[string]fakeRun{}}
}

func key(name string, args []string) string {
	return fmt.Sprintf("%s %v", name, args)
}

func (r *fakeRunner) Output(_ context.Context, name string, args []string, _ []string) (string, error) {
	r.calls = append(r.calls, fakeCall{name, args})
	if o, ok := r.outputs[key(name, args)]; ok {
		return o.out, o.err
	}
	return "", nil
}

func (r *fakeRunner) Run(_ context.Context, name string, args []string) (string, int, error) {
	r.calls = append(r.calls, fakeCall{name, args})
	if rr, ok := r.runs[key(name, args)]; ok {
		return rr.out, rr.code, rr.err
	}
	return "", 0, nil
}
