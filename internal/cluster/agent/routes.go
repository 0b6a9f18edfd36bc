package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sentineld/autocracy/internal/repository"
	"github.com/sentineld/autocracy/internal/session"
)

func unmarshalStrings(args []json.RawMessage) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		if err := json.Unmarshal(a, &out[i]); err != nil {
			return nil, fmt.Errorf("argument %d: not a string: %w", i, err)
		}
	}
	return out, nil
}

// handleAcceptFiles implements accept_files(paths...): queue the given
// paths so the next binary frames received bind to them, in order.
func (a *Agent) handleAcceptFiles(_ context.Context, args []json.RawMessage) ([]any, error) {
	paths, err := unmarshalStrings(args)
	if err != nil {
		return nil, err
	}
	norm := make([]string, len(paths))
	for i, p := range paths {
		norm[i] = repository.NormalizePath(p)
	}
	a.cache.Accept(norm)
	return nil, nil
}

// handleDiscardFiles implements discard_files(paths...): drop the named
// paths from the local file cache.
func (a *Agent) handleDiscardFiles(_ context.Context, args []json.RawMessage) ([]any, error) {
	paths, err := unmarshalStrings(args)
	if err != nil {
		return nil, err
	}
	norm := make([]string, len(paths))
	for i, p := range paths {
		norm[i] = repository.NormalizePath(p)
	}
	a.cache.Discard(norm)
	return nil, nil
}

// handleApply implements apply(name)/dry_run(name): load the named policy
// against the cached repository view, provision and apply it off the
// session's receive loop (it already runs as a Background route), and
// report either the resulting summary or a formatted error as a
// "[{error: ...}]" result, per spec.md §4.2. Only a missing or non-string
// policy name argument is answered with an RPC-level error reply.
func (a *Agent) handleApply(dryRun bool) session.Handler {
	return func(ctx context.Context, args []json.RawMessage) ([]any, error) {
		var name string
		if len(args) < 1 {
			return nil, fmt.Errorf("apply: missing policy name")
		}
		if err := json.Unmarshal(args[0], &name); err != nil {
			return nil, fmt.Errorf("apply: policy name: %w", err)
		}

		result, err := a.runApply(ctx, name, dryRun)
		if err != nil {
			return []any{map[string]any{"error": err.Error()}}, nil
		}
		return []any{result}, nil
	}
}
