package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/sentineld/autocracy/internal/policy"
	"github.com/sentineld/autocracy/internal/repository"
	"github.com/sentineld/autocracy/internal/session"
)

func (s *Server) runAdminSession(ctx context.Context, wsConn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	quitCh := make(chan struct{}, 1)
	routes := session.Routes{
		"online": {Mode: session.Immediate, Handler: s.handleOnline},
		"report": {Mode: session.Immediate, Handler: s.handleReport},
		"apply":  {Mode: session.Background, Handler: s.handleApplyRoute(false)},
		"dry_run": {Mode: session.Background, Handler: s.handleApplyRoute(true)},
		"quit": {Mode: session.Immediate, Handler: func(context.Context, []json.RawMessage) ([]any, error) {
			select {
			case quitCh <- struct{}{}:
			default:
			}
			return nil, nil
		}},
	}

	sess := session.New(wsConn, routes, s.log.With("component", "admin-session"))

	done := make(chan error, 1)
	go func() { done <- sess.Serve(ctx) }()

	select {
	case <-quitCh:
		s.log.Info("admin requested controller shutdown")
		s.Stop()
	case err := <-done:
		if err != nil {
			s.log.Debug("admin session ended", "error", err)
		}
	}
}

func (s *Server) handleOnline(context.Context, []json.RawMessage) ([]any, error) {
	online := s.reg.Online()
	sort.Strings(online)
	return []any{online}, nil
}

func (s *Server) handleReport(_ context.Context, args []json.RawMessage) ([]any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("report: missing agent name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return nil, fmt.Errorf("report: agent name: %w", err)
	}

	entry, ok := s.reg.Get(name)
	if !ok {
		return []any{nil}, nil
	}
	return []any{entry.getFacts()}, nil
}

func (s *Server) handleApplyRoute(dryRun bool) session.Handler {
	return func(ctx context.Context, args []json.RawMessage) ([]any, error) {
		names := make([]string, len(args))
		for i, a := range args {
			if err := json.Unmarshal(a, &names[i]); err != nil {
				return nil, fmt.Errorf("apply: target %d: %w", i, err)
			}
		}

		targets, err := s.resolveTargets(names)
		if err != nil {
			return nil, err
		}

		result := s.applyAll(ctx, targets, dryRun)
		return []any{result}, nil
	}
}

// resolveTargets expands names per spec.md §4.3: a literal CN matches an
// online agent directly, a @tag reference expands via the tags definition
// loaded once from the repository for this call, and an empty list means
// "all currently connected agents." Unknown tags are skipped with a
// warning, not an error. Names and tag members with no live session are
// dropped. Duplicates collapse.
func (s *Server) resolveTargets(names []string) ([]string, error) {
	if len(names) == 0 {
		return s.reg.Online(), nil
	}

	var tagSets map[string]policy.TagSet
	loadTagsOnce := func() (map[string]policy.TagSet, error) {
		if tagSets != nil {
			return tagSets, nil
		}
		repo := repository.NewLocal(s.cfg.RepositoryRoot)
		sets, err := policy.LoadTagSets(repo)
		if err != nil {
			return nil, fmt.Errorf("apply: loading tags: %w", err)
		}
		tagSets = sets
		return tagSets, nil
	}

	seen := map[string]bool{}
	var out []string
	add := func(cn string) {
		if _, online := s.reg.Get(cn); !online {
			return
		}
		if !seen[cn] {
			seen[cn] = true
			out = append(out, cn)
		}
	}

	for _, name := range names {
		if tag, ok := cutTag(name); ok {
			sets, err := loadTagsOnce()
			if err != nil {
				return nil, err
			}
			members, ok := policy.ExpandTag(sets, tag)
			if !ok {
				s.log.Warn("apply: unknown tag, skipping", "tag", tag)
				continue
			}
			for _, cn := range members {
				add(cn)
			}
			continue
		}
		add(name)
	}

	sort.Strings(out)
	return out, nil
}

// cutTag reports whether name is a @tag reference, returning the tag name
// with its sigil stripped.
func cutTag(name string) (string, bool) {
	if len(name) > 1 && name[0] == '@' {
		return name[1:], true
	}
	return "", false
}

// applyAll dispatches a per-agent apply concurrently across targets,
// collecting results without letting one target's error cancel its
// siblings (spec.md §4.3 "Fan-out is concurrent").
func (s *Server) applyAll(ctx context.Context, targets []string, dryRun bool) map[string]any {
	result := map[string]any{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, cn := range targets {
		cn := cn
		g.Go(func() error {
			r := s.applyOne(gctx, cn, dryRun)
			mu.Lock()
			result[cn] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}
