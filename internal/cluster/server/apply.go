package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sentineld/autocracy/internal/decree"
	"github.com/sentineld/autocracy/internal/metrics"
	"github.com/sentineld/autocracy/internal/policy"
	"github.com/sentineld/autocracy/internal/repository"
	"github.com/sentineld/autocracy/internal/tracing"
)

var applyTracer = tracing.Tracer("cluster-server")

// applyOne runs the full per-agent apply algorithm for one target, per
// spec.md §4.3: a fresh repository view is loaded, a policy is compiled
// against the agent's last-known facts, the file diff against the
// previously accepted fingerprints is computed and pushed, and finally the
// agent is told to apply (or dry-run) the resulting decree tree.
func (s *Server) applyOne(ctx context.Context, cn string, dryRun bool) any {
	mode := "apply"
	if dryRun {
		mode = "dry_run"
	}

	correlationID := uuid.NewString()
	ctx, span := applyTracer.Start(ctx, "apply_one")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.cn", cn),
		attribute.Bool("dry_run", dryRun),
		attribute.String("correlation_id", correlationID),
	)
	log := s.log.With("correlation_id", correlationID, "cn", cn, "mode", mode)

	start := time.Now()
	result, err := s.doApplyOne(ctx, cn, dryRun)
	metrics.ApplyDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ApplyTotal.WithLabelValues(mode, outcome).Inc()
		log.Warn("apply dispatch failed", "error", err)
		return map[string]any{"error": err.Error()}
	}
	metrics.ApplyTotal.WithLabelValues(mode, outcome).Inc()
	log.Info("apply dispatch completed")
	return result
}

func (s *Server) doApplyOne(ctx context.Context, cn string, dryRun bool) (decree.Summary, error) {
	entry, ok := s.reg.Get(cn)
	if !ok {
		return nil, fmt.Errorf("agent %s is not connected", cn)
	}
	sess := entry.sess
	facts := entry.getFacts()

	repo := repository.NewLocal(s.cfg.RepositoryRoot)
	pol, err := policy.LoadPolicy(repo, cn, facts, s.runner)
	if err != nil {
		return nil, fmt.Errorf("loading policy for %s: %w", cn, err)
	}
	pol.Provision(repo)

	current := repo.Fingerprints()
	known, err := s.store.KnownFingerprints(cn)
	if err != nil {
		return nil, fmt.Errorf("loading known fingerprints for %s: %w", cn, err)
	}

	stale := diffStale(known, current)
	fresh := diffFresh(known, current)

	if len(stale) > 0 {
		if _, err := sess.RemoteCommand(ctx, "discard_files", stringsToArgs(stale), true, 30*time.Second); err != nil {
			return nil, fmt.Errorf("discard_files on %s: %w", cn, err)
		}
	}

	if len(fresh) > 0 {
		if _, err := sess.RemoteCommand(ctx, "accept_files", stringsToArgs(fresh), true, 30*time.Second); err != nil {
			return nil, fmt.Errorf("accept_files on %s: %w", cn, err)
		}
		for _, path := range fresh {
			data, err := repo.GetFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading %s for %s: %w", path, cn, err)
			}
			if err := sess.SendBinary(data); err != nil {
				return nil, fmt.Errorf("sending %s to %s: %w", path, cn, err)
			}
			metrics.FilesSent.Inc()
		}
	}

	if err := s.store.SetKnownFingerprints(cn, current); err != nil {
		return nil, fmt.Errorf("persisting fingerprints for %s: %w", cn, err)
	}

	cmd := "apply"
	if dryRun {
		cmd = "dry_run"
	}
	// The policy name argument mirrors the reference protocol's
	// rpc.apply(name), where name is the client's own identity; this
	// build keeps exactly one policy per subject (see internal/policy),
	// so the agent accepts and ignores it, but the wire shape still
	// requires an argument to be present.
	replies, err := sess.RemoteCommand(ctx, cmd, []any{cn}, true, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", cmd, cn, err)
	}

	summary, err := decodeApplySummary(replies)
	if err != nil {
		return nil, fmt.Errorf("decoding %s reply from %s: %w", cmd, cn, err)
	}
	recordDecreeOutcomes(summary)
	return summary, nil
}

// stringsToArgs spreads a path list into individual RemoteCommand
// arguments, matching accept_files/discard_files's *filenames wire shape
// (see the ported reference implementation's apply() in server.py) rather
// than packing the whole list into one JSON array argument.
func stringsToArgs(paths []string) []any {
	args := make([]any, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	return args
}

// diffStale returns paths present in known but no longer in current, sorted,
// matching spec.md §4.3's discard_files ordering.
func diffStale(known, current map[string]repository.Fingerprint) []string {
	var out []string
	for path := range known {
		if _, ok := current[path]; !ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// diffFresh returns paths in current whose fingerprint differs from (or is
// absent from) known, sorted, matching spec.md §4.3's accept_files ordering.
func diffFresh(known, current map[string]repository.Fingerprint) []string {
	var out []string
	for path, fp := range current {
		if known[path] != fp {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func decodeApplySummary(replies []json.RawMessage) (decree.Summary, error) {
	if len(replies) == 0 {
		return decree.Summary{}, nil
	}
	var summary decree.Summary
	if err := json.Unmarshal(replies[0], &summary); err != nil {
		return nil, fmt.Errorf("reply is not a decree summary object: %w", err)
	}
	return summary, nil
}

func recordDecreeOutcomes(summary decree.Summary) {
	for kind, raw := range summary {
		entry, ok := raw.(map[string]any)
		outcome := "applied"
		if ok {
			if e, ok := entry["error"]; ok && e != nil {
				outcome = "error"
			}
		}
		metrics.DecreeOutcomes.WithLabelValues(kind, outcome).Inc()
	}
}
