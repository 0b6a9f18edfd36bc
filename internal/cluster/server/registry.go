// Package server implements the controller orchestrator: admission of
// agent and admin WebSocket connections, the live agents[CN] registry, the
// admin RPC surface, and the per-agent apply/dry_run dispatch algorithm.
package server

import (
	"sync"

	"github.com/sentineld/autocracy/internal/session"
)

// agentEntry is the controller's live view of one connected agent.
type agentEntry struct {
	cn    string
	sess  *session.Session
	mu    sync.Mutex
	facts map[string]any
}

func (e *agentEntry) setFacts(f map[string]any) {
	e.mu.Lock()
	e.facts = f
	e.mu.Unlock()
}

func (e *agentEntry) getFacts() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.facts
}

// Registry is the controller's agents[CN] table (spec.md §4.3). Registering
// a CN that is already present replaces the old entry, matching "graceful
// takeover": the caller is responsible for tearing down the superseded
// session before or after replacing it.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agentEntry
}

func NewRegistry() *Registry {
	return &Registry{agents: map[string]*agentEntry{}}
}

// Put registers sess under cn, returning the previous entry for that CN (if
// any) so the caller can close its superseded connection.
func (r *Registry) Put(cn string, sess *session.Session) *agentEntry {
	e := &agentEntry{cn: cn, sess: sess}
	r.mu.Lock()
	old := r.agents[cn]
	r.agents[cn] = e
	r.mu.Unlock()
	return old
}

// Remove deregisters cn, but only if entry is still the live one (a
// takeover may already have replaced it).
func (r *Registry) Remove(cn string, entry *agentEntry) {
	r.mu.Lock()
	if cur, ok := r.agents[cn]; ok && cur == entry {
		delete(r.agents, cn)
	}
	r.mu.Unlock()
}

// Get returns the live entry for cn, if connected.
func (r *Registry) Get(cn string) (*agentEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[cn]
	return e, ok
}

// Online returns every currently connected CN.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for cn := range r.agents {
		out = append(out, cn)
	}
	return out
}

// Count returns the number of live agent sessions, for the
// sentinel_agents_connected gauge.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
