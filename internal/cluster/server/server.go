package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sentineld/autocracy/internal/config"
	"github.com/sentineld/autocracy/internal/decree"
	"github.com/sentineld/autocracy/internal/metrics"
	"github.com/sentineld/autocracy/internal/session"
	"github.com/sentineld/autocracy/internal/store"
)

// agentUpgrader compresses frames for agent connections; adminUpgrader does
// not, matching spec.md §4.3's "admin sessions use non-compressed frames".
var (
	agentUpgrader = websocket.Upgrader{EnableCompression: true}
	adminUpgrader = websocket.Upgrader{EnableCompression: false}
)

// Server is the controller orchestrator: it admits agent and admin
// WebSocket sessions, keeps the agents[CN] registry, and dispatches
// apply/dry_run across resolved targets.
type Server struct {
	cfg   *config.Config
	store *store.Store
	reg   *Registry
	log   *slog.Logger
	runner decree.CommandRunner

	agentTLS *tls.Config

	mu        sync.Mutex
	tlsSrv    *http.Server
	adminSrv  *http.Server
	adminLis  net.Listener
}

// New builds a Server. agentTLS must have its ClientCAs pool set to the CA
// that issues agent leaf certificates and ClientAuth set so unauthenticated
// connections are still accepted at the TLS layer (admission itself decides
// whether to admit them, per spec.md §4.3).
func New(cfg *config.Config, st *store.Store, agentTLS *tls.Config, runner decree.CommandRunner, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		reg:      NewRegistry(),
		log:      log.With("component", "cluster-server"),
		runner:   runner,
		agentTLS: agentTLS,
	}
}

// Registry exposes the live agent table for external inspection (metrics,
// admin tooling embedded in the same process).
func (s *Server) Registry() *Registry { return s.reg }

// connKey stashes the raw net.Conn for a request so admission can inspect
// socket peer credentials on the admin listener.
type connKeyType struct{}

var connKey connKeyType

func withConn(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, connKey, c)
}

func connFromContext(ctx context.Context) (net.Conn, bool) {
	c, ok := ctx.Value(connKey).(net.Conn)
	return c, ok
}

// Start listens on the agent mTLS port and the admin unix socket, serving
// both until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	agentMux := http.NewServeMux()
	agentMux.HandleFunc("/", s.handleAgentUpgrade)

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/", s.handleAdminUpgrade)

	agentLis, err := tls.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port), s.agentTLS)
	if err != nil {
		return fmt.Errorf("server: listen agent port: %w", err)
	}

	if err := removeStaleSocket(s.cfg.ControlSocketPath); err != nil {
		agentLis.Close()
		return err
	}
	adminLis, err := net.Listen("unix", s.cfg.ControlSocketPath)
	if err != nil {
		agentLis.Close()
		return fmt.Errorf("server: listen control socket: %w", err)
	}

	s.mu.Lock()
	s.tlsSrv = &http.Server{Handler: agentMux}
	s.adminSrv = &http.Server{
		Handler:     adminMux,
		ConnContext: withConn,
	}
	s.adminLis = adminLis
	s.mu.Unlock()

	errCh := make(chan error, 2)
	go func() { errCh <- s.tlsSrv.Serve(agentLis) }()
	go func() { errCh <- s.adminSrv.Serve(adminLis) }()

	s.log.Info("controller listening", "agent_port", s.cfg.Port, "control_socket", s.cfg.ControlSocketPath)

	select {
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop closes both listeners and their open connections immediately,
// without waiting for in-flight requests to finish.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tlsSrv != nil {
		s.tlsSrv.Close()
	}
	if s.adminSrv != nil {
		s.adminSrv.Close()
	}
}

func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := net.Dial("unix", path); err == nil {
		return fmt.Errorf("server: control socket %s already has a live listener", path)
	}
	_ = removeFile(path)
	return nil
}

// handleAgentUpgrade admits a connection on the mTLS agent port. Per
// spec.md §4.3, a singleton CN must be present in the peer's certificate
// chain; anything else is rejected before any route is wired up.
func (s *Server) handleAgentUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		http.Error(w, "client certificate required", http.StatusForbidden)
		return
	}
	cn, err := singletonCN(r.TLS.PeerCertificates)
	if err != nil {
		s.log.Warn("agent admission rejected", "error", err)
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	conn, err := agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("agent websocket upgrade failed", "cn", cn, "error", err)
		return
	}

	s.runAgentSession(r.Context(), cn, conn)
}

// handleAdminUpgrade admits a connection on the local control socket. Per
// spec.md §4.3, only a uid present in admin_users may pass.
func (s *Server) handleAdminUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, ok := connFromContext(r.Context())
	if !ok {
		http.Error(w, "admin endpoint requires the control socket", http.StatusForbidden)
		return
	}
	uid, err := peerUID(conn)
	if err != nil {
		s.log.Warn("admin admission: peer credential lookup failed", "error", err)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.cfg.IsAdminUser(uid) {
		s.log.Warn("admin admission rejected: uid not in admin_users", "uid", uid)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	wsConn, err := adminUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("admin websocket upgrade failed", "error", err)
		return
	}

	s.runAdminSession(r.Context(), wsConn)
}

// singletonCN extracts the one Common Name carried by the peer's leaf
// certificate, rejecting zero or multiple.
func singletonCN(certs []*x509.Certificate) (string, error) {
	if len(certs) == 0 {
		return "", fmt.Errorf("no client certificate presented")
	}
	cnCount := 0
	for _, atv := range certs[0].Subject.Names {
		if atv.Type.Equal(asn1.ObjectIdentifier{2, 5, 4, 3}) {
			cnCount++
		}
	}
	if cnCount > 1 {
		return "", fmt.Errorf("client certificate carries %d Common Names, want exactly one", cnCount)
	}
	cn := certs[0].Subject.CommonName
	if cn == "" {
		return "", fmt.Errorf("client certificate has an empty Common Name")
	}
	return cn, nil
}

func (s *Server) runAgentSession(ctx context.Context, cn string, wsConn *websocket.Conn) {
	sess := session.New(wsConn, session.Routes{
		"pretenses": {Mode: session.Immediate, Handler: s.handlePretenses(cn)},
	}, s.log.With("agent", cn))

	old := s.reg.Put(cn, sess)
	var entry *agentEntry
	if e, ok := s.reg.Get(cn); ok && e.sess == sess {
		entry = e
	}
	if old != nil {
		s.log.Warn("superseded stale session", "cn", cn)
		old.sess.Close()
	}
	metrics.AgentsConnected.Set(float64(s.reg.Count()))
	s.log.Info("agent connected", "cn", cn)

	err := sess.Serve(ctx)

	s.reg.Remove(cn, entry)
	metrics.AgentsConnected.Set(float64(s.reg.Count()))
	s.log.Info("agent disconnected", "cn", cn, "error", err)
}

// handlePretenses implements the agent-to-controller pretenses(factMap)
// route: store the reported facts in the registry's per-agent slot and
// persist a HostRecord snapshot, per spec.md §4.3 ("store only" — no
// immediate reapply is triggered).
func (s *Server) handlePretenses(cn string) session.Handler {
	return func(_ context.Context, args []json.RawMessage) ([]any, error) {
		if len(args) < 1 {
			return nil, fmt.Errorf("pretenses: missing fact map")
		}
		var facts map[string]any
		if err := json.Unmarshal(args[0], &facts); err != nil {
			return nil, fmt.Errorf("pretenses: decoding fact map: %w", err)
		}

		if entry, ok := s.reg.Get(cn); ok {
			entry.setFacts(facts)
		}
		if err := s.store.SaveHost(cn, facts); err != nil {
			s.log.Warn("failed to persist host record", "cn", cn, "error", err)
		}
		return nil, nil
	}
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
