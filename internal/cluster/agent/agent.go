// Package agent implements the fleet agent: it maintains a TLS WebSocket
// session with the controller, serves accept_files/discard_files/apply/
// dry_run on that session, and independently publishes host facts whenever
// they change. See rpc.py and client.py in the ported reference
// implementation for the protocol and state machine this mirrors.
package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentineld/autocracy/internal/decree"
	"github.com/sentineld/autocracy/internal/policy"
	"github.com/sentineld/autocracy/internal/session"
)

// Config holds everything an Agent needs to maintain its controller
// session.
type Config struct {
	// ServerURL is the wss:// endpoint the controller's admission endpoint
	// listens on.
	ServerURL string
	// TLSConfig carries the agent's client certificate and the
	// controller's CA pool; its leaf certificate's Common Name is also
	// this agent's subject identity for policy loading.
	TLSConfig *tls.Config

	// MaxConnectInterval caps the linear reconnect backoff (spec.md §4.2).
	// Defaults to 60s.
	MaxConnectInterval time.Duration
	// MaxPretensesInterval caps how far the facts-publishing interval
	// backs off when nothing has changed. Defaults to 5 minutes.
	MaxPretensesInterval time.Duration
	// PretensesCommand is the wire name used to publish facts, "pretenses"
	// by default (see SPEC_FULL.md's facts-collector-naming note).
	PretensesCommand string

	// CollectFacts overrides the default internal/facts.Collect collector,
	// for tests and for embedders with richer host introspection.
	CollectFacts func() (map[string]any, error)
	// Runner overrides decree.OSCommandRunner for Packages/Service/Run
	// decrees; nil means real subprocess execution.
	Runner decree.CommandRunner

	Log *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxConnectInterval <= 0 {
		c.MaxConnectInterval = 60 * time.Second
	}
	if c.MaxPretensesInterval <= 0 {
		c.MaxPretensesInterval = 5 * time.Minute
	}
	if c.PretensesCommand == "" {
		c.PretensesCommand = "pretenses"
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
}

// Agent runs the reconnect-with-backoff session loop against one
// controller.
type Agent struct {
	cfg     Config
	log     *slog.Logger
	subject string
	cache   *Cache
}

// New builds an Agent. The client certificate in cfg.TLSConfig must already
// be set; its leaf's Common Name becomes the subject this agent's policies
// are loaded under.
func New(cfg Config) (*Agent, error) {
	cfg.setDefaults()
	subject, err := leafCommonName(cfg.TLSConfig)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:     cfg,
		log:     cfg.Log,
		subject: subject,
		cache:   NewCache(),
	}, nil
}

func leafCommonName(tlsCfg *tls.Config) (string, error) {
	if tlsCfg == nil || len(tlsCfg.Certificates) == 0 {
		return "", fmt.Errorf("agent: TLSConfig must carry a client certificate")
	}
	leaf := tlsCfg.Certificates[0]
	cert, err := x509.ParseCertificate(leaf.Certificate[0])
	if err != nil {
		return "", fmt.Errorf("agent: parsing client certificate: %w", err)
	}
	if cert.Subject.CommonName == "" {
		return "", fmt.Errorf("agent: client certificate has no Common Name")
	}
	return cert.Subject.CommonName, nil
}

// Run dials the controller, serves sessions, and reconnects with backoff
// until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	bo := newBackoff(a.cfg.MaxConnectInterval)
	seenErrors := map[string]bool{}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		connStart := time.Now()
		err := a.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			msg := err.Error()
			if !seenErrors[msg] {
				a.log.Error("session ended", "error", err)
				seenErrors[msg] = true
			}
		} else {
			seenErrors = map[string]bool{}
		}

		if time.Since(connStart) > a.cfg.MaxConnectInterval {
			bo.reset()
		}

		wait := bo.next()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runSession dials one TLS WebSocket connection, runs the facts collector
// alongside the receive loop, and returns when either ends.
func (a *Agent) runSession(ctx context.Context) error {
	dialer := websocket.Dialer{
		TLSClientConfig:   a.cfg.TLSConfig,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, a.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	sess := session.New(conn, a.routes(), a.log)
	sess.OnBinary = func(_ context.Context, data []byte) {
		if err := a.cache.Bind(data); err != nil {
			a.log.Warn("binary frame", "error", err)
		}
	}

	// Connection established: the dedup set of distinct connect-error
	// messages is cleared by Run's "else" branch above once this call
	// returns nil, matching spec.md §4.2's "until a successful connection
	// clears the set".
	a.log.Info("connected to controller", "subject", a.subject)

	factsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		a.factsLoop(factsCtx, sess)
		close(done)
	}()

	err = sess.Serve(ctx)
	cancel()
	<-done
	return err
}

func (a *Agent) routes() session.Routes {
	return session.Routes{
		"accept_files":  {Mode: session.Immediate, Handler: a.handleAcceptFiles},
		"discard_files": {Mode: session.Immediate, Handler: a.handleDiscardFiles},
		"apply":         {Mode: session.Background, Handler: a.handleApply(false)},
		"dry_run":       {Mode: session.Background, Handler: a.handleApply(true)},
	}
}

// runApply loads the named policy against the cached repository view and
// runs it to completion, returning the root summary. The reference
// protocol's policy "name" argument selects among several named policy
// files; this build keeps exactly one policy.star per subject (see
// internal/policy), so name is accepted for wire compatibility and ignored.
func (a *Agent) runApply(ctx context.Context, name string, dryRun bool) (decree.Summary, error) {
	_ = name

	facts, err := a.collectFacts()
	if err != nil {
		return nil, fmt.Errorf("collecting facts: %w", err)
	}

	pol, err := policy.LoadPolicy(a.cache, a.subject, facts, a.cfg.Runner)
	if err != nil {
		return nil, err
	}

	pol.Provision(a.cache)
	return pol.Apply(ctx, dryRun)
}
