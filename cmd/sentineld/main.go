// Command sentineld runs either half of the fleet configuration control
// plane: "sentineld controller" serves the admin and agent endpoints,
// "sentineld agent" maintains one reconnecting session against a
// controller. Bare "sentineld" defaults to controller mode.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentineld/autocracy/internal/cluster/agent"
	"github.com/sentineld/autocracy/internal/cluster/server"
	"github.com/sentineld/autocracy/internal/config"
	"github.com/sentineld/autocracy/internal/decree"
	"github.com/sentineld/autocracy/internal/facts"
	"github.com/sentineld/autocracy/internal/logging"
	"github.com/sentineld/autocracy/internal/store"
	"github.com/sentineld/autocracy/internal/tracing"
)

var version = "dev"
var commit = "unknown"

func versionString() string {
	if commit != "" && commit != "unknown" {
		return version + " (" + commit + ")"
	}
	return version
}

func main() {
	mode := "controller"
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "controller", "agent":
			mode = os.Args[1]
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	cfgPath := os.Getenv("SENTINEL_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogJSON)
	fmt.Println("sentineld " + versionString())
	fmt.Printf("mode: %s\n", mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		log.Error("failed to create base_dir", "error", err)
		os.Exit(1)
	}

	lockPath := filepath.Join(cfg.BaseDir, mode+".lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		log.Error("failed to acquire instance lock", "path", lockPath, "error", err)
		os.Exit(1)
	}
	if !locked {
		log.Error("another sentineld instance already holds the lock", "path", lockPath)
		os.Exit(1)
	}
	defer fl.Unlock()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: "sentineld-" + mode,
	})
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	if cfg.MetricsEnabled {
		go serveMetrics(log)
	}

	if mode == "agent" {
		runAgent(ctx, cfg, log)
		return
	}
	runController(ctx, cfg, log)
}

func serveMetrics(log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe("127.0.0.1:9090", mux); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics listener stopped", "error", err)
	}
}

func runController(ctx context.Context, cfg *config.Config, log *logging.Logger) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	agentTLS, err := loadServerTLS(cfg)
	if err != nil {
		log.Error("failed to load TLS material", "error", err)
		os.Exit(1)
	}

	stopWatch, err := cfg.WatchFile(os.Getenv("SENTINEL_CONFIG"), func(format string, args ...any) {
		log.Info(fmt.Sprintf(format, args...))
	})
	if err == nil {
		defer stopWatch()
	}

	srv := server.New(cfg, db, agentTLS, decree.OSCommandRunner{}, log.Logger)
	if err := srv.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("controller stopped", "error", err)
		os.Exit(1)
	}
}

func loadServerTLS(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.TLSCACert)
	if err != nil {
		return nil, fmt.Errorf("reading client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates parsed from %s", cfg.TLSCACert)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.VerifyClientCertIfGiven,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func runAgent(ctx context.Context, cfg *config.Config, log *logging.Logger) {
	tlsCfg, err := loadAgentTLS(cfg)
	if err != nil {
		log.Error("failed to load TLS material", "error", err)
		os.Exit(1)
	}

	a, err := agent.New(agent.Config{
		ServerURL:            cfg.ServerURL,
		TLSConfig:            tlsCfg,
		MaxConnectInterval:   cfg.MaxConnectInterval(),
		MaxPretensesInterval: cfg.MaxPretensesInterval(),
		CollectFacts:         facts.Collect,
		Runner:               decree.OSCommandRunner{},
		Log:                  log.Logger,
	})
	if err != nil {
		log.Error("failed to start agent", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("agent stopped", "error", err)
		os.Exit(1)
	}
}

func loadAgentTLS(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("loading client certificate: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.TLSCACert)
	if err != nil {
		return nil, fmt.Errorf("reading server CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates parsed from %s", cfg.TLSCACert)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
