// Package config loads the controller/agent configuration the way the
// teacher's own config layer does: a Config struct populated from
// environment variables with env* helpers, a Validate() pass, and an
// RWMutex around fields that are hot-reloaded at runtime. A TOML file
// (BurntSushi/toml, the way gascity loads its tree) is layered underneath
// the environment — env vars always win. The controller process watches
// the file with fsnotify and re-reads admin_users/max_connect_interval/
// max_pretenses_interval/dry_run into the Config on every write; the agent
// process reads its intervals once at startup and does not watch the file.
package config

import (
	"fmt"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// fileConfig is the shape of the optional TOML config file. Field names
// match the configuration keys spec.md §7 names for the controller/agent.
type fileConfig struct {
	BaseDir             string   `toml:"base_dir"`
	Port                int      `toml:"port"`
	AdminUsers          []string `toml:"admin_users"`
	ControlSocketPath   string   `toml:"control_socket_path"`
	RepositoryRoot      string   `toml:"repository_root"`
	TLSCert             string   `toml:"tls_cert"`
	TLSKey              string   `toml:"tls_key"`
	TLSCACert           string   `toml:"tls_ca_cert"`
	DropPrivilegesUser  string   `toml:"user"`
	ServerURL           string   `toml:"server_url"`
	MaxConnectInterval  string   `toml:"max_connect_interval"`
	MaxPretensesInterval string  `toml:"max_pretenses_interval"`
	DryRun              bool     `toml:"dry_run"`
	DBPath              string   `toml:"db_path"`
	LogJSON             bool     `toml:"log_json"`
	MetricsEnabled      bool     `toml:"metrics_enabled"`
	TracingEnabled      bool     `toml:"tracing_enabled"`
}

// Config holds controller/agent configuration. Mutable fields (AdminUsers,
// MaxConnectInterval, MaxPretensesInterval, DryRun) are protected by an
// RWMutex and must be accessed via getter/setter methods at runtime, since
// session goroutines read them while a config-file reload may write them.
type Config struct {
	// Filesystem/network layout
	BaseDir           string
	Port              int
	ControlSocketPath string
	RepositoryRoot    string

	// TLS
	TLSCert   string
	TLSKey    string
	TLSCACert string

	// Agent-only
	ServerURL string

	// Process
	DropPrivilegesUser string

	// Storage
	DBPath string

	// Logging
	LogJSON bool

	MetricsEnabled bool
	TracingEnabled bool

	mu                   sync.RWMutex
	adminUsers           map[string]bool
	maxConnectInterval   time.Duration
	maxPretensesInterval time.Duration
	dryRun               bool
}

// NewTestConfig creates a Config with sensible defaults for testing.
func NewTestConfig() *Config {
	c := &Config{
		BaseDir:              "/tmp/sentineld",
		Port:                 8443,
		ControlSocketPath:    "/tmp/sentineld/control",
		RepositoryRoot:       "/tmp/sentineld",
		maxConnectInterval:   60 * time.Second,
		maxPretensesInterval: 5 * time.Minute,
	}
	c.adminUsers = currentUIDSet()
	return c
}

// Load reads configuration from an optional TOML file, then layers
// environment variables on top (env always wins). path may be empty, in
// which case only the environment and built-in defaults apply.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c := &Config{
		BaseDir:            firstNonEmpty(envStr("SENTINEL_BASE_DIR", ""), fc.BaseDir, "/var/lib/sentineld"),
		Port:               envInt("SENTINEL_PORT", firstNonZeroInt(fc.Port, 443)),
		ControlSocketPath:  firstNonEmpty(envStr("SENTINEL_CONTROL_SOCKET", ""), fc.ControlSocketPath),
		RepositoryRoot:     firstNonEmpty(envStr("SENTINEL_REPOSITORY_ROOT", ""), fc.RepositoryRoot),
		TLSCert:            firstNonEmpty(envStr("SENTINEL_TLS_CERT", ""), fc.TLSCert),
		TLSKey:             firstNonEmpty(envStr("SENTINEL_TLS_KEY", ""), fc.TLSKey),
		TLSCACert:          firstNonEmpty(envStr("SENTINEL_TLS_CA_CERT", ""), fc.TLSCACert),
		ServerURL:          firstNonEmpty(envStr("SENTINEL_SERVER_URL", ""), fc.ServerURL),
		DropPrivilegesUser: firstNonEmpty(envStr("SENTINEL_USER", ""), fc.DropPrivilegesUser),
		DBPath:             firstNonEmpty(envStr("SENTINEL_DB_PATH", ""), fc.DBPath, "/var/lib/sentineld/sentineld.db"),
		LogJSON:            envBool("SENTINEL_LOG_JSON", fc.LogJSON),
		MetricsEnabled:     envBool("SENTINEL_METRICS", fc.MetricsEnabled),
		TracingEnabled:     envBool("SENTINEL_TRACING", fc.TracingEnabled),
	}
	if c.ControlSocketPath == "" {
		c.ControlSocketPath = c.BaseDir + "/control"
	}
	if c.RepositoryRoot == "" {
		c.RepositoryRoot = c.BaseDir
	}

	c.maxConnectInterval = envDuration("SENTINEL_MAX_CONNECT_INTERVAL", parseDurationDefault(fc.MaxConnectInterval, 60*time.Second))
	c.maxPretensesInterval = envDuration("SENTINEL_MAX_PRETENSES_INTERVAL", parseDurationDefault(fc.MaxPretensesInterval, 5*time.Minute))
	c.dryRun = envBool("SENTINEL_DRY_RUN", fc.DryRun)

	users := fc.AdminUsers
	if v := os.Getenv("SENTINEL_ADMIN_USERS"); v != "" {
		users = strings.Split(v, ",")
	}
	c.adminUsers = adminUserSet(users)

	return c, nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseDir == "" {
		errs = append(errs, fmt.Errorf("base_dir must be set"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Port))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, fmt.Errorf("tls_cert and tls_key must both be set or both empty"))
	}
	if c.MaxConnectInterval() <= 0 {
		errs = append(errs, fmt.Errorf("max_connect_interval must be > 0"))
	}
	if c.MaxPretensesInterval() <= 0 {
		errs = append(errs, fmt.Errorf("max_pretenses_interval must be > 0"))
	}
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// Values returns all configuration as a string map for display.
func (c *Config) Values() map[string]string {
	return map[string]string{
		"base_dir":               c.BaseDir,
		"port":                   strconv.Itoa(c.Port),
		"control_socket_path":    c.ControlSocketPath,
		"repository_root":        c.RepositoryRoot,
		"tls_cert":               redactPath(c.TLSCert),
		"tls_key":                redactPath(c.TLSKey),
		"db_path":                c.DBPath,
		"log_json":               fmt.Sprintf("%t", c.LogJSON),
		"metrics_enabled":        fmt.Sprintf("%t", c.MetricsEnabled),
		"tracing_enabled":        fmt.Sprintf("%t", c.TracingEnabled),
		"max_connect_interval":   c.MaxConnectInterval().String(),
		"max_pretenses_interval": c.MaxPretensesInterval().String(),
		"dry_run":                fmt.Sprintf("%t", c.DryRun()),
		"admin_users":            strings.Join(c.AdminUsers(), ","),
	}
}

// IsAdminUser reports whether uid (as a decimal string) is authorized on
// the control socket.
func (c *Config) IsAdminUser(uid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adminUsers[uid]
}

// AdminUsers returns the currently configured admin uids, sorted for
// deterministic display.
func (c *Config) AdminUsers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.adminUsers))
	for u := range c.adminUsers {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// SetAdminUsers replaces the admin uid set (thread-safe), used by the
// config-file hot-reload watcher.
func (c *Config) SetAdminUsers(names []string) {
	c.mu.Lock()
	c.adminUsers = adminUserSet(names)
	c.mu.Unlock()
}

func (c *Config) MaxConnectInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxConnectInterval
}

func (c *Config) SetMaxConnectInterval(d time.Duration) {
	c.mu.Lock()
	c.maxConnectInterval = d
	c.mu.Unlock()
}

func (c *Config) MaxPretensesInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxPretensesInterval
}

func (c *Config) SetMaxPretensesInterval(d time.Duration) {
	c.mu.Lock()
	c.maxPretensesInterval = d
	c.mu.Unlock()
}

func (c *Config) DryRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dryRun
}

func (c *Config) SetDryRun(b bool) {
	c.mu.Lock()
	c.dryRun = b
	c.mu.Unlock()
}

// Reload re-reads path and applies the hot-reloadable fields in place,
// leaving fields that require a process restart (BaseDir, Port, TLS
// material) untouched even if the file changed them.
func (c *Config) Reload(path string) error {
	fresh, err := Load(path)
	if err != nil {
		return err
	}
	c.SetAdminUsers(fresh.AdminUsers())
	c.SetMaxConnectInterval(fresh.MaxConnectInterval())
	c.SetMaxPretensesInterval(fresh.MaxPretensesInterval())
	c.SetDryRun(fresh.DryRun())
	return nil
}

// WatchFile watches path with fsnotify and calls Reload on every write
// event, debounced the way gascity's watchConfigDirs coalesces editor
// atomic-saves into a single reload. Returns a cleanup function; if the
// watcher cannot be created, reloads simply never happen and err is
// returned so the caller can log it.
func (c *Config) WatchFile(path string, log func(format string, args ...any)) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return func() {}, fmt.Errorf("config: watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					if err := c.Reload(path); err != nil && log != nil {
						log("config reload failed: %v", err)
					}
				})
				_ = ev
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() { watcher.Close(); <-done }, nil
}

func adminUserSet(names []string) map[string]bool {
	set := map[string]bool{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, err := strconv.Atoi(n); err == nil {
			set[n] = true
			continue
		}
		if u, err := user.Lookup(n); err == nil {
			set[u.Uid] = true
		}
	}
	if len(set) == 0 {
		return currentUIDSet()
	}
	return set
}

func currentUIDSet() map[string]bool {
	if u, err := user.Current(); err == nil {
		return map[string]bool{u.Uid: true}
	}
	return map[string]bool{}
}

func redactPath(s string) string {
	if s != "" {
		return "(set)"
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZeroInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func parseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
