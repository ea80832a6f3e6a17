// Package main is the entry point for the clink CLI, a bridge to
// external AI agents (codex, gemini, claude, ...) running as
// subprocesses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"clink/internal/continuation"
	"clink/internal/launcher"
	"clink/internal/logging"
	"clink/internal/orchestrator"
	"clink/internal/registry"
	"clink/internal/roles"
	"clink/internal/telemetry"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// RolesPathEnv overrides the role manifest directory.
const RolesPathEnv = "CLINK_ROLES_PATH"

func init() {
	// Load .env for any additional env vars
	_ = godotenv.Load()
}

// app carries the wired dependencies into command Run methods.
type app struct {
	cli      *CLI
	log      *logging.Logger
	registry *registry.Registry
	roles    *roles.Store
	store    continuation.Store
	orch     *orchestrator.Orchestrator

	configPaths []string
	shutdown    func(context.Context) error
	cleanup     func()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("clink"),
		kong.Description("Bridge requests to external CLI agents as subprocesses."),
		kong.UsageOnError(),
		kongVars(),
	)

	if ctx.Command() == "version" {
		fmt.Printf("clink version %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return
	}

	a, err := buildApp(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clink: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := ctx.Run(a); err != nil {
		fmt.Fprintf(os.Stderr, "clink: %v\n", err)
		os.Exit(1)
	}
}

// buildApp wires logging, tracing, configuration, and the stores.
func buildApp(cli *CLI) (*app, error) {
	log := logging.New()
	switch cli.LogLevel {
	case "debug":
		log.SetLevel(logging.LevelDebug)
	case "warn":
		log.SetLevel(logging.LevelWarn)
	case "error":
		log.SetLevel(logging.LevelError)
	}

	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:  cli.Trace,
		Exporter: "stdout",
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	configPaths := cli.Config
	if len(configPaths) == 0 {
		configPaths = registry.SearchPaths(builtinConfigDir())
	}
	agents, err := registry.Load(configPaths...)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(agents)
	if err != nil {
		return nil, err
	}

	roleStore, err := loadRoles(cli.RolesDir)
	if err != nil {
		return nil, err
	}

	var store continuation.Store
	var cleanup func()
	if cli.Store == "sqlite" {
		path := cli.DB
		if path == "" {
			path = defaultDBPath()
		}
		sqlStore, err := continuation.NewSQLiteStore(continuation.SQLiteConfig{Path: path})
		if err != nil {
			return nil, fmt.Errorf("open continuation store: %w", err)
		}
		store = sqlStore
		cleanup = func() { sqlStore.CloseStore() }
	} else {
		memStore := continuation.NewMemoryStore(continuation.MemoryConfig{Logger: log})
		store = memStore
		cleanup = memStore.StopSweeper
	}

	orch := orchestrator.New(reg, roleStore, launcher.New(log), store, log, orchestrator.Options{
		RoleFallback: true,
	})

	return &app{
		cli:         cli,
		log:         log,
		registry:    reg,
		roles:       roleStore,
		store:       store,
		orch:        orch,
		configPaths: configPaths,
		shutdown:    shutdown,
		cleanup:     cleanup,
	}, nil
}

func (a *app) close() {
	if a.cleanup != nil {
		a.cleanup()
	}
	if a.shutdown != nil {
		a.shutdown(context.Background())
	}
}

// loadRoles reads role manifests from the configured directory. A
// missing directory is not an error: agents without roles still run
// with a bare prompt through the implicit default template.
func loadRoles(dir string) (*roles.Store, error) {
	if dir == "" {
		dir = os.Getenv(RolesPathEnv)
	}
	if dir == "" {
		dir = filepath.Join(builtinConfigDir(), "..", "roles")
	}
	if _, err := os.Stat(dir); err != nil {
		return roles.NewStore(nil)
	}
	templates, err := roles.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return roles.NewStore(templates)
}

// builtinConfigDir locates the conf/agents directory shipped next to
// the binary, falling back to the working directory layout.
func builtinConfigDir() string {
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Join(filepath.Dir(exe), "conf", "agents")
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
	}
	return filepath.Join("conf", "agents")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "clink.db"
	}
	dir := filepath.Join(home, ".clink")
	os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, "continuations.db")
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
