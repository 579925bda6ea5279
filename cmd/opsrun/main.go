package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/opsrun/opsrun/config"
	"github.com/opsrun/opsrun/creds"
	"github.com/opsrun/opsrun/engine"
	"github.com/opsrun/opsrun/task"
)

var version = "dev"

// Exit codes: 0 success, 1 unhealthy run, 2 configuration problem.
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

// errRunFailed marks an unhealthy but correctly executed run.
var errRunFailed = errors.New("run failed")

var commands = map[string]func([]string) error{
	"run":          runRun,
	"task":         runTask,
	"health-check": runHealthCheck,
	"validate":     runValidate,
	"tasks":        runTasks,
	"pipelines":    runPipelines,
	"history":      runHistory,
}

func usage() {
	fmt.Fprintf(os.Stderr, `opsrun - declarative automation pipeline runner (version %s)

Usage:
  opsrun <command> [options]

Commands:
  run           Execute a pipeline definition
  task          Execute a single task definition
  health-check  Run a canned health check against named clusters
  validate      Check a pipeline definition without executing it
  tasks         List the available task types
  pipelines     List pipeline definitions in a directory
  history       Show recorded runs

Run 'opsrun <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitConfig)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(exitOK)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(exitOK)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(exitConfig)
	}

	if err := fn(os.Args[2:]); err != nil {
		if errors.Is(err, errRunFailed) {
			os.Exit(exitFailure)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, config.ErrConfiguration) {
			os.Exit(exitConfig)
		}
		os.Exit(exitFailure)
	}
}

// newLogger builds the process logger. Level comes from the -log-level
// flag value ("debug", "info", "warn", "error").
func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: invalid log level %q", config.ErrConfiguration, level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

// newEngine wires the registry and credential backends. The env backend
// is always available and is the default; vault joins the chain when
// VAULT_ADDR is set.
func newEngine(log *slog.Logger) (*engine.Engine, error) {
	registry := task.NewRegistry()
	if err := task.RegisterBuiltins(registry); err != nil {
		return nil, err
	}

	providers := []creds.Provider{creds.NewEnvProvider(creds.DefaultEnvPrefix)}
	if cfg := creds.VaultConfigFromEnv(); cfg.Address != "" {
		vault, err := creds.NewVaultProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: vault backend: %v", config.ErrConfiguration, err)
		}
		providers = append(providers, vault)
	}

	return engine.New(registry, creds.NewChain(providers...), log), nil
}
