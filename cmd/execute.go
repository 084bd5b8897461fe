// Package cmd contains the knoll binary's command routing and wiring.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/knollbase/knoll/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute routes the command line to a subcommand. Designed to be
// called from main() with all application logic in this package.
func Execute() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "version", "--version", "-v":
		printVersion()
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	case "migrate":
		initLogger()
		return runMigrate()
	case "serve":
		initLogger()
		return runServe()
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", command)
	}
}

// initLogger installs the default structured logger. DEBUG in the
// environment lowers the level; KNOLL_LOG_JSON switches to JSON output.
func initLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	if os.Getenv("KNOLL_LOG_JSON") != "" {
		cfg.JSON = true
	}
	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}

func printVersion() {
	fmt.Printf("knoll v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println(`knoll - multi-tenant document knowledge base with chat

Usage:
  knoll [command]

Commands:
  serve     Start the HTTP API server (default)
  migrate   Apply pending database migrations and exit
  version   Show version information
  help      Show this help

Environment:
  GEMINI_API_KEY   Google AI API key (required for serve)
  DATABASE_URL     PostgreSQL URL (overrides postgres_* config keys)
  KNOLL_*          Overrides any config key, e.g. KNOLL_LISTEN_ADDR
  DEBUG            Enable debug logging
  KNOLL_LOG_JSON   Log in JSON format`)
}
