// Command consolidate merges the lead, transaction and web activity exports
// into one customer table plus a rejection log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/lead-consolidator/internal/config"
	"github.com/ignite/lead-consolidator/internal/consolidator"
	"github.com/ignite/lead-consolidator/internal/pkg/distlock"
	"github.com/ignite/lead-consolidator/internal/pkg/logger"
)

// Exit codes. exitLocked follows EX_TEMPFAIL so schedulers can retry.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
	exitLocked = 75
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("consolidate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config/config.yaml", "path to the YAML config file")
	dryRun := fs.Bool("dry-run", false, "consolidate and report without writing outputs")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "FATAL: load config: %v\n", err)
		return exitUsage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "FATAL: invalid config: %v\n", err)
		return exitUsage
	}

	logger.SetOutput(stderr)
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())
	log := logger.Default()

	runner, closeAll, err := consolidator.FromConfig(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize consolidator", "error", err)
		return exitFailed
	}
	defer closeAll()

	if _, err := runner.Run(ctx, *dryRun); err != nil {
		if errors.Is(err, distlock.ErrRunInProgress) {
			return exitLocked
		}
		return exitFailed
	}
	return exitOK
}
