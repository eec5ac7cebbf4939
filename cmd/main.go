package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/regq/internal/shared"
	"github.com/urfave/cli/v3"
)

var version = "0.1.0"

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:     "regq",
		Usage:    "Lease-based task queue and dataset workers over a patch-only catalogue",
		Version:  version,
		Flags:    globalFlags(),
		Before:   r.Before,
		After:    r.After,
		Commands: r.register(),
	}
}

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(runner).Run(ctx, os.Args); err != nil {
		var exitErr cli.ExitCoder
		switch {
		case errors.As(err, &exitErr):
			os.Exit(exitErr.ExitCode())
		default:
			logger.Fatalf("application error: %v", err)
		}
	}
}
