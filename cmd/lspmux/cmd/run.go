package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/lspmux/internal/backend"
	"github.com/wharflab/lspmux/internal/config"
	"github.com/wharflab/lspmux/internal/logging"
	"github.com/wharflab/lspmux/internal/router"
	"github.com/wharflab/lspmux/internal/transport"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Start the proxy against a backend configuration file",
		ArgsUsage: "<config.json>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				fmt.Fprintln(os.Stderr, "Error: exactly one config file argument is required")
				return cli.Exit("", ExitConfigError)
			}
			return runProxy(ctx, cmd.Args().Slice()[0], cmd.Root().Bool("verbose"))
		},
	}
}

func runProxy(ctx context.Context, configPath string, verbose bool) error {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading settings:", err)
		return cli.Exit("", ExitConfigError)
	}
	level := logging.ParseLevel(settings.LogLevel)
	if verbose {
		level = logging.LevelDebug
	}
	log := logging.New(os.Stderr, level)

	backendConfigs, err := config.LoadBackends(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		return cli.Exit("", ExitConfigError)
	}

	backends := make([]*backend.Backend, len(backendConfigs))
	for i, bc := range backendConfigs {
		backends[i] = backend.New(fmt.Sprintf("backend[%d]", i), bc, settings.BackendQueueSize, log)
	}

	r := router.New(backends, settings, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error starting backends:", err)
		return cli.Exit("", ExitTransportFail)
	}

	serveErr := r.Serve(ctx, transport.Stdio())
	if serveErr != nil {
		log.Debugf("client connection closed: %v", serveErr)
	}

	if !r.CleanExit() {
		return cli.Exit("", ExitTransportFail)
	}
	return cli.Exit("", ExitOK)
}
