// Package cmd implements lspmux's CLI surface with urfave/cli/v3, the
// framework the teacher project uses for its own binary (cmd/tally/cmd).
package cmd

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/lspmux/internal/version"
)

// Exit codes (spec.md §6): 0 on clean shutdown, nonzero on configuration
// error or fatal transport failure.
const (
	ExitOK            = 0
	ExitConfigError   = 2
	ExitTransportFail = 3
)

// NewApp creates the lspmux CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "lspmux",
		Usage:   "Multiplex one editor client across several LSP backends",
		Version: version.Version(),
		Description: `lspmux sits between a single editor client (stdio JSON-RPC)
and one or more backend language servers, presenting the illusion of a
single server while fanning traffic across several backends.

Examples:
  lspmux run backends.json
  lspmux validate backends.json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
			versionCommand(),
		},
	}
}

// Execute runs the CLI application.
func Execute() error {
	return NewApp().Run(context.Background(), os.Args)
}
