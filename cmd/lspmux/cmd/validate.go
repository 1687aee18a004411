package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wharflab/lspmux/internal/config"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a backend configuration file without starting any backend",
		ArgsUsage: "<config.json>",
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				fmt.Fprintln(os.Stderr, "Error: exactly one config file argument is required")
				return cli.Exit("", ExitConfigError)
			}
			backends, err := config.LoadBackends(cmd.Args().Slice()[0])
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				return cli.Exit("", ExitConfigError)
			}
			fmt.Printf("OK: %d backend(s) configured, primary=%s\n", len(backends), primaryDescription(backends[0]))
			return nil
		},
	}
}

func primaryDescription(b config.BackendConfig) string {
	if b.IsTCP() {
		return fmt.Sprintf("%s:%d", b.EffectiveHost(), b.Port)
	}
	return b.Cmd
}
