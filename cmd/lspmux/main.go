// Command lspmux multiplexes one stdio editor client across several backend
// language servers.
package main

import (
	"fmt"
	"os"

	"github.com/wharflab/lspmux/cmd/lspmux/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lspmux:", err)
		os.Exit(1)
	}
}
