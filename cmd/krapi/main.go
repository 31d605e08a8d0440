// Package main is the entrypoint for the krapi administrative CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/krapi/krapi/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		// Commands emit their own formatted output; only surface errors that
		// escaped the formatter (flag parse errors and the like).
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
