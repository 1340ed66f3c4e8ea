// Command grl runs, checks and formats GRL rule files from the command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/liamcoop/grl/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// ExitErrors have already been rendered by the command.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
