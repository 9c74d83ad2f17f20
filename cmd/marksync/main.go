// Command marksync is the local-first bookmark sync client and its
// development server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/marksync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands report their own ExitErrors; anything else comes from
		// cobra itself (unknown command, bad flag).
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
