// Command radstore runs the record store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/radstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "radstore:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
