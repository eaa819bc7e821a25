package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/flowplan/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	// Commands report their own failures; only usage errors are printed here.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
