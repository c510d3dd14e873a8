// Command httpstream streams one or more URLs into a cache backend,
// reporting progress as the bytes arrive.
//
// Usage:
//
//	httpstream get [options] URL...
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	app := &cli.App{
		Name:    "httpstream",
		Usage:   "Stream HTTP downloads into memory, files or Redis",
		Version: version,
		Commands: []*cli.Command{
			getCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}

		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
