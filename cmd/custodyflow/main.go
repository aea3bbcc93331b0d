package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "custodyflow",
		Usage:                 "Automate chain-of-custody workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunCommand(),
			ValidateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
