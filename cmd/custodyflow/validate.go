package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/custodychain/custodyflow/pkg/config"
	"github.com/custodychain/custodyflow/pkg/log"
	"github.com/custodychain/custodyflow/pkg/registry"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a workflow file and report rejected workflows",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workflows",
				Aliases: []string{"w"},
				Usage:   "Path to a JSON or YAML workflow file",
				Sources: cli.EnvVars("WORKFLOWS_FILE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: validateWorkflows,
	}
}

func validateWorkflows(_ context.Context, command *cli.Command) error {
	logger := log.Setup(command.String("log-level"))

	path := command.String("workflows")
	if path == "" {
		path = command.Args().First()
	}

	if path == "" {
		return cli.Exit("a workflow file is required (--workflows or argument)", 2)
	}

	workflows, err := config.LoadWorkflowFile(path)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	result := registry.NewRegistry(logger).Load(workflows)
	out := command.Root().Writer

	_, _ = fmt.Fprintf(out, "%d workflow(s) accepted, %d rejected\n", result.Accepted, len(result.Rejected))

	for _, rejected := range result.Rejected {
		_, _ = fmt.Fprintf(out, "  %s:\n    - %s\n", rejected.WorkflowID, strings.Join(rejected.Problems, "\n    - "))
	}

	if len(result.Rejected) > 0 {
		return cli.Exit("workflow file has rejected workflows", 1)
	}

	return nil
}
