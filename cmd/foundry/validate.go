package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/foundry/internal/graph"
	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/taxonomy"
	"github.com/fyrsmithlabs/foundry/internal/wave"
)

var validateCmd = &cobra.Command{
	Use:   "validate <request.yaml>",
	Short: "Validate a request and print its wave plan",
	Long: `Validate a build request without dispatching anything. Every problem in
the file is reported, not just the first. On a valid request the computed
dependency waves are printed.

Examples:
  foundry validate request.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	req, err := request.Load(args[0])
	if err != nil {
		return err
	}

	if err := request.Validate(req); err != nil {
		printViolations(cmd, err)
		return err
	}

	g, err := graph.Build(req.Features)
	if err != nil {
		printViolations(cmd, err)
		return err
	}
	waves, err := wave.Schedule(g)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "request %q: %d feature(s), %d wave(s)\n", req.Name, g.Len(), len(waves))
	for _, w := range waves {
		fmt.Fprintf(cmd.OutOrStdout(), "  wave %d: %s\n", w.Index, strings.Join(w.Features, ", "))
	}
	return nil
}

func printViolations(cmd *cobra.Command, err error) {
	var verr *taxonomy.ValidationError
	if !errors.As(err, &verr) {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d problem(s):\n", len(verr.Violations))
	for _, v := range verr.Violations {
		if v.Feature != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s: %s\n", v.Feature, v.Field, v.Message)
			continue
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", v.Field, v.Message)
	}
}
