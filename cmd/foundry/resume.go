package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/foundry/internal/orchestrator"
	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/retry"
)

var decisionFlags []string

var resumeCmd = &cobra.Command{
	Use:   "resume <request.yaml>",
	Short: "Answer escalations and continue a suspended run",
	Long: `Resume a run that suspended on exhausted retry budgets. Every open
escalation needs a decision.

Decisions take the form <phase>/<subject>=<resolution>[:guidance] with one
of the resolutions: retry-with-guidance, manual-fix-and-continue,
accept-and-skip, abort.

Examples:
  foundry resume --state run.json \
    --decision feature-build/auth/builder=retry-with-guidance:"pin the dependency" \
    request.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringArrayVar(&decisionFlags, "decision", nil,
		"escalation decision as <phase>/<subject>=<resolution>[:guidance] (repeatable)")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	req, err := request.Load(args[0])
	if err != nil {
		return err
	}
	state, err := orchestrator.LoadState(stateFile)
	if err != nil {
		return err
	}
	decisions, err := parseDecisions(decisionFlags)
	if err != nil {
		return err
	}

	engine, cleanup, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	startMetrics(cfg, log)

	resumed, runErr := engine.Resume(cmd.Context(), req, state, decisions)
	if resumed != nil {
		if err := orchestrator.SaveState(resumed, stateFile); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "state not saved: %v\n", err)
		}
	}
	return report(cmd, resumed, runErr)
}

// parseDecisions parses repeated --decision flags into a key/decision map.
func parseDecisions(flags []string) (map[string]retry.Decision, error) {
	decisions := make(map[string]retry.Decision, len(flags))
	for _, raw := range flags {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("malformed decision %q: want <phase>/<subject>=<resolution>[:guidance]", raw)
		}
		resolution, guidance, _ := strings.Cut(value, ":")

		valid := false
		for _, opt := range retry.ResolutionOptions() {
			if retry.Resolution(resolution) == opt {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("unknown resolution %q in %q", resolution, raw)
		}
		decisions[key] = retry.Decision{
			Resolution: retry.Resolution(resolution),
			Guidance:   guidance,
		}
	}
	return decisions, nil
}
