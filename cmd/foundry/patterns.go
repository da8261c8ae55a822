package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/foundry/internal/patternbank"
	"github.com/fyrsmithlabs/foundry/internal/request"
)

var patternsRole string

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect and maintain the learned pattern store",
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored patterns with their current confidence",
	Long: `List learned patterns. Confidence is computed at read time; patterns
below the suggestion threshold are shown but marked withheld.

Examples:
  foundry patterns list
  foundry patterns list --role builder`,
	RunE: runPatternsList,
}

var patternsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete flagged false-memory patterns",
	RunE:  runPatternsPrune,
}

var patternsPerfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Summarize recorded outcomes per role",
	RunE:  runPatternsPerf,
}

func init() {
	patternsListCmd.Flags().StringVar(&patternsRole, "role", "", "filter by source role")
	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsPruneCmd)
	patternsCmd.AddCommand(patternsPerfCmd)
}

func openBank() (*patternbank.Service, *patternbank.LocalStore, func(), error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, nil, nil, err
	}
	local, err := patternbank.OpenLocal(cfg.Store.LocalPath)
	if err != nil {
		return nil, nil, nil, err
	}
	svc, err := patternbank.NewService(local, nil, log.Underlying())
	if err != nil {
		local.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		local.Close()
		log.Sync()
	}
	return svc, local, cleanup, nil
}

func runPatternsList(cmd *cobra.Command, _ []string) error {
	_, local, cleanup, err := openBank()
	if err != nil {
		return err
	}
	defer cleanup()

	patterns, err := local.ListPatterns(cmd.Context(), request.Role(patternsRole))
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no patterns stored")
		return nil
	}

	now := time.Now()
	for _, p := range patterns {
		conf := p.Confidence(now)
		status := "withheld"
		switch {
		case conf >= patternbank.ConfidenceAutoApply:
			status = "auto-apply"
		case conf >= patternbank.ConfidenceSuggest:
			status = "suggest"
		}
		flag := ""
		if p.FalseMemory {
			flag = " [false-memory]"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s conf=%3d freq=%-3d %-10s %s%s\n",
			p.SourceRole, conf, p.Frequency, status, p.Description, flag)
	}
	return nil
}

func runPatternsPerf(cmd *cobra.Command, _ []string) error {
	svc, _, cleanup, err := openBank()
	if err != nil {
		return err
	}
	defer cleanup()

	perf, err := svc.Performance(cmd.Context())
	if err != nil {
		return err
	}
	if len(perf) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no patterns stored")
		return nil
	}
	for _, p := range perf {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s patterns=%-4d ok=%-4d failed=%-4d success=%.0f%%\n",
			p.Role, p.Patterns, p.Successes, p.Failures, p.SuccessRate*100)
	}
	return nil
}

func runPatternsPrune(cmd *cobra.Command, _ []string) error {
	svc, _, cleanup, err := openBank()
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := svc.Prune(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %d pattern(s)\n", n)
	return nil
}
