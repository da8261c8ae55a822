package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/foundry/internal/config"
	"github.com/fyrsmithlabs/foundry/internal/dispatch"
	"github.com/fyrsmithlabs/foundry/internal/events"
	"github.com/fyrsmithlabs/foundry/internal/integrate"
	"github.com/fyrsmithlabs/foundry/internal/logging"
	"github.com/fyrsmithlabs/foundry/internal/orchestrator"
	"github.com/fyrsmithlabs/foundry/internal/patternbank"
	"github.com/fyrsmithlabs/foundry/internal/request"
	"github.com/fyrsmithlabs/foundry/internal/retry"
	"github.com/fyrsmithlabs/foundry/internal/score"
	"github.com/fyrsmithlabs/foundry/internal/verify"
)

var stateFile string

var runCmd = &cobra.Command{
	Use:   "run <request.yaml>",
	Short: "Execute a build request end to end",
	Long: `Run the full pipeline for a request file: wave scheduling, worker
dispatch, ordered integration, verification, and quality scoring.

On exhausted retry budgets the run suspends and writes its state file; answer
the escalations with 'foundry resume'.

Examples:
  foundry run request.yaml
  foundry run --config foundry.yaml --state out/run.json request.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&stateFile, "state", "foundry-state.json", "run state file")
	resumeCmd.Flags().StringVar(&stateFile, "state", "foundry-state.json", "run state file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	req, err := request.Load(args[0])
	if err != nil {
		return err
	}

	engine, cleanup, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()
	startMetrics(cfg, log)

	state, runErr := engine.Run(cmd.Context(), req)
	if state != nil {
		if err := orchestrator.SaveState(state, stateFile); err != nil {
			log.Warn(cmd.Context(), "state not saved", zap.Error(err))
		}
	}
	return report(cmd, state, runErr)
}

// report prints the run outcome and maps suspension onto the exit status.
func report(cmd *cobra.Command, state *orchestrator.RunState, runErr error) error {
	if errors.Is(runErr, orchestrator.ErrAwaitingDecision) {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s suspended: %d escalation(s) need decisions\n",
			state.RunID, len(state.Escalations))
		for _, rec := range state.Escalations {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s/%s after %d attempts: %s\n",
				rec.Phase, rec.Subject, len(rec.Attempts), rec.LastDiagnostics)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "answer with: foundry resume --state %s --decision <phase/subject>=<resolution> <request.yaml>\n", stateFile)
		return runErr
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s completed: score %.2f (threshold %.2f), decision %s\n",
		state.RunID, state.Score.Overall, state.Score.Threshold, state.Score.Decision)
	for _, note := range state.Notes {
		fmt.Fprintf(cmd.OutOrStdout(), "  note: %s\n", note)
	}
	return nil
}

// buildEngine wires every engine dependency from config. The returned
// cleanup closes stores and connections.
func buildEngine(cfg *config.Config, log *logging.Logger) (*orchestrator.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*orchestrator.Engine, func(), error) {
		cleanup()
		return nil, nil, err
	}

	registry := dispatch.NewRegistry()
	for roleName, command := range cfg.Workers.Commands {
		worker, err := dispatch.NewCommandWorker(request.Role(roleName), strings.Fields(command))
		if err != nil {
			return fail(fmt.Errorf("workers.commands.%s: %w", roleName, err))
		}
		if err := registry.Register(worker); err != nil {
			return fail(err)
		}
	}

	bank, err := buildBank(cfg, log, &closers)
	if err != nil {
		return fail(err)
	}

	retries := retry.NewManager(budgetsFrom(cfg))
	dispatcher := dispatch.NewDispatcher(registry, retries, log, dispatch.Options{
		BranchPrefix: cfg.Dispatch.BranchPrefix,
		MaxParallel:  cfg.Dispatch.MaxParallel,
		LaunchRate:   cfg.Dispatch.LaunchRate,
		Hinter:       bank,
	})

	var line integrate.Line
	if cfg.Merge.RepoPath != "" {
		gitLine, err := integrate.OpenGitLine(cfg.Merge.RepoPath, cfg.Merge.Line)
		if err != nil {
			return fail(err)
		}
		line = gitLine
	} else {
		line = integrate.NewMemoryLine(cfg.Merge.Line)
	}

	pipeline, err := buildPipeline(cfg, log)
	if err != nil {
		return fail(err)
	}

	if cfg.Score.AssessCommand == "" {
		return fail(fmt.Errorf("score.assess_command is required to run"))
	}
	assessor, err := orchestrator.NewCommandAssessor(strings.Fields(cfg.Score.AssessCommand))
	if err != nil {
		return fail(err)
	}

	pub, err := events.Connect(cfg.Events.URL, log.Underlying())
	if err != nil {
		return fail(err)
	}
	closers = append(closers, pub.Close)

	engine, err := orchestrator.New(orchestrator.Deps{
		Config:     cfg,
		Log:        log,
		Dispatcher: dispatcher,
		Retries:    retries,
		Line:       line,
		Pipeline:   pipeline,
		Scorer:     score.NewScorer(cfg.Score, log.Underlying()),
		Assessor:   assessor,
		Bank:       bank,
		Events:     pub,
	})
	if err != nil {
		return fail(err)
	}
	return engine, cleanup, nil
}

func buildPipeline(cfg *config.Config, log *logging.Logger) (*verify.Pipeline, error) {
	commands := map[verify.StageName]string{
		verify.StageRuntime:       cfg.Verify.Runtime,
		verify.StageDataIntegrity: cfg.Verify.DataIntegrity,
		verify.StageInteractiveUI: cfg.Verify.InteractiveUI,
		verify.StageVisual:        cfg.Verify.Visual,
	}

	var stages []verify.Stage
	for _, name := range verify.StageOrder() {
		command := commands[name]
		if command == "" {
			return nil, fmt.Errorf("verify: no checker command configured for stage %s", name)
		}
		stage, err := verify.NewCommandStage(name, strings.Fields(command))
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return verify.NewPipeline(log, stages...)
}

func buildBank(cfg *config.Config, log *logging.Logger, closers *[]func()) (*patternbank.Service, error) {
	local, err := patternbank.OpenLocal(cfg.Store.LocalPath)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, func() { local.Close() })

	var shared patternbank.Store
	var connectErr error
	if cfg.Store.Backend == "shared" {
		sharedStore, err := patternbank.OpenShared(cfg.Store.SharedURL, cfg.Store.Bucket)
		if err != nil {
			// Shared being down is degraded mode, not a startup failure.
			connectErr = err
		} else {
			shared = sharedStore
			*closers = append(*closers, func() { sharedStore.Close() })
		}
	}
	svc, err := patternbank.NewService(local, shared, log.Underlying())
	if err != nil {
		return nil, err
	}
	if connectErr != nil {
		svc.MarkDegraded(connectErr)
	}
	return svc, nil
}

func budgetsFrom(cfg *config.Config) retry.Budgets {
	return retry.Budgets{
		retry.PhaseFeatureBuild:    cfg.Budgets.FeatureBuild,
		retry.PhaseRuntimeVerify:   cfg.Budgets.RuntimeVerify,
		retry.PhaseInteractiveUI:   cfg.Budgets.InteractiveUI,
		retry.PhaseQualityScoreFix: cfg.Budgets.QualityScoreFix,
		retry.PhaseTargetedBugfix:  cfg.Budgets.TargetedBugfix,
	}
}

// startMetrics exposes /metrics when an address is configured.
func startMetrics(cfg *config.Config, log *logging.Logger) {
	if cfg.Metrics.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			log.Warn(context.Background(), "metrics listener stopped", zap.Error(err))
		}
	}()
}
