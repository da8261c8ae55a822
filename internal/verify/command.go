// internal/verify/command.go
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// CommandStage adapts an external checker process to the Stage contract.
//
// The command is invoked as `argv... <integration_ref>` and must print a JSON
// verdict on stdout:
//
//	{"passed": false, "blocking": true, "diagnostics": "...", "metrics": {"coverage": 0.71}}
//
// A non-zero exit with unparseable output is reported as a failed stage with
// the raw output as diagnostics, never as a pipeline error: flaky checkers
// burn retry budget instead of crashing the run.
type CommandStage struct {
	name StageName
	argv []string
}

// NewCommandStage creates a stage backed by an external command.
func NewCommandStage(name StageName, argv []string) (*CommandStage, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("stage %q: empty command", name)
	}
	return &CommandStage{name: name, argv: argv}, nil
}

func (s *CommandStage) Name() StageName { return s.name }

// verdict is the checker's JSON output shape.
type verdict struct {
	Passed      bool               `json:"passed"`
	Blocking    bool               `json:"blocking"`
	Diagnostics string             `json:"diagnostics"`
	Metrics     map[string]float64 `json:"metrics"`
}

func (s *CommandStage) Check(ctx context.Context, integrationRef string) (Result, error) {
	args := append(append([]string{}, s.argv[1:]...), integrationRef)
	cmd := exec.CommandContext(ctx, s.argv[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var v verdict
	if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
		diag := stderr.String()
		if diag == "" {
			diag = stdout.String()
		}
		if runErr != nil {
			diag = fmt.Sprintf("%v: %s", runErr, diag)
		}
		return Result{
			Passed:      false,
			Diagnostics: fmt.Sprintf("checker produced no verdict: %s", diag),
		}, nil
	}

	return Result{
		Passed:      v.Passed,
		Blocking:    v.Blocking,
		Diagnostics: v.Diagnostics,
		Metrics:     v.Metrics,
	}, nil
}
