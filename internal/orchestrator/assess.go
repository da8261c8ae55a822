package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/fyrsmithlabs/foundry/internal/score"
)

// CommandAssessor adapts an external quality-measurement process to the
// Assessor contract.
//
// The command is invoked as `argv... <integration_ref>` and must print JSON:
//
//	{"values": {"functionality": 0.93, ...}, "complexity": 0.4, "blocking_visual_finding": false}
//
// Unlike checkers and runners, a broken assessor is an error: scoring cannot
// proceed on made-up numbers.
type CommandAssessor struct {
	argv []string
}

// NewCommandAssessor creates an assessor backed by an external command.
func NewCommandAssessor(argv []string) (*CommandAssessor, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("assessor: empty command")
	}
	return &CommandAssessor{argv: argv}, nil
}

func (a *CommandAssessor) Assess(ctx context.Context, ref string) (*Assessment, error) {
	args := append(append([]string{}, a.argv[1:]...), ref)
	cmd := exec.CommandContext(ctx, a.argv[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("assessor failed: %w: %s", err, stderr.String())
	}

	var report struct {
		Values                map[score.Dimension]float64 `json:"values"`
		Complexity            float64                     `json:"complexity"`
		BlockingVisualFinding bool                        `json:"blocking_visual_finding"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &Assessment{
		Values:                report.Values,
		Complexity:            report.Complexity,
		BlockingVisualFinding: report.BlockingVisualFinding,
	}, nil
}
