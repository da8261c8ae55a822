// internal/dispatch/command.go
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

// CommandWorker adapts an external role runner process to the Worker
// contract.
//
// The command receives the work item as JSON on stdin and must print a JSON
// report on stdout:
//
//	{"status": "success", "branch_ref": "foundry/auth/builder", "diagnostics": ""}
//
// Unparseable output or a non-zero exit is reported as a failed item with the
// raw output as diagnostics; the retry budget decides what happens next.
type CommandWorker struct {
	role request.Role
	argv []string
}

// NewCommandWorker creates a worker backed by an external command.
func NewCommandWorker(role request.Role, argv []string) (*CommandWorker, error) {
	if !role.Known() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("role %s: empty command", role)
	}
	return &CommandWorker{role: role, argv: argv}, nil
}

func (w *CommandWorker) Role() request.Role { return w.role }

func (w *CommandWorker) Execute(ctx context.Context, item WorkItem) (Result, error) {
	input, err := json.Marshal(item)
	if err != nil {
		return Result{}, fmt.Errorf("encode work item %s: %w", item.ID, err)
	}

	cmd := exec.CommandContext(ctx, w.argv[0], w.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var report Result
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		diag := stderr.String()
		if diag == "" {
			diag = stdout.String()
		}
		if runErr != nil {
			diag = fmt.Sprintf("%v: %s", runErr, diag)
		}
		return Result{
			Status:      StatusFailure,
			Diagnostics: fmt.Sprintf("runner produced no report: %s", diag),
		}, nil
	}
	return report, nil
}
