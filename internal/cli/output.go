package cli

import (
	"encoding/json"
	"errors"
	"io"
)

// Process exit codes. Collaborator failures and aborted runs share ExitRunFailed.
const (
	ExitOK        = 0
	ExitRunFailed = 1
	ExitUsage     = 2
)

// commandError is what a subcommand returns; main turns it into an exit code.
type commandError struct {
	code int
	op   string
	err  error
}

func (e *commandError) Error() string {
	if e.err == nil {
		return e.op
	}
	return e.op + ": " + e.err.Error()
}

func (e *commandError) Unwrap() error {
	return e.err
}

// usageError marks bad flags, bad config or a missing collaborator setting.
func usageError(op string, err error) error {
	return &commandError{code: ExitUsage, op: op, err: err}
}

// runFailure marks a run, lookup or input check that went wrong after setup.
func runFailure(op string, err error) error {
	return &commandError{code: ExitRunFailed, op: op, err: err}
}

// ExitCode maps the error returned by the root command to a process exit code.
// Errors raised outside a subcommand, cobra's own flag errors included, count as usage errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cmdErr *commandError
	if errors.As(err, &cmdErr) {
		return cmdErr.code
	}
	return ExitUsage
}

type outcome string

const (
	outcomeOK      outcome = "ok"
	outcomeInvalid outcome = "invalid"
	outcomeFailed  outcome = "error"
)

// jsonReport is the document printed for --output json. The exit code is
// repeated so scripts reading stdout need not inspect the process status.
type jsonReport struct {
	Command  string  `json:"command"`
	Status   outcome `json:"status"`
	ExitCode int     `json:"exit_code"`
	Data     any     `json:"data,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func emitJSON(w io.Writer, command string, status outcome, data any, err error) error {
	report := jsonReport{Command: command, Status: status, Data: data}
	switch {
	case err != nil:
		report.Error = err.Error()
		report.ExitCode = ExitRunFailed
	case status != outcomeOK:
		report.ExitCode = ExitRunFailed
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
