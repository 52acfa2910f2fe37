package model

import (
	"encoding/json"
	"fmt"
)

// Status classifies the outcome of one execution.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusCompileError  Status = "compile_error"
	StatusTimeout       Status = "timeout"
	StatusInternalError Status = "internal_error"

	// StatusPending is only reported by Poll; it is never stored.
	StatusPending Status = "pending"
	// StatusQueued is only reported by Submit.
	StatusQueued Status = "queued"
)

const (
	TimeoutMessage        = "Execution timed out"
	CompileTimeoutMessage = "Compilation timed out"
)

// Result is the classified outcome of a task. ExitCode is -1 when the program never exited on its own.
type Result struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Status     Status `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// Success reports a completed run, whatever its exit code.
func Success(stdout, stderr string, exitCode int, durationMs int64) Result {
	return Result{Stdout: stdout, Stderr: stderr, Status: StatusSuccess, ExitCode: exitCode, DurationMs: durationMs}
}

// CompileError reports a failed compilation. The program never ran, so stdout is empty.
func CompileError(diagnostic string) Result {
	return Result{Stderr: diagnostic, Status: StatusCompileError, ExitCode: -1}
}

// Timeout reports a run killed at the deadline.
func Timeout(durationMs int64) Result {
	return Result{Stderr: TimeoutMessage, Status: StatusTimeout, ExitCode: -1, DurationMs: durationMs}
}

// InternalError reports an executor failure unrelated to the submitted program.
func InternalError(err error) Result {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Stderr: msg, Status: StatusInternalError, ExitCode: -1}
}

// Terminal reports whether the status is a stored outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusCompileError, StatusTimeout, StatusInternalError:
		return true
	}
	return false
}

// Encode serializes the result for the store.
func (r Result) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal result failed: %w", err)
	}
	return string(data), nil
}

// DecodeResult parses a stored result.
func DecodeResult(payload string) (Result, error) {
	var res Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return Result{}, fmt.Errorf("unmarshal result failed: %w", err)
	}
	return res, nil
}

// TaskView is the poll response: either pending or a finished result.
type TaskView struct {
	TaskID     string  `json:"task_id"`
	Status     Status  `json:"status"`
	Stdout     *string `json:"stdout,omitempty"`
	Stderr     *string `json:"stderr,omitempty"`
	ExitCode   *int    `json:"exit_code,omitempty"`
	DurationMs *int64  `json:"duration_ms,omitempty"`
}

// PendingView reports a task with no stored result.
func PendingView(taskID string) TaskView {
	return TaskView{TaskID: taskID, Status: StatusPending}
}

// DoneView reports a task with a stored result.
func DoneView(taskID string, res Result) TaskView {
	stdout, stderr := res.Stdout, res.Stderr
	exitCode := res.ExitCode
	duration := res.DurationMs
	return TaskView{
		TaskID:     taskID,
		Status:     res.Status,
		Stdout:     &stdout,
		Stderr:     &stderr,
		ExitCode:   &exitCode,
		DurationMs: &duration,
	}
}

// Done reports whether the view carries a result.
func (v TaskView) Done() bool {
	return v.Status.Terminal()
}
