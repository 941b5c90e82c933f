package executor

import "strings"

// ExecutionState is the normalised state of an executor run.
type ExecutionState string

const (
	ExecutionStateRunning   ExecutionState = "running"
	ExecutionStateSucceeded ExecutionState = "succeeded"
	ExecutionStateFailed    ExecutionState = "failed"
)

// MapStatus maps executor-specific status strings to ExecutionState.
func MapStatus(status string) ExecutionState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "success", "completed", "done", "ok":
		return ExecutionStateSucceeded
	case "failed", "failure", "error", "crashed", "cancelled", "canceled", "aborted", "stopped":
		return ExecutionStateFailed
	default:
		// new, waiting, running, queued 及未知状态都视为仍在运行
		return ExecutionStateRunning
	}
}
