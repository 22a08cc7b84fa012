package orchestrator

import "fmt"

// ConfigError is returned before any paid call when the job cannot start.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

// PlanNotConvergedError means the reviewer kept asking for edits past the
// revision cap.
type PlanNotConvergedError struct {
	Rounds int
}

func (e *PlanNotConvergedError) Error() string {
	return fmt.Sprintf("plan not approved after %d revisions", e.Rounds)
}

// PlanningFailedError ends a job at the plan stage. No ledger is produced.
type PlanningFailedError struct {
	Err error
}

func (e *PlanningFailedError) Error() string {
	return "planning failed: " + e.Err.Error()
}

func (e *PlanningFailedError) Unwrap() error { return e.Err }
