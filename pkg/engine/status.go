package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a plan execution run.
type RunStatus string

const (
	// RunStatusPending indicates the run is queued but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run failed with errors.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the caller.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates the run partially succeeded (some actions failed).
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// OperationType represents the type of operation to perform on an entity.
type OperationType string

const (
	// OperationCreate indicates a new entity should be provisioned.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing entity should be updated in place.
	OperationUpdate OperationType = "update"

	// OperationReplace indicates an entity must be destroyed and recreated
	// because an immutable attribute changed.
	OperationReplace OperationType = "replace"

	// OperationDelete indicates an existing entity should be deleted.
	OperationDelete OperationType = "delete"
)

// IsDestructive returns true if the operation destroys a live resource.
func (o OperationType) IsDestructive() bool {
	return o == OperationDelete || o == OperationReplace
}

// IsMutating returns true if the operation changes live state.
func (o OperationType) IsMutating() bool {
	return o == OperationCreate || o == OperationUpdate ||
		o == OperationReplace || o == OperationDelete
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationReplace,
		OperationDelete:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// ActionStatus represents the status of one plan action during execution.
type ActionStatus string

const (
	// ActionStatusPending indicates the action is waiting to execute.
	ActionStatusPending ActionStatus = "pending"

	// ActionStatusRunning indicates the action is currently executing.
	ActionStatusRunning ActionStatus = "running"

	// ActionStatusSucceeded indicates the action completed successfully.
	ActionStatusSucceeded ActionStatus = "succeeded"

	// ActionStatusFailed indicates the action failed after exhausting retries.
	ActionStatusFailed ActionStatus = "failed"

	// ActionStatusSkipped indicates the action was skipped because a
	// dependency failed in an earlier stage.
	ActionStatusSkipped ActionStatus = "skipped"

	// ActionStatusCancelled indicates the action was cancelled before it ran.
	ActionStatusCancelled ActionStatus = "cancelled"
)

// IsTerminal returns true if the action status represents a final state.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusSucceeded || s == ActionStatusFailed ||
		s == ActionStatusSkipped || s == ActionStatusCancelled
}

// IsActive returns true if the action is currently active.
func (s ActionStatus) IsActive() bool {
	return s == ActionStatusPending || s == ActionStatusRunning
}

// Validate checks if the action status is valid.
func (s ActionStatus) Validate() error {
	switch s {
	case ActionStatusPending, ActionStatusRunning, ActionStatusSucceeded,
		ActionStatusFailed, ActionStatusSkipped, ActionStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid action status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
