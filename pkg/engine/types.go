// Package engine plans and executes the convergence of an observed
// network topology onto a desired one. It stages entities by their
// dependencies, diffs desired against observed state into actions, and
// runs the resulting plan stage by stage through a provisioner.
package engine

import (
	"encoding/json"
	"time"

	"github.com/topoplan/topoplan/pkg/topology"
)

// Action is one unit of work in a plan: a single operation on a single
// entity.
type Action struct {
	// ID is the unique identifier for this action.
	ID string `json:"id"`

	// EntityID is the logical id of the entity this action operates on.
	EntityID string `json:"entity_id"`

	// Kind is the entity kind.
	Kind topology.Kind `json:"kind"`

	// Operation is the type of operation to perform.
	Operation OperationType `json:"operation"`

	// LiveID is the live-resource identifier of the matched observed
	// entity, set for update, replace and delete operations.
	LiveID string `json:"live_id,omitempty"`

	// Desired is the JSON-encoded desired entity, empty for delete
	// operations.
	Desired json.RawMessage `json:"desired,omitempty"`

	// Observed is the JSON-encoded matched observed entity, empty for
	// create operations.
	Observed json.RawMessage `json:"observed,omitempty"`

	// Changes describes the attribute differences driving this action.
	Changes []Change `json:"changes,omitempty"`

	// Reason explains why the operation was chosen, e.g. which
	// immutable attribute forced a replace or which replaced parent
	// cascaded into this entity.
	Reason string `json:"reason,omitempty"`

	// DependsOn lists entity ids that must be reconciled in an earlier
	// stage before this action may run.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Change represents a single attribute difference between desired and
// observed state.
type Change struct {
	// Path is the attribute path (e.g. "cidr", "ingress[0].from_port").
	Path string `json:"path"`

	// Before is the observed value.
	Before interface{} `json:"before,omitempty"`

	// After is the desired value.
	After interface{} `json:"after,omitempty"`

	// Immutable marks attributes that cannot change in place.
	Immutable bool `json:"immutable,omitempty"`
}

// Plan is a staged, serializable execution plan.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Name is the topology name the plan was built for.
	Name string `json:"name,omitempty"`

	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`

	// Destroy marks plans built in teardown order.
	Destroy bool `json:"destroy,omitempty"`

	// Stages are executed strictly in order; actions within a stage
	// are independent and may run in parallel.
	Stages []PlanStage `json:"stages"`

	// Summary provides high-level statistics about the plan.
	Summary PlanSummary `json:"summary"`
}

// PlanStage is one dependency stage of a plan.
type PlanStage struct {
	// Index is the zero-based stage position.
	Index int `json:"index"`

	// Actions are ordered by ascending entity id.
	Actions []Action `json:"actions"`
}

// Actions returns every action in stage order.
func (p *Plan) Actions() []Action {
	var out []Action
	for _, s := range p.Stages {
		out = append(out, s.Actions...)
	}
	return out
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	// Total is the total number of actions in the plan.
	Total int `json:"total"`

	// ToCreate is the number of entities to create.
	ToCreate int `json:"to_create"`

	// ToUpdate is the number of entities to update in place.
	ToUpdate int `json:"to_update"`

	// ToReplace is the number of entities to destroy and recreate.
	ToReplace int `json:"to_replace"`

	// ToDelete is the number of entities to delete.
	ToDelete int `json:"to_delete"`
}

// ActionResult represents the outcome of executing one action.
type ActionResult struct {
	// ActionID is the ID of the action this result belongs to.
	ActionID string `json:"action_id"`

	// EntityID is the logical id of the entity operated on.
	EntityID string `json:"entity_id"`

	// Operation is the operation that was performed.
	Operation OperationType `json:"operation"`

	// Status indicates whether the action succeeded, failed, was
	// skipped or was cancelled.
	Status ActionStatus `json:"status"`

	// Attempts is how many times the action was tried.
	Attempts int `json:"attempts"`

	// LiveID is the live-resource identifier reported by the
	// provisioner for created or replaced entities.
	LiveID string `json:"live_id,omitempty"`

	// StartedAt is when the first attempt started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the action reached a terminal status.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total execution time across attempts.
	Duration time.Duration `json:"duration"`

	// Error is the final error for failed actions.
	Error *EngineError `json:"error,omitempty"`
}

// Run represents an execution run of a plan.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// PlanID is the ID of the plan being executed.
	PlanID string `json:"plan_id"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Results holds one entry per plan action, in stage order then
	// ascending entity id.
	Results []ActionResult `json:"results"`

	// Summary provides statistics about the run.
	Summary RunSummary `json:"summary"`
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	// Total is the total number of actions.
	Total int `json:"total"`

	// Succeeded is the number of actions that succeeded.
	Succeeded int `json:"succeeded"`

	// Failed is the number of actions that failed.
	Failed int `json:"failed"`

	// Skipped is the number of actions skipped due to failed dependencies.
	Skipped int `json:"skipped"`

	// Cancelled is the number of actions cancelled before running.
	Cancelled int `json:"cancelled"`
}

// Result looks up the result for one entity id.
func (r *Run) Result(entityID string) (ActionResult, bool) {
	for _, res := range r.Results {
		if res.EntityID == entityID {
			return res, true
		}
	}
	return ActionResult{}, false
}
