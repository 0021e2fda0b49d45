// Package stores persists plans, runs and compliance reports.
package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/topoplan/topoplan/pkg/engine"
	"github.com/topoplan/topoplan/pkg/rules"
)

// PlanRecord is a plan listing row without the full payload.
type PlanRecord struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Destroy   bool               `json:"destroy"`
	CreatedAt time.Time          `json:"created_at"`
	Summary   engine.PlanSummary `json:"summary"`
}

// RunRecord is a run listing row without the full payload.
type RunRecord struct {
	ID          string           `json:"id"`
	PlanID      string           `json:"plan_id"`
	Status      engine.RunStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Summary     engine.RunSummary `json:"summary"`
}

// ReportRecord is a report listing row without the findings payload.
type ReportRecord struct {
	ID          string    `json:"id"`
	Topology    string    `json:"topology"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	Findings    int       `json:"findings"`
}

// Store is the persistence layer for plans, runs and reports.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Plan operations
	SavePlan(ctx context.Context, plan *engine.Plan) error
	GetPlan(ctx context.Context, id string) (*engine.Plan, error)
	ListPlans(ctx context.Context, limit, offset int) ([]PlanRecord, error)
	DeletePlan(ctx context.Context, id string) error

	// Run operations
	CreateRun(ctx context.Context, run *engine.Run) error
	UpdateRun(ctx context.Context, run *engine.Run) error
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error)

	// ActionResult operations
	AppendActionResult(ctx context.Context, runID string, result engine.ActionResult) error
	GetActionResults(ctx context.Context, runID string) ([]engine.ActionResult, error)

	// Report operations
	SaveReport(ctx context.Context, id, topologyName string, report *rules.Report) error
	GetReport(ctx context.Context, id string) (*rules.Report, error)
	ListReports(ctx context.Context, limit, offset int) ([]ReportRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
