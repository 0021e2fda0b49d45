package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/topoplan/topoplan/pkg/engine"
	"github.com/topoplan/topoplan/pkg/rules"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "topoplan.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testPlan(id string) *engine.Plan {
	return &engine.Plan{
		ID:        id,
		Name:      "edge",
		CreatedAt: time.Now().UTC(),
		Stages: []engine.PlanStage{
			{Index: 0, Actions: []engine.Action{
				{ID: id + "-a0", EntityID: "net-edge", Kind: "network", Operation: engine.OperationCreate},
			}},
			{Index: 1, Actions: []engine.Action{
				{ID: id + "-a1", EntityID: "sub-edge", Kind: "subnet", Operation: engine.OperationCreate,
					DependsOn: []string{"net-edge"}},
			}},
		},
		Summary: engine.PlanSummary{Total: 2, ToCreate: 2},
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "topoplan.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected an error for an empty database path")
	}
}

func TestPlanRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	plan := testPlan("plan-1")
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("SavePlan() failed: %v", err)
	}

	got, err := store.GetPlan(ctx, "plan-1")
	if err != nil {
		t.Fatalf("GetPlan() failed: %v", err)
	}
	if got.Name != "edge" || len(got.Stages) != 2 {
		t.Errorf("plan round trip lost data: %+v", got)
	}
	if got.Stages[1].Actions[0].DependsOn[0] != "net-edge" {
		t.Errorf("dependencies not preserved: %+v", got.Stages[1].Actions[0])
	}
}

func TestGetPlanNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetPlan(context.Background(), "nope")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected a not-found error, got %v", err)
	}
}

func TestListPlans(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	early := testPlan("plan-early")
	early.CreatedAt = time.Now().UTC().Add(-time.Hour)
	late := testPlan("plan-late")
	late.CreatedAt = time.Now().UTC()

	if err := store.SavePlan(ctx, early); err != nil {
		t.Fatal(err)
	}
	if err := store.SavePlan(ctx, late); err != nil {
		t.Fatal(err)
	}

	records, err := store.ListPlans(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListPlans() failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d plans, want 2", len(records))
	}
	if records[0].ID != "plan-late" {
		t.Errorf("newest plan first, got %s", records[0].ID)
	}
	if records[0].Summary.ToCreate != 2 {
		t.Errorf("summary not preserved: %+v", records[0].Summary)
	}
}

func TestDeletePlan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SavePlan(ctx, testPlan("plan-1")); err != nil {
		t.Fatal(err)
	}
	if err := store.DeletePlan(ctx, "plan-1"); err != nil {
		t.Fatalf("DeletePlan() failed: %v", err)
	}
	if err := store.DeletePlan(ctx, "plan-1"); err == nil {
		t.Error("expected a not-found error on second delete")
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &engine.Run{
		ID:        "run-1",
		PlanID:    "plan-1",
		Status:    engine.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}

	completed := time.Now().UTC()
	run.Status = engine.RunStatusSucceeded
	run.CompletedAt = &completed
	run.Duration = 3 * time.Second
	run.Summary = engine.RunSummary{Total: 2, Succeeded: 2}
	run.Results = []engine.ActionResult{
		{ActionID: "run-1-a0", EntityID: "net-edge", Operation: engine.OperationCreate,
			Status: engine.ActionStatusSucceeded, Attempts: 1, LiveID: "vpc-1"},
	}
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun() failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if got.Status != engine.RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if len(got.Results) != 1 || got.Results[0].LiveID != "vpc-1" {
		t.Errorf("results not preserved: %+v", got.Results)
	}

	records, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(records) != 1 || records[0].Summary.Succeeded != 2 {
		t.Errorf("unexpected run listing: %+v", records)
	}
}

func TestUpdateRunNotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpdateRun(context.Background(), &engine.Run{ID: "ghost"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected a not-found error, got %v", err)
	}
}

func TestActionResultLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &engine.Run{ID: "run-1", PlanID: "plan-1", Status: engine.RunStatusRunning, StartedAt: time.Now().UTC()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	first := engine.ActionResult{ActionID: "a0", EntityID: "net-edge",
		Operation: engine.OperationCreate, Status: engine.ActionStatusSucceeded, Attempts: 1}
	second := engine.ActionResult{ActionID: "a1", EntityID: "sub-edge",
		Operation: engine.OperationCreate, Status: engine.ActionStatusFailed, Attempts: 3,
		Error: engine.NewPermanentError("boom", nil)}

	if err := store.AppendActionResult(ctx, "run-1", first); err != nil {
		t.Fatalf("AppendActionResult() failed: %v", err)
	}
	if err := store.AppendActionResult(ctx, "run-1", second); err != nil {
		t.Fatalf("AppendActionResult() failed: %v", err)
	}

	results, err := store.GetActionResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetActionResults() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ActionID != "a0" || results[1].ActionID != "a1" {
		t.Errorf("append order not preserved: %+v", results)
	}
	if results[1].Error == nil || results[1].Error.Message != "boom" {
		t.Errorf("error not preserved: %+v", results[1].Error)
	}
}

func TestReportRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	report := &rules.Report{
		EvaluatedAt: time.Now().UTC(),
		Duration:    40 * time.Millisecond,
		Rules:       2,
		Findings: []rules.Finding{
			{RuleID: "encrypted-storage", Severity: rules.SeverityCritical,
				EntityIDs: []string{"inst-app"}, Message: "storage not encrypted"},
		},
	}
	if err := store.SaveReport(ctx, "rep-1", "edge", report); err != nil {
		t.Fatalf("SaveReport() failed: %v", err)
	}

	got, err := store.GetReport(ctx, "rep-1")
	if err != nil {
		t.Fatalf("GetReport() failed: %v", err)
	}
	if len(got.Findings) != 1 || got.Findings[0].Severity != rules.SeverityCritical {
		t.Errorf("findings not preserved: %+v", got.Findings)
	}

	records, err := store.ListReports(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListReports() failed: %v", err)
	}
	if len(records) != 1 || records[0].Topology != "edge" || records[0].Findings != 1 {
		t.Errorf("unexpected report listing: %+v", records)
	}
}
