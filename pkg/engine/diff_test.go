package engine

import (
	"strings"
	"testing"

	"github.com/topoplan/topoplan/pkg/topology"
)

// observedDescription returns the base description with live ids set,
// as a provisioning collaborator would report it.
func observedDescription() *topology.Description {
	desc := baseDescription()
	for i := range desc.Networks {
		desc.Networks[i].LiveID = "live-" + desc.Networks[i].ID
	}
	for i := range desc.Subnets {
		desc.Subnets[i].LiveID = "live-" + desc.Subnets[i].ID
	}
	for i := range desc.RouteTables {
		desc.RouteTables[i].LiveID = "live-" + desc.RouteTables[i].ID
	}
	for i := range desc.Gateways {
		desc.Gateways[i].LiveID = "live-" + desc.Gateways[i].ID
	}
	for i := range desc.SecurityGroups {
		desc.SecurityGroups[i].LiveID = "live-" + desc.SecurityGroups[i].ID
	}
	for i := range desc.NetworkACLs {
		desc.NetworkACLs[i].LiveID = "live-" + desc.NetworkACLs[i].ID
	}
	for i := range desc.IAMRoles {
		desc.IAMRoles[i].LiveID = "live-" + desc.IAMRoles[i].ID
	}
	for i := range desc.InstanceProfiles {
		desc.InstanceProfiles[i].LiveID = "live-" + desc.InstanceProfiles[i].ID
	}
	for i := range desc.Instances {
		desc.Instances[i].LiveID = "live-" + desc.Instances[i].ID
	}
	for i := range desc.FlowLogs {
		desc.FlowLogs[i].LiveID = "live-" + desc.FlowLogs[i].ID
	}
	for i := range desc.Topics {
		desc.Topics[i].LiveID = "live-" + desc.Topics[i].ID
	}
	for i := range desc.Alarms {
		desc.Alarms[i].LiveID = "live-" + desc.Alarms[i].ID
	}
	return desc
}

func findAction(actions []Action, entityID string, op OperationType) (Action, bool) {
	for _, a := range actions {
		if a.EntityID == entityID && a.Operation == op {
			return a, true
		}
	}
	return Action{}, false
}

func TestDiffIdempotent(t *testing.T) {
	desired := buildTopology(t, baseDescription())
	observed := buildTopology(t, observedDescription())

	diff, err := NewPlanner().Diff(desired, observed)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}
	if !diff.Empty() {
		t.Fatalf("expected empty diff, got %d actions: %+v", len(diff.Actions), diff.Actions)
	}
}

func TestDiffCreateAndDelete(t *testing.T) {
	desired := buildTopology(t, baseDescription())

	obsDesc := observedDescription()
	obsDesc.Instances = nil
	obsDesc.Alarms = nil
	obsDesc.SecurityGroups = append(obsDesc.SecurityGroups, topology.SecurityGroup{
		ID: "sg-old", NetworkID: "net-main", LiveID: "live-sg-old",
	})
	observed := buildTopology(t, obsDesc)

	diff, err := NewPlanner().Diff(desired, observed)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}

	if diff.Summary.ToCreate != 2 {
		t.Errorf("ToCreate = %d, want 2", diff.Summary.ToCreate)
	}
	if diff.Summary.ToDelete != 1 {
		t.Errorf("ToDelete = %d, want 1", diff.Summary.ToDelete)
	}
	if _, ok := findAction(diff.Actions, "inst-web", OperationCreate); !ok {
		t.Error("missing create for inst-web")
	}
	if _, ok := findAction(diff.Actions, "alarm-cpu", OperationCreate); !ok {
		t.Error("missing create for alarm-cpu")
	}
	del, ok := findAction(diff.Actions, "sg-old", OperationDelete)
	if !ok {
		t.Fatal("missing delete for sg-old")
	}
	if del.LiveID != "live-sg-old" {
		t.Errorf("delete LiveID = %q, want live-sg-old", del.LiveID)
	}
}

func TestDiffUpdateInPlace(t *testing.T) {
	desired := buildTopology(t, baseDescription())

	obsDesc := observedDescription()
	obsDesc.SecurityGroups[0].Ingress[0].FromPort = 80
	obsDesc.SecurityGroups[0].Ingress[0].ToPort = 80
	observed := buildTopology(t, obsDesc)

	diff, err := NewPlanner().Diff(desired, observed)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}

	if len(diff.Actions) != 1 {
		t.Fatalf("got %d actions, want 1: %+v", len(diff.Actions), diff.Actions)
	}
	a := diff.Actions[0]
	if a.Operation != OperationUpdate {
		t.Errorf("operation = %s, want update", a.Operation)
	}
	if a.EntityID != "sg-web" {
		t.Errorf("entity = %s, want sg-web", a.EntityID)
	}
	if len(a.Changes) == 0 {
		t.Error("expected attribute changes on the update action")
	}
	if a.LiveID != "live-sg-web" {
		t.Errorf("LiveID = %q, want live-sg-web", a.LiveID)
	}
}

func TestDiffImmutableForcesReplace(t *testing.T) {
	desired := buildTopology(t, baseDescription())

	obsDesc := observedDescription()
	obsDesc.Subnets[0].AvailabilityZone = "zone-z"
	observed := buildTopology(t, obsDesc)

	diff, err := NewPlanner().Diff(desired, observed)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}

	a, ok := findAction(diff.Actions, "sub-a", OperationReplace)
	if !ok {
		t.Fatalf("missing replace for sub-a, got: %+v", diff.Actions)
	}
	if !strings.Contains(a.Reason, "availability_zone") {
		t.Errorf("reason should name the immutable attribute: %q", a.Reason)
	}
}

func TestDiffReplaceCascade(t *testing.T) {
	desDesc := baseDescription()
	desDesc.Networks[0].CIDR = "10.0.0.0/15"
	desired := buildTopology(t, desDesc)
	observed := buildTopology(t, observedDescription())

	diff, err := NewPlanner().Diff(desired, observed)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}

	for _, id := range []string{"net-main", "sub-a", "sub-b", "inst-web"} {
		a, ok := findAction(diff.Actions, id, OperationReplace)
		if !ok {
			t.Errorf("missing replace for %s", id)
			continue
		}
		if id != "net-main" && !strings.Contains(a.Reason, "cascaded") {
			t.Errorf("%s reason = %q, want cascade reason", id, a.Reason)
		}
	}

	// Referencing entities are not contained and keep their state.
	for _, id := range []string{"rt-main", "sg-web", "igw-main", "alarm-cpu"} {
		if _, ok := findAction(diff.Actions, id, OperationReplace); ok {
			t.Errorf("%s should not be cascade-replaced", id)
		}
	}
}

func TestDiffSignatureMatching(t *testing.T) {
	desDesc := baseDescription()
	desDesc.Subnets[0].ID = "sub-renamed"
	desDesc.Instances[0].SubnetID = "sub-renamed"
	desired := buildTopology(t, desDesc)
	observed := buildTopology(t, observedDescription())

	diff, err := NewPlanner().Diff(desired, observed)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}

	// The renamed subnet pairs with sub-a by attribute signature, so no
	// subnet is created or deleted.
	if diff.Summary.ToCreate != 0 || diff.Summary.ToDelete != 0 {
		t.Errorf("summary = %+v, want no creates or deletes", diff.Summary)
	}
}

func TestDiffAmbiguousSignatureStaysUnmatched(t *testing.T) {
	desired := buildTopology(t, &topology.Description{
		Name:   "topics",
		Topics: []topology.Topic{{ID: "topic-x", Name: "ops"}},
	})
	observed := buildTopology(t, &topology.Description{
		Name: "topics",
		Topics: []topology.Topic{
			{ID: "topic-1", Name: "ops", LiveID: "live-1"},
			{ID: "topic-2", Name: "ops", LiveID: "live-2"},
		},
	})

	diff, err := NewPlanner().Diff(desired, observed)
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}
	if diff.Summary.ToCreate != 1 || diff.Summary.ToDelete != 2 {
		t.Errorf("summary = %+v, want 1 create and 2 deletes", diff.Summary)
	}
}

func TestBuildPlanSplitsReplaces(t *testing.T) {
	desDesc := baseDescription()
	desDesc.Networks[0].CIDR = "10.0.0.0/15"
	desired := buildTopology(t, desDesc)
	observed := buildTopology(t, observedDescription())

	plan, err := NewPlanner().BuildPlan(desired, observed)
	if err != nil {
		t.Fatalf("BuildPlan() failed: %v", err)
	}

	actions := plan.Actions()
	for _, a := range actions {
		if a.Operation == OperationReplace {
			t.Errorf("plan should not contain raw replace actions: %+v", a)
		}
	}

	position := func(id string, op OperationType) int {
		t.Helper()
		for i, a := range actions {
			if a.EntityID == id && a.Operation == op {
				return i
			}
		}
		t.Fatalf("missing %s action for %s", op, id)
		return -1
	}

	// Dependents are deleted before the replaced parent, and the parent
	// is recreated before its dependents.
	delInst := position("inst-web", OperationDelete)
	delSub := position("sub-a", OperationDelete)
	delNet := position("net-main", OperationDelete)
	creNet := position("net-main", OperationCreate)
	creSub := position("sub-a", OperationCreate)
	creInst := position("inst-web", OperationCreate)

	if !(delInst < delSub && delSub < delNet) {
		t.Errorf("teardown order wrong: inst=%d sub=%d net=%d", delInst, delSub, delNet)
	}
	if !(delNet < creNet && creNet < creSub && creSub < creInst) {
		t.Errorf("rebuild order wrong: delNet=%d creNet=%d creSub=%d creInst=%d",
			delNet, creNet, creSub, creInst)
	}

	delAction, _ := findAction(actions, "net-main", OperationDelete)
	deps := strings.Join(delAction.DependsOn, ",")
	if !strings.Contains(deps, "sub-a") || !strings.Contains(deps, "sub-b") {
		t.Errorf("net-main delete should depend on subnet deletes, got %v", delAction.DependsOn)
	}

	creAction, _ := findAction(actions, "inst-web", OperationCreate)
	if !strings.Contains(strings.Join(creAction.DependsOn, ","), "sub-a") {
		t.Errorf("inst-web create should depend on sub-a, got %v", creAction.DependsOn)
	}
}

func TestBuildDestroyPlan(t *testing.T) {
	topo := buildTopology(t, observedDescription())

	plan, err := NewPlanner().BuildDestroyPlan(topo)
	if err != nil {
		t.Fatalf("BuildDestroyPlan() failed: %v", err)
	}
	if !plan.Destroy {
		t.Error("plan should be marked destroy")
	}
	if plan.Summary.ToDelete != topo.Len() {
		t.Errorf("ToDelete = %d, want %d", plan.Summary.ToDelete, topo.Len())
	}

	actions := plan.Actions()
	if len(actions) != topo.Len() {
		t.Fatalf("got %d actions, want %d", len(actions), topo.Len())
	}
	for _, a := range actions {
		if a.Operation != OperationDelete {
			t.Errorf("action for %s is %s, want delete", a.EntityID, a.Operation)
		}
	}
	if actions[0].EntityID != "alarm-cpu" {
		t.Errorf("first teardown action = %s, want alarm-cpu", actions[0].EntityID)
	}
	last := actions[len(actions)-1]
	if last.EntityID == "alarm-cpu" || last.EntityID == "inst-web" {
		t.Errorf("leaf entity %s should not be torn down last", last.EntityID)
	}
}
