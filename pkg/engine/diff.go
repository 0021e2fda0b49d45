package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/topoplan/topoplan/pkg/topology"
)

// DiffResult is the minimal action set that converges an observed
// topology onto a desired one. Actions are ordered by ascending entity
// id; staging is BuildPlan's job.
type DiffResult struct {
	Actions []Action    `json:"actions"`
	Summary PlanSummary `json:"summary"`
}

// Empty reports whether the diff requires no work.
func (d *DiffResult) Empty() bool {
	return len(d.Actions) == 0
}

// immutablePaths lists the attributes that cannot change in place per
// entity kind. A change to any of them forces a replace.
var immutablePaths = map[topology.Kind]map[string]bool{
	topology.KindNetwork:       {"cidr": true},
	topology.KindSubnet:        {"cidr": true, "availability_zone": true, "network_id": true},
	topology.KindRouteTable:    {"network_id": true},
	topology.KindGateway:       {"kind": true, "subnet_id": true, "network_id": true},
	topology.KindSecurityGroup: {"network_id": true},
	topology.KindNetworkACL:    {"network_id": true},
	topology.KindEndpoint:      {"kind": true, "service": true, "network_id": true},
	topology.KindInstance:      {"subnet_id": true},
	topology.KindFlowLog:       {"network_id": true},
}

// Planner computes diffs and assembles staged plans.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Diff compares a desired topology against an observed one and returns
// the action set converging observed onto desired. Applying the plan
// and diffing again against the resulting observed state yields an
// empty diff.
func (p *Planner) Diff(desired, observed *topology.Topology) (*DiffResult, error) {
	matches, unmatchedDesired, unmatchedObserved := matchEntities(desired, observed)

	result := &DiffResult{}

	for _, id := range sortedMatchKeys(matches) {
		m := matches[id]
		changes, err := diffEntities(m.desired, m.observed)
		if err != nil {
			return nil, err
		}
		if len(changes) == 0 {
			continue
		}
		op := OperationUpdate
		reason := ""
		for _, c := range changes {
			if c.Immutable {
				op = OperationReplace
				reason = fmt.Sprintf("immutable attribute %q changed", c.Path)
				break
			}
		}
		action, err := newAction(op, m.desired, m.observed)
		if err != nil {
			return nil, err
		}
		action.Changes = changes
		action.Reason = reason
		result.Actions = append(result.Actions, action)
	}

	for _, e := range unmatchedDesired {
		action, err := newAction(OperationCreate, e, nil)
		if err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, action)
	}
	for _, e := range unmatchedObserved {
		action, err := newAction(OperationDelete, nil, e)
		if err != nil {
			return nil, err
		}
		result.Actions = append(result.Actions, action)
	}

	p.cascadeReplaces(result, desired, observed)

	sort.Slice(result.Actions, func(i, j int) bool {
		return result.Actions[i].EntityID < result.Actions[j].EntityID
	})
	result.Summary = summarize(result.Actions)
	return result, nil
}

// cascadeReplaces forces a replace onto every containment dependent of
// a replaced entity: subnets of a replaced network, and instances,
// gateways and endpoints placed in a replaced subnet. Entities that
// merely reference a replaced entity keep their update.
func (p *Planner) cascadeReplaces(result *DiffResult, desired, observed *topology.Topology) {
	replaced := make(map[string]bool)
	byEntity := make(map[string]int, len(result.Actions))
	for i, a := range result.Actions {
		byEntity[a.EntityID] = i
		if a.Operation == OperationReplace {
			replaced[a.EntityID] = true
		}
	}

	// containmentParent returns the id of the entity that physically
	// contains entityID, or "".
	containmentParent := func(entityID string) string {
		if s, ok := desired.Subnets[entityID]; ok {
			return s.NetworkID
		}
		if in, ok := desired.Instances[entityID]; ok {
			return in.SubnetID
		}
		if g, ok := desired.Gateways[entityID]; ok {
			return g.SubnetID
		}
		if e, ok := desired.Endpoints[entityID]; ok {
			for _, sid := range e.SubnetIDs {
				if replaced[sid] {
					return sid
				}
			}
		}
		return ""
	}

	// Containment closure over the desired topology: networks own
	// subnets, subnets host instances, gateways and endpoints.
	for changed := true; changed; {
		changed = false
		for _, id := range desired.EntityIDs() {
			if replaced[id] {
				continue
			}
			parent := containmentParent(id)
			if parent == "" || !replaced[parent] {
				continue
			}
			replaced[id] = true
			if p.forceReplace(result, byEntity, desired, observed, id, parent) {
				changed = true
			}
		}
	}
}

// forceReplace upgrades an existing action (or adds one) so that
// entityID is replaced alongside its replaced parent. Returns true if
// the action set changed.
func (p *Planner) forceReplace(result *DiffResult, byEntity map[string]int, desired, observed *topology.Topology, entityID, parent string) bool {
	reason := fmt.Sprintf("cascaded from replacement of %q", parent)

	if i, ok := byEntity[entityID]; ok {
		a := &result.Actions[i]
		switch a.Operation {
		case OperationReplace, OperationCreate, OperationDelete:
			return false
		case OperationUpdate:
			a.Operation = OperationReplace
			a.Reason = reason
			return true
		}
	}

	// The entity had no drift of its own; it still must be recreated
	// under its new parent.
	de, _ := desired.Entity(entityID)
	var oe topology.Entity
	if e, ok := observed.Entity(entityID); ok {
		oe = e
	}
	action, err := newAction(OperationReplace, de, oe)
	if err != nil {
		return false
	}
	action.Reason = reason
	byEntity[entityID] = len(result.Actions)
	result.Actions = append(result.Actions, action)
	return true
}

type entityMatch struct {
	desired  topology.Entity
	observed topology.Entity
}

// matchEntities pairs desired entities with observed ones. Matching is
// by logical id first (live ids round-trip through the collaborator);
// leftovers are paired by canonical attribute signature so a first
// reconciliation against pre-existing resources does not duplicate
// them. Ambiguous signatures stay unmatched.
func matchEntities(desired, observed *topology.Topology) (map[string]entityMatch, []topology.Entity, []topology.Entity) {
	matches := make(map[string]entityMatch)
	usedObserved := make(map[string]bool)

	var unmatchedDesired []topology.Entity
	for _, id := range desired.EntityIDs() {
		de, _ := desired.Entity(id)
		if oe, ok := observed.Entity(id); ok && oe.EntityKind() == de.EntityKind() {
			matches[id] = entityMatch{desired: de, observed: oe}
			usedObserved[id] = true
			continue
		}
		unmatchedDesired = append(unmatchedDesired, de)
	}

	// Signature index over still-unmatched observed entities. A
	// signature seen twice is ambiguous and never matched.
	sigIndex := make(map[string]topology.Entity)
	sigDupes := make(map[string]bool)
	for _, id := range observed.EntityIDs() {
		if usedObserved[id] {
			continue
		}
		oe, _ := observed.Entity(id)
		sig := signature(oe)
		if _, dup := sigIndex[sig]; dup {
			sigDupes[sig] = true
			continue
		}
		sigIndex[sig] = oe
	}

	var stillUnmatched []topology.Entity
	for _, de := range unmatchedDesired {
		sig := signature(de)
		oe, ok := sigIndex[sig]
		if !ok || sigDupes[sig] {
			stillUnmatched = append(stillUnmatched, de)
			continue
		}
		matches[de.EntityID()] = entityMatch{desired: de, observed: oe}
		usedObserved[oe.EntityID()] = true
		delete(sigIndex, sig)
	}

	var unmatchedObserved []topology.Entity
	for _, id := range observed.EntityIDs() {
		if !usedObserved[id] {
			oe, _ := observed.Entity(id)
			unmatchedObserved = append(unmatchedObserved, oe)
		}
	}
	return matches, stillUnmatched, unmatchedObserved
}

// signature is the canonical identity of an entity for first-contact
// matching: the kind plus the attributes that identify the resource,
// excluding anything mutable in place.
func signature(e topology.Entity) string {
	var parts []string
	switch v := e.(type) {
	case *topology.Network:
		parts = []string{v.CIDR}
	case *topology.Subnet:
		parts = []string{v.NetworkID, v.CIDR, v.AvailabilityZone}
	case *topology.RouteTable:
		parts = []string{v.NetworkID}
		for _, r := range v.Routes {
			parts = append(parts, r.DestinationCIDR+">"+r.TargetID)
		}
		sort.Strings(parts[1:])
	case *topology.Gateway:
		parts = []string{v.NetworkID, string(v.Kind), v.SubnetID}
	case *topology.SecurityGroup:
		parts = []string{v.NetworkID, sgRuleSignature(v.Ingress), sgRuleSignature(v.Egress)}
	case *topology.NetworkACL:
		parts = []string{v.NetworkID, aclRuleSignature(v.Ingress), aclRuleSignature(v.Egress)}
	case *topology.Endpoint:
		parts = []string{v.NetworkID, string(v.Kind), v.Service}
	case *topology.IAMRole:
		parts = append([]string{v.TrustPrincipal}, v.PolicyIDs...)
		sort.Strings(parts[1:])
	case *topology.InstanceProfile:
		parts = []string{v.RoleID}
	case *topology.Instance:
		parts = append([]string{v.SubnetID, v.InstanceProfileID}, v.SecurityGroupIDs...)
		sort.Strings(parts[2:])
	case *topology.FlowLog:
		parts = []string{v.NetworkID, v.Destination}
	case *topology.Alarm:
		parts = []string{v.TargetID, v.Metric, v.TopicID}
	case *topology.Topic:
		parts = []string{v.Name}
	}
	return string(e.EntityKind()) + "|" + strings.Join(parts, "|")
}

func sgRuleSignature(rules []topology.SecurityGroupRule) string {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = fmt.Sprintf("%s:%d-%d:%s:%s", r.Protocol, r.FromPort, r.ToPort,
			r.SourceCIDR, r.SourceSecurityGroupID)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func aclRuleSignature(rules []topology.ACLRule) string {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = fmt.Sprintf("%d:%s:%d-%d:%s:%s", r.Number, r.Protocol,
			r.FromPort, r.ToPort, r.CIDR, r.Action)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// diffEntities computes the attribute-level changes between a desired
// entity and its matched observed entity. Logical id, live id and tags
// order are normalized through JSON before comparison.
func diffEntities(desired, observed topology.Entity) ([]Change, error) {
	dm, err := entityMap(desired)
	if err != nil {
		return nil, err
	}
	om, err := entityMap(observed)
	if err != nil {
		return nil, err
	}

	immutable := immutablePaths[desired.EntityKind()]

	keys := make(map[string]bool, len(dm)+len(om))
	for k := range dm {
		keys[k] = true
	}
	for k := range om {
		keys[k] = true
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	var changes []Change
	for _, k := range ordered {
		dv, ov := dm[k], om[k]
		if jsonEqual(dv, ov) {
			continue
		}
		changes = append(changes, Change{
			Path:      k,
			Before:    ov,
			After:     dv,
			Immutable: immutable[k],
		})
	}
	return changes, nil
}

// entityMap flattens an entity to its comparable attributes.
func entityMap(e topology.Entity) (map[string]interface{}, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s %q: %w", e.EntityKind(), e.EntityID(), err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "id")
	delete(m, "live_id")
	return m, nil
}

func jsonEqual(a, b interface{}) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func newAction(op OperationType, desired, observed topology.Entity) (Action, error) {
	ref := desired
	if ref == nil {
		ref = observed
	}
	a := Action{
		ID:        uuid.New().String(),
		EntityID:  ref.EntityID(),
		Kind:      ref.EntityKind(),
		Operation: op,
	}
	if desired != nil {
		raw, err := json.Marshal(desired)
		if err != nil {
			return Action{}, err
		}
		a.Desired = raw
	}
	if observed != nil {
		raw, err := json.Marshal(observed)
		if err != nil {
			return Action{}, err
		}
		a.Observed = raw
		a.LiveID = observed.EntityLiveID()
	}
	return a, nil
}

func summarize(actions []Action) PlanSummary {
	s := PlanSummary{Total: len(actions)}
	for _, a := range actions {
		switch a.Operation {
		case OperationCreate:
			s.ToCreate++
		case OperationUpdate:
			s.ToUpdate++
		case OperationReplace:
			s.ToReplace++
		case OperationDelete:
			s.ToDelete++
		}
	}
	return s
}

func sortedMatchKeys(m map[string]entityMatch) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildPlan stages a diff for execution. Deletions, including the
// delete half of every replace, run first in teardown order derived
// from the observed topology; creations, updates and the create half
// of replaces follow in provisioning order derived from the desired
// topology. This guarantees that a replaced entity's dependents are
// deleted before it and recreated after it.
func (p *Planner) BuildPlan(desired, observed *topology.Topology) (*Plan, error) {
	diff, err := p.Diff(desired, observed)
	if err != nil {
		return nil, err
	}

	forward := make(map[string]Action)
	reverse := make(map[string]Action)
	for _, a := range diff.Actions {
		switch a.Operation {
		case OperationCreate, OperationUpdate:
			forward[a.EntityID] = a
		case OperationDelete:
			reverse[a.EntityID] = a
		case OperationReplace:
			// Split: delete the live resource on the way down,
			// recreate it on the way up.
			del := a
			del.ID = uuid.New().String()
			del.Operation = OperationDelete
			del.Desired = nil
			if len(del.Observed) > 0 {
				reverse[a.EntityID] = del
			}

			cre := a
			cre.Operation = OperationCreate
			cre.Observed = nil
			cre.LiveID = ""
			forward[a.EntityID] = cre
		}
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		Name:      desired.Name,
		CreatedAt: time.Now().UTC(),
		Summary:   diff.Summary,
	}

	if len(reverse) > 0 {
		destroyStages, err := DestroyStages(observed)
		if err != nil {
			return nil, err
		}
		appendStages(plan, destroyStages, reverse)
	}
	if len(forward) > 0 {
		stages, err := ResolveStages(desired)
		if err != nil {
			return nil, err
		}
		appendStages(plan, stages, forward)
	}
	linkDependencies(plan, desired, observed)
	return plan, nil
}

// BuildDestroyPlan stages the deletion of every entity in a topology,
// dependents first.
func (p *Planner) BuildDestroyPlan(t *topology.Topology) (*Plan, error) {
	stages, err := DestroyStages(t)
	if err != nil {
		return nil, err
	}

	actions := make(map[string]Action, t.Len())
	for _, id := range t.EntityIDs() {
		e, _ := t.Entity(id)
		a, err := newAction(OperationDelete, nil, e)
		if err != nil {
			return nil, err
		}
		actions[id] = a
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		Name:      t.Name,
		CreatedAt: time.Now().UTC(),
		Destroy:   true,
		Summary:   PlanSummary{Total: len(actions), ToDelete: len(actions)},
	}
	appendStages(plan, stages, actions)
	linkDependencies(plan, t, t)
	return plan, nil
}

// appendStages adds one plan stage per resolver stage that contains at
// least one pending action.
func appendStages(plan *Plan, stages []Stage, actions map[string]Action) {
	for _, stage := range stages {
		var ps PlanStage
		for _, id := range stage {
			if a, ok := actions[id]; ok {
				ps.Actions = append(ps.Actions, a)
			}
		}
		if len(ps.Actions) > 0 {
			ps.Index = len(plan.Stages)
			plan.Stages = append(plan.Stages, ps)
		}
	}
}

// linkDependencies records, per action, which other planned entities
// must be reconciled first, so the executor can skip dependents of
// failed actions. Forward actions depend on what the desired graph
// says must exist before them; deletes depend on the deletion of the
// observed entities that depend on them.
func linkDependencies(plan *Plan, desired, observed *topology.Topology) {
	fwd := NewStageResolver(desired)
	rev := NewStageResolver(observed)

	// An entity can appear twice when a replace was split, so track the
	// delete and forward phases separately.
	plannedDelete := make(map[string]bool)
	plannedForward := make(map[string]bool)
	for _, s := range plan.Stages {
		for _, a := range s.Actions {
			if a.Operation == OperationDelete {
				plannedDelete[a.EntityID] = true
			} else {
				plannedForward[a.EntityID] = true
			}
		}
	}
	for si := range plan.Stages {
		for ai := range plan.Stages[si].Actions {
			a := &plan.Stages[si].Actions[ai]
			if a.Operation == OperationDelete {
				for _, dep := range rev.adjacency[a.EntityID] {
					if plannedDelete[dep] {
						a.DependsOn = append(a.DependsOn, dep)
					}
				}
			} else {
				for _, dep := range fwd.reverse[a.EntityID] {
					if plannedForward[dep] {
						a.DependsOn = append(a.DependsOn, dep)
					}
				}
			}
			sort.Strings(a.DependsOn)
		}
	}
}
