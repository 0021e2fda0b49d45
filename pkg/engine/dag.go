package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/topoplan/topoplan/pkg/topology"
)

// Stage is one set of entity ids with no unresolved dependencies
// between or among them. Entities within a stage may be provisioned in
// parallel; stages run strictly in order.
type Stage []string

// CycleError reports a circular dependency in the entity reference
// graph. Cycle holds the shortest cycle found, closed (first id
// repeated last).
type CycleError struct {
	Cycle []string `json:"cycle"`
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// StageGraph is the resolved dependency graph of a topology.
type StageGraph struct {
	// Nodes maps entity ids to their graph nodes.
	Nodes map[string]*GraphNode `json:"nodes"`

	// Edges lists all must-exist-before edges.
	Edges []GraphEdge `json:"edges"`

	// Roots are the entity ids with no dependencies.
	Roots []string `json:"roots"`

	// Depth is the number of stages.
	Depth int `json:"depth"`
}

// GraphNode represents one entity in the stage graph.
type GraphNode struct {
	// ID is the entity's logical id.
	ID string `json:"id"`

	// Kind is the entity kind.
	Kind topology.Kind `json:"kind"`

	// Stage is the zero-based stage index the entity lands in.
	Stage int `json:"stage"`

	// Dependencies are the entity ids this entity depends on.
	Dependencies []string `json:"dependencies"`

	// Dependents are the entity ids that depend on this entity.
	Dependents []string `json:"dependents"`
}

// GraphEdge is one must-exist-before edge: From must be provisioned
// before To.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// StageResolver derives must-exist-before edges from entity references
// and orders entities into parallelizable stages with Kahn's algorithm.
type StageResolver struct {
	topo *topology.Topology

	// adjacency maps an entity id to the ids that depend on it.
	adjacency map[string][]string

	// reverse maps an entity id to the ids it depends on.
	reverse map[string][]string

	// inDegree tracks the number of unresolved dependencies per entity.
	inDegree map[string]int

	stages []Stage
}

// ResolveStages orders a topology's entities into provisioning stages.
func ResolveStages(t *topology.Topology) ([]Stage, error) {
	return NewStageResolver(t).Resolve()
}

// DestroyStages orders a topology's entities into teardown stages: the
// exact reverse of the provisioning order, with each stage's ids still
// in ascending order.
func DestroyStages(t *topology.Topology) ([]Stage, error) {
	stages, err := ResolveStages(t)
	if err != nil {
		return nil, err
	}
	out := make([]Stage, len(stages))
	for i, s := range stages {
		out[len(stages)-1-i] = s
	}
	return out, nil
}

// NewStageResolver creates a resolver over one topology.
func NewStageResolver(t *topology.Topology) *StageResolver {
	r := &StageResolver{
		topo:      t,
		adjacency: make(map[string][]string),
		reverse:   make(map[string][]string),
		inDegree:  make(map[string]int),
	}
	r.deriveEdges()
	return r
}

// Resolve computes the stage sequence. It returns a *CycleError when
// the reference graph is not acyclic.
func (r *StageResolver) Resolve() ([]Stage, error) {
	if r.stages != nil {
		return r.stages, nil
	}

	inDegree := make(map[string]int, len(r.inDegree))
	for id, d := range r.inDegree {
		inDegree[id] = d
	}

	var current Stage
	for id, d := range inDegree {
		if d == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	var stages []Stage
	for len(current) > 0 {
		sort.Strings(current)
		stages = append(stages, current)
		processed += len(current)

		var next Stage
		for _, id := range current {
			for _, dependent := range r.adjacency[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != r.topo.Len() {
		residual := make(map[string]bool)
		for id, d := range inDegree {
			if d > 0 {
				residual[id] = true
			}
		}
		return nil, &CycleError{Cycle: r.shortestCycle(residual)}
	}

	r.stages = stages
	return stages, nil
}

// Graph returns the resolved graph with per-node stage assignments.
func (r *StageResolver) Graph() (*StageGraph, error) {
	stages, err := r.Resolve()
	if err != nil {
		return nil, err
	}

	g := &StageGraph{
		Nodes: make(map[string]*GraphNode, r.topo.Len()),
		Depth: len(stages),
	}
	for level, stage := range stages {
		for _, id := range stage {
			e, _ := r.topo.Entity(id)
			g.Nodes[id] = &GraphNode{
				ID:           id,
				Kind:         e.EntityKind(),
				Stage:        level,
				Dependencies: r.reverse[id],
				Dependents:   r.adjacency[id],
			}
			if level == 0 {
				g.Roots = append(g.Roots, id)
			}
		}
	}
	for _, from := range r.topo.EntityIDs() {
		for _, to := range r.adjacency[from] {
			g.Edges = append(g.Edges, GraphEdge{From: from, To: to})
		}
	}
	return g, nil
}

// ToDOT renders the stage graph in DOT format for Graphviz tools.
func (r *StageResolver) ToDOT() (string, error) {
	stages, err := r.Resolve()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("digraph Topology {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, stage := range stages {
		fmt.Fprintf(&sb, "  subgraph cluster_stage_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Stage %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range stage {
			e, _ := r.topo.Entity(id)
			fmt.Fprintf(&sb, "    %q [label=\"%s\\n%s\"];\n", id, id, e.EntityKind())
		}
		sb.WriteString("  }\n\n")
	}

	for _, from := range r.topo.EntityIDs() {
		for _, to := range r.adjacency[from] {
			fmt.Fprintf(&sb, "  %q -> %q;\n", from, to)
		}
	}

	sb.WriteString("}\n")
	return sb.String(), nil
}

// deriveEdges builds the must-exist-before edge set from entity
// references.
func (r *StageResolver) deriveEdges() {
	t := r.topo

	for _, id := range t.EntityIDs() {
		r.inDegree[id] = 0
	}

	for _, id := range t.SubnetIDs() {
		s := t.Subnets[id]
		r.addEdge(s.NetworkID, id)
		r.addEdge(s.RouteTableID, id)
		r.addEdge(s.NetworkACLID, id)
	}
	for _, id := range t.RouteTableIDs() {
		rt := t.RouteTables[id]
		r.addEdge(rt.NetworkID, id)
		for _, route := range rt.Routes {
			if route.TargetID != topology.RouteTableLocalTarget {
				r.addEdge(route.TargetID, id)
			}
		}
	}
	for _, id := range t.GatewayIDs() {
		g := t.Gateways[id]
		r.addEdge(g.NetworkID, id)
		if g.SubnetID != "" {
			r.addEdge(g.SubnetID, id)
		}
	}
	for _, id := range t.SecurityGroupIDs() {
		sg := t.SecurityGroups[id]
		r.addEdge(sg.NetworkID, id)
		for _, rule := range append(append([]topology.SecurityGroupRule{}, sg.Ingress...), sg.Egress...) {
			if rule.SourceSecurityGroupID != "" && rule.SourceSecurityGroupID != id {
				r.addEdge(rule.SourceSecurityGroupID, id)
			}
		}
	}
	for _, id := range t.NetworkACLIDs() {
		r.addEdge(t.NetworkACLs[id].NetworkID, id)
	}
	for _, id := range t.EndpointIDs() {
		e := t.Endpoints[id]
		r.addEdge(e.NetworkID, id)
		for _, sid := range e.SubnetIDs {
			r.addEdge(sid, id)
		}
		for _, gid := range e.SecurityGroupIDs {
			r.addEdge(gid, id)
		}
	}
	for _, id := range t.InstanceProfileIDs() {
		r.addEdge(t.InstanceProfiles[id].RoleID, id)
	}
	for _, id := range t.InstanceIDs() {
		in := t.Instances[id]
		r.addEdge(in.SubnetID, id)
		for _, gid := range in.SecurityGroupIDs {
			r.addEdge(gid, id)
		}
		if in.InstanceProfileID != "" {
			r.addEdge(in.InstanceProfileID, id)
		}
	}
	for _, id := range t.FlowLogIDs() {
		r.addEdge(t.FlowLogs[id].NetworkID, id)
	}
	for _, id := range t.AlarmIDs() {
		a := t.Alarms[id]
		r.addEdge(a.TargetID, id)
		r.addEdge(a.TopicID, id)
	}
}

// addEdge records that from must exist before to. Unknown or empty
// sources are ignored: reference resolution is the builder's job, not
// the resolver's.
func (r *StageResolver) addEdge(from, to string) {
	if from == "" || from == to {
		return
	}
	if _, ok := r.topo.Entity(from); !ok {
		return
	}
	for _, existing := range r.adjacency[from] {
		if existing == to {
			return
		}
	}
	r.adjacency[from] = append(r.adjacency[from], to)
	r.reverse[to] = append(r.reverse[to], from)
	r.inDegree[to]++
}

// shortestCycle finds the minimal cycle (by edge count) among the
// residual nodes left over after Kahn's algorithm stalls. A BFS from
// each residual node back to itself bounds the search; ties break on
// the lexicographically smallest starting id so error messages are
// deterministic.
func (r *StageResolver) shortestCycle(residual map[string]bool) []string {
	starts := make([]string, 0, len(residual))
	for id := range residual {
		starts = append(starts, id)
	}
	sort.Strings(starts)

	var best []string
	for _, start := range starts {
		cycle := r.bfsCycle(start, residual)
		if cycle != nil && (best == nil || len(cycle) < len(best)) {
			best = cycle
		}
	}
	return best
}

// bfsCycle finds the shortest path from start back to start through
// residual nodes.
func (r *StageResolver) bfsCycle(start string, residual map[string]bool) []string {
	parent := make(map[string]string)
	queue := []string{start}
	visited := map[string]bool{start: true}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		next := append([]string{}, r.adjacency[node]...)
		sort.Strings(next)
		for _, n := range next {
			if !residual[n] {
				continue
			}
			if n == start {
				path := []string{start}
				for at := node; at != start; at = parent[at] {
					path = append(path, at)
				}
				path = append(path, start)
				// path is start..node reversed; flip the middle.
				for i, j := 1, len(path)-2; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			if !visited[n] {
				visited[n] = true
				parent[n] = node
				queue = append(queue, n)
			}
		}
	}
	return nil
}
