package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/topoplan/topoplan/pkg/telemetry"
	"github.com/topoplan/topoplan/pkg/topology"
)

// Registry holds the active rule set. Rules may be added and removed at
// runtime; evaluation never mutates the registry.
type Registry struct {
	mu      sync.RWMutex
	rules   map[string]Rule
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// NewRegistry creates an empty registry. Metrics and events may be nil.
func NewRegistry(log *telemetry.Logger, metrics *telemetry.Metrics, events *telemetry.EventPublisher) *Registry {
	if log == nil {
		log = telemetry.FromContext(context.Background())
	}
	return &Registry{
		rules:   make(map[string]Rule),
		log:     log.NewComponentLogger("rules"),
		metrics: metrics,
		events:  events,
	}
}

// DefaultRegistry creates a registry preloaded with the built-in rules.
func DefaultRegistry(cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics, events *telemetry.EventPublisher) *Registry {
	r := NewRegistry(log, metrics, events)
	for _, rule := range BuiltinRules(cfg) {
		r.Register(rule)
	}
	return r
}

// Register adds a rule. Registering a duplicate id is a programming
// error and panics.
func (r *Registry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.rules[rule.ID()]; dup {
		panic(fmt.Sprintf("rules: duplicate rule id %q", rule.ID()))
	}
	r.rules[rule.ID()] = rule
}

// Remove drops a rule by id. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rules, id)
}

// Rules returns the registered rules ordered by id.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Rule, len(ids))
	for i, id := range ids {
		out[i] = r.rules[id]
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// EvaluateAll runs every registered rule against the topology. Rules
// run concurrently; the merged findings are stable-sorted by severity
// descending, then rule id, then first entity id, so output is
// deterministic regardless of scheduling.
func (r *Registry) EvaluateAll(ctx context.Context, t *topology.Topology) *Report {
	started := time.Now()
	rules := r.Rules()

	findingsByRule := make([][]Finding, len(rules))
	var wg sync.WaitGroup
	for i, rule := range rules {
		wg.Add(1)
		go func(i int, rule Rule) {
			defer wg.Done()
			findingsByRule[i] = rule.Evaluate(t)
		}(i, rule)
	}
	wg.Wait()

	report := &Report{
		EvaluatedAt: started,
		Rules:       len(rules),
	}
	for _, fs := range findingsByRule {
		report.Findings = append(report.Findings, fs...)
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return firstEntity(a) < firstEntity(b)
	})

	report.Duration = time.Since(started)
	r.metrics.RecordEvaluation(report.Duration)
	for _, f := range report.Findings {
		if f.Passed {
			continue
		}
		r.metrics.RecordFinding(string(f.Severity), f.RuleID)
		r.events.PublishFinding(f.RuleID, string(f.Severity), firstEntity(f), f.Message)
	}

	r.log.Debugf("evaluated %d rules in %s: %d findings",
		len(rules), report.Duration, len(report.Findings))
	return report
}

func firstEntity(f Finding) string {
	if len(f.EntityIDs) == 0 {
		return ""
	}
	return f.EntityIDs[0]
}
