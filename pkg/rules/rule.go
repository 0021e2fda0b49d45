package rules

import (
	"github.com/topoplan/topoplan/pkg/topology"
)

// Rule is one compliance check. Rules must be pure: they read the
// topology and return findings without side effects, so the registry
// can evaluate them concurrently.
type Rule interface {
	// ID is the unique rule identifier.
	ID() string

	// Severity is the grade of findings the rule produces by default.
	Severity() Severity

	// Evaluate checks the topology and returns zero or more findings.
	Evaluate(t *topology.Topology) []Finding
}

// ruleFunc adapts a plain function to the Rule interface.
type ruleFunc struct {
	id       string
	severity Severity
	fn       func(t *topology.Topology) []Finding
}

// NewRule wraps a function as a Rule.
func NewRule(id string, severity Severity, fn func(t *topology.Topology) []Finding) Rule {
	return &ruleFunc{id: id, severity: severity, fn: fn}
}

func (r *ruleFunc) ID() string         { return r.id }
func (r *ruleFunc) Severity() Severity { return r.severity }

func (r *ruleFunc) Evaluate(t *topology.Topology) []Finding {
	return r.fn(t)
}

// fail builds a failed finding for one rule.
func fail(ruleID string, severity Severity, message string, entityIDs ...string) Finding {
	return Finding{
		RuleID:    ruleID,
		Severity:  severity,
		EntityIDs: entityIDs,
		Message:   message,
	}
}
