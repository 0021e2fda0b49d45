// Package rules evaluates compliance rules against a topology. Rules
// are pure functions over an immutable Topology; the registry runs them
// concurrently and merges their findings into one deterministic report.
package rules

import (
	"fmt"
	"time"
)

// Severity grades a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for sorting and threshold checks. Higher is
// more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarn:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Validate checks if the severity is supported.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("unknown severity: %s", s)
	}
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if err := sev.Validate(); err != nil {
		return "", err
	}
	return sev, nil
}

// Finding is the result of evaluating one rule against one or more
// entities.
type Finding struct {
	// RuleID identifies the rule that produced the finding.
	RuleID string `json:"rule_id"`

	// Severity grades the finding.
	Severity Severity `json:"severity"`

	// EntityIDs names the affected entities.
	EntityIDs []string `json:"entity_ids,omitempty"`

	// Message is the human-readable explanation.
	Message string `json:"message"`

	// Passed marks advisory findings that did not fail the rule.
	Passed bool `json:"passed"`
}

// Config holds the tunable parameters of the built-in rule set.
type Config struct {
	// RestrictedPorts are ports that must never be world-reachable.
	RestrictedPorts []int `json:"restricted_ports" yaml:"restricted_ports"`

	// RetentionMinDays and RetentionMaxDays bound flow log retention.
	RetentionMinDays int `json:"retention_min_days" yaml:"retention_min_days"`
	RetentionMaxDays int `json:"retention_max_days" yaml:"retention_max_days"`

	// AllowedPrincipals restricts the trust principals privileged
	// instance roles may name. Empty accepts any non-empty principal.
	AllowedPrincipals []string `json:"allowed_principals,omitempty" yaml:"allowed_principals,omitempty"`

	// Threshold is the severity at or above which failed findings block
	// a compliance pass.
	Threshold Severity `json:"threshold" yaml:"threshold"`
}

// DefaultConfig returns the canonical rule parameters.
func DefaultConfig() Config {
	return Config{
		RestrictedPorts:  []int{22, 3389},
		RetentionMinDays: 1,
		RetentionMaxDays: 365,
		Threshold:        SeverityCritical,
	}
}

// Report aggregates one evaluation pass.
type Report struct {
	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`

	// Rules is the number of rules evaluated.
	Rules int `json:"rules"`

	// Findings is sorted by severity descending, then rule id, then
	// entity id.
	Findings []Finding `json:"findings"`
}

// Passed reports whether the topology passes compliance at the given
// threshold: no failed finding at or above it. An empty threshold
// defaults to critical.
func (r *Report) Passed(threshold Severity) bool {
	if threshold == "" {
		threshold = SeverityCritical
	}
	for _, f := range r.Findings {
		if !f.Passed && f.Severity.Rank() >= threshold.Rank() {
			return false
		}
	}
	return true
}

// CountBySeverity returns the number of failed findings with the given
// severity.
func (r *Report) CountBySeverity(s Severity) int {
	n := 0
	for _, f := range r.Findings {
		if !f.Passed && f.Severity == s {
			n++
		}
	}
	return n
}
