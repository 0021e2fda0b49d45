package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/topoplan/topoplan/pkg/topology"
)

// RegoRule adapts an OPA Rego policy to the Rule interface. The
// policy's deny set is evaluated against the JSON-encoded topology and
// every deny entry becomes a failed finding.
type RegoRule struct {
	id       string
	severity Severity
	query    rego.PreparedEvalQuery
}

// NewRegoRule compiles a Rego source into a rule. The query targets
// data.<package>.deny of the module's own package.
func NewRegoRule(id string, severity Severity, source string) (*RegoRule, error) {
	if err := severity.Validate(); err != nil {
		severity = SeverityWarn
	}

	pkg := regoPackageName(source)
	if pkg == "" {
		return nil, fmt.Errorf("rego rule %s: missing package declaration", id)
	}

	query, err := rego.New(
		rego.Module(id+".rego", source),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("compiling rego rule %s: %w", id, err)
	}

	return &RegoRule{id: id, severity: severity, query: query}, nil
}

func (r *RegoRule) ID() string         { return r.id }
func (r *RegoRule) Severity() Severity { return r.severity }

// Evaluate runs the prepared query with the topology as input.
// Evaluation failures surface as a single info finding rather than
// aborting the whole pass.
func (r *RegoRule) Evaluate(t *topology.Topology) []Finding {
	input, err := topologyInput(t)
	if err != nil {
		return []Finding{fail(r.id, SeverityInfo, fmt.Sprintf("encoding topology for rule %s: %v", r.id, err))}
	}

	results, err := r.query.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		return []Finding{fail(r.id, SeverityInfo, fmt.Sprintf("evaluating rule %s: %v", r.id, err))}
	}

	var findings []Finding
	for _, result := range results {
		for _, expr := range result.Expressions {
			entries, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range entries {
				findings = append(findings, r.finding(entry))
			}
		}
	}
	return findings
}

// finding converts one deny entry. Strings carry just a message;
// objects may override severity and name entities.
func (r *RegoRule) finding(entry interface{}) Finding {
	f := Finding{RuleID: r.id, Severity: r.severity}

	switch v := entry.(type) {
	case string:
		f.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			f.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			if parsed, err := ParseSeverity(sev); err == nil {
				f.Severity = parsed
			}
		}
		if entity, ok := v["entity"].(string); ok {
			f.EntityIDs = append(f.EntityIDs, entity)
		}
		if entities, ok := v["entities"].([]interface{}); ok {
			for _, e := range entities {
				if id, ok := e.(string); ok {
					f.EntityIDs = append(f.EntityIDs, id)
				}
			}
		}
	default:
		f.Message = fmt.Sprintf("%v", entry)
	}
	return f
}

// topologyInput round-trips the topology through JSON so OPA sees plain
// maps and slices.
func topologyInput(t *topology.Topology) (interface{}, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	return input, nil
}

// regoPackageName extracts the package path from Rego source.
func regoPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return ""
}
