package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/topoplan/topoplan/pkg/topology"
)

const denyLargeNetworks = `# severity: critical
# Networks wider than /16 are not allowed.
package topoplan.networks

deny[entry] {
	some id
	net := input.networks[id]
	to_number(split(net.cidr, "/")[1]) < 16
	entry := {
		"message": sprintf("network %s cidr %s is wider than /16", [id, net.cidr]),
		"entity": id,
	}
}
`

func TestRegoRuleFindings(t *testing.T) {
	rule, err := NewRegoRule("deny-large-networks", SeverityCritical, denyLargeNetworks)
	if err != nil {
		t.Fatalf("NewRegoRule() failed: %v", err)
	}

	desc := compliantDescription()
	desc.Networks[0].CIDR = "10.0.0.0/8"
	desc.Subnets[0].CIDR = "10.1.1.0/24"
	findings := rule.Evaluate(buildTopo(t, desc))

	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(findings), findings)
	}
	f := findings[0]
	if f.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Severity)
	}
	if len(f.EntityIDs) != 1 || f.EntityIDs[0] != "net-app" {
		t.Errorf("entities = %v, want [net-app]", f.EntityIDs)
	}
}

func TestRegoRuleNoFindings(t *testing.T) {
	rule, err := NewRegoRule("deny-large-networks", SeverityCritical, denyLargeNetworks)
	if err != nil {
		t.Fatalf("NewRegoRule() failed: %v", err)
	}

	findings := rule.Evaluate(buildTopo(t, compliantDescription()))
	if len(findings) != 0 {
		t.Errorf("expected no findings, got %+v", findings)
	}
}

func TestRegoRuleRejectsMissingPackage(t *testing.T) {
	if _, err := NewRegoRule("broken", SeverityWarn, "deny[x] { x := 1 }"); err == nil {
		t.Error("expected an error for source without a package")
	}
}

func TestLoaderReadsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "large-networks.rego"), []byte(denyLargeNetworks), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a rule"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(nil)
	rules, err := loader.LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() failed: %v", err)
	}

	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
	if rules[0].ID() != "large-networks" {
		t.Errorf("rule id = %s, want large-networks", rules[0].ID())
	}
	if rules[0].Severity() != SeverityCritical {
		t.Errorf("severity = %s, want critical from the header comment", rules[0].Severity())
	}
}

func TestLoadedRulesJoinRegistry(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "large-networks.rego"), []byte(denyLargeNetworks), 0o644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(nil)
	loaded, err := loader.LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() failed: %v", err)
	}

	reg := DefaultRegistry(DefaultConfig(), nil, nil, nil)
	for _, r := range loaded {
		reg.Register(r)
	}

	desc := &topology.Description{
		Name:     "wide",
		Networks: []topology.Network{{ID: "net-wide", CIDR: "10.0.0.0/8"}},
	}
	report := reg.EvaluateAll(context.Background(), buildTopo(t, desc))
	if fs := findingsFor(report, "large-networks"); len(fs) != 1 {
		t.Errorf("got %d findings from the loaded rule, want 1", len(fs))
	}
}
