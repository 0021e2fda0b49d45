package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/topoplan/topoplan/pkg/rules"
)

func TestPrintReportText(t *testing.T) {
	report := &rules.Report{
		Duration: 3 * time.Millisecond,
		Rules:    7,
		Findings: []rules.Finding{
			{RuleID: "no-world-restricted-ingress", Severity: rules.SeverityCritical,
				EntityIDs: []string{"sg-app"}, Message: "security group sg-app allows the world to reach a restricted port (tcp 22-22)"},
			{RuleID: "monitoring-present", Severity: rules.SeverityWarn,
				EntityIDs: []string{"net-app"}, Message: "network net-app has no flow log"},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	if !strings.Contains(out, "2 findings from 7 rules") {
		t.Errorf("missing summary line: %q", out)
	}
	if !strings.Contains(out, "[critical] no-world-restricted-ingress") {
		t.Errorf("missing critical finding line: %q", out)
	}
	if !strings.Contains(out, "(sg-app)") {
		t.Errorf("finding line should name the entity: %q", out)
	}
}

func TestPrintReportTextAllPassed(t *testing.T) {
	report := &rules.Report{Duration: time.Millisecond, Rules: 7}

	var buf bytes.Buffer
	printReport(&buf, report)

	if !strings.Contains(buf.String(), "all 7 rules passed") {
		t.Errorf("missing pass line: %q", buf.String())
	}
}
