package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nethalo/queryguard/internal/circuit"
	"github.com/nethalo/queryguard/internal/gateway"
	"github.com/nethalo/queryguard/internal/governor"
	"github.com/nethalo/queryguard/internal/metrics"
	"github.com/nethalo/queryguard/internal/queue"
	"github.com/nethalo/queryguard/internal/validator"
)

func acceptedSubmit() gateway.SubmitResult {
	return gateway.SubmitResult{Accepted: true, QueryID: "q-1", EstimatedWaitMs: 250}
}

func rejectedSubmit() gateway.SubmitResult {
	return gateway.SubmitResult{
		Accepted:     false,
		Reason:       "validation_rejected",
		Message:      "tenant filter missing",
		RetryAfterMs: 500,
		Violations: []validator.Violation{
			{Kind: validator.KindMissingTenantFilter, Severity: validator.SeverityError, Message: "no client_id predicate"},
		},
	}
}

func sampleStats() gateway.Stats {
	return gateway.Stats{
		Queue: queue.Stats{Queued: 2, Executing: 1, Completed: 10, Failed: 1, Timeout: 0, AverageExecutionMs: 120},
		Load:  gateway.LoadSnapshot{InFlight: 1, Queued: 2, Level: governor.LoadMedium},
		Circuits: map[string]circuit.State{
			"default": circuit.StateClosed,
		},
	}
}

func sampleReport() PerformanceReportView {
	return PerformanceReportView{
		SuccessRate:        0.97,
		TimeoutRate:         0.01,
		AverageExecutionMs: 310,
		QueueLength:        2,
		InFlight:           1,
		Alerts:             []string{"queue length above 10"},
	}
}

func TestNewRenderer_SelectsByFormat(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", "*output.JSONRenderer"},
		{"markdown", "*output.MarkdownRenderer"},
		{"plain", "*output.PlainRenderer"},
		{"text", "*output.TextRenderer"},
		{"", "*output.TextRenderer"},
		{"unknown", "*output.TextRenderer"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			r := NewRenderer(tt.format, &bytes.Buffer{})
			got := typeName(r)
			if got != tt.want {
				t.Errorf("NewRenderer(%q) = %s, want %s", tt.format, got, tt.want)
			}
		})
	}
}

func typeName(r Renderer) string {
	switch r.(type) {
	case *JSONRenderer:
		return "*output.JSONRenderer"
	case *MarkdownRenderer:
		return "*output.MarkdownRenderer"
	case *PlainRenderer:
		return "*output.PlainRenderer"
	case *TextRenderer:
		return "*output.TextRenderer"
	default:
		return "unknown"
	}
}

func TestPlainRenderer_RenderSubmit_Accepted(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderSubmit(acceptedSubmit())
	out := buf.String()
	if !strings.Contains(out, "accepted") || !strings.Contains(out, "queryId=q-1") {
		t.Errorf("output = %q, missing expected accepted fields", out)
	}
}

func TestPlainRenderer_RenderSubmit_RejectedWithViolations(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderSubmit(rejectedSubmit())
	out := buf.String()
	if !strings.Contains(out, "rejected") || !strings.Contains(out, "retryAfterMs=500") {
		t.Errorf("output = %q, missing expected rejection fields", out)
	}
	if !strings.Contains(out, "violation kind=missing_tenant_filter") {
		t.Errorf("output = %q, expected a rendered violation line", out)
	}
}

func TestPlainRenderer_RenderStats_IncludesCircuits(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderStats(sampleStats())
	out := buf.String()
	if !strings.Contains(out, "queued=2") || !strings.Contains(out, "circuit.default=closed") {
		t.Errorf("output = %q, missing expected stats fields", out)
	}
}

func TestPlainRenderer_RenderPerformanceReport_IncludesAlerts(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderPerformanceReport(sampleReport())
	out := buf.String()
	if !strings.Contains(out, "successRate=97.0") {
		t.Errorf("output = %q, want successRate=97.0", out)
	}
	if !strings.Contains(out, "alert: queue length above 10") {
		t.Errorf("output = %q, want the alert line", out)
	}
}

func TestMarkdownRenderer_RenderSubmit_AcceptedAndRejected(t *testing.T) {
	var buf bytes.Buffer
	r := &MarkdownRenderer{w: &buf}
	r.RenderSubmit(acceptedSubmit())
	if !strings.Contains(buf.String(), "## Query accepted") {
		t.Errorf("accepted output = %q, want a heading", buf.String())
	}

	buf.Reset()
	r.RenderSubmit(rejectedSubmit())
	out := buf.String()
	if !strings.Contains(out, "## Query rejected") {
		t.Errorf("rejected output = %q, want a heading", out)
	}
	if !strings.Contains(out, "| kind | severity | message |") {
		t.Errorf("rejected output = %q, want a violations table", out)
	}
}

func TestMarkdownRenderer_RenderStats_Table(t *testing.T) {
	var buf bytes.Buffer
	r := &MarkdownRenderer{w: &buf}
	r.RenderStats(sampleStats())
	out := buf.String()
	if !strings.Contains(out, "| queued | 2 |") {
		t.Errorf("output = %q, want the queued table row", out)
	}
}

func TestMarkdownRenderer_RenderPerformanceReport_AlertsSection(t *testing.T) {
	var buf bytes.Buffer
	r := &MarkdownRenderer{w: &buf}
	r.RenderPerformanceReport(sampleReport())
	if !strings.Contains(buf.String(), "### Alerts") {
		t.Errorf("output = %q, want an alerts section since Alerts is non-empty", buf.String())
	}

	buf.Reset()
	report := sampleReport()
	report.Alerts = nil
	r.RenderPerformanceReport(report)
	if strings.Contains(buf.String(), "### Alerts") {
		t.Errorf("output = %q, should omit the alerts section when there are none", buf.String())
	}
}

func TestJSONRenderer_RenderSubmit_ValidJSON(t *testing.T) {
	var buf bytes.Buffer
	r := &JSONRenderer{w: &buf}
	r.RenderSubmit(acceptedSubmit())

	var decoded gateway.SubmitResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.QueryID != "q-1" {
		t.Errorf("decoded.QueryID = %q, want q-1", decoded.QueryID)
	}
}

func TestJSONRenderer_RenderOutcome_EmbedsQueryID(t *testing.T) {
	var buf bytes.Buffer
	r := &JSONRenderer{w: &buf}
	r.RenderOutcome("q-2", gateway.ExecutionOutcome{Status: queue.StateCompleted, RowCount: 5})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded["queryId"] != "q-2" {
		t.Errorf("decoded[queryId] = %v, want q-2", decoded["queryId"])
	}
	if decoded["RowCount"].(float64) != 5 {
		t.Errorf("decoded[RowCount] = %v, want 5", decoded["RowCount"])
	}
}

func TestJSONRenderer_RenderStats_ValidJSON(t *testing.T) {
	var buf bytes.Buffer
	r := &JSONRenderer{w: &buf}
	r.RenderStats(sampleStats())

	var decoded gateway.Stats
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Queue.Queued != 2 {
		t.Errorf("decoded.Queue.Queued = %d, want 2", decoded.Queue.Queued)
	}
}

func TestTextRenderer_RenderSubmit_ContainsCoreFields(t *testing.T) {
	var buf bytes.Buffer
	r := &TextRenderer{w: &buf}
	r.RenderSubmit(acceptedSubmit())
	out := buf.String()
	if !strings.Contains(out, "q-1") {
		t.Errorf("output = %q, want the query id somewhere in the styled box", out)
	}
}

func TestTextRenderer_RenderOutcome_ShowsRowCountOnlyWhenPositive(t *testing.T) {
	var buf bytes.Buffer
	r := &TextRenderer{w: &buf}
	r.RenderOutcome("q-3", gateway.ExecutionOutcome{Status: queue.StateCompleted, RowCount: 0})
	if strings.Contains(buf.String(), "rowCount") {
		t.Errorf("output = %q, should not mention rowCount when it is zero", buf.String())
	}

	buf.Reset()
	r.RenderOutcome("q-3", gateway.ExecutionOutcome{Status: queue.StateCompleted, RowCount: 7})
	if !strings.Contains(buf.String(), "rowCount") {
		t.Errorf("output = %q, should mention rowCount when positive", buf.String())
	}
}

func TestPerformanceReportView_AlertsSurfaceInMetricsSnapshot(t *testing.T) {
	// sanity check that the CLI-facing view type tracks metrics.PerformanceReport's
	// shape closely enough that a renderer consuming one built from the other
	// won't silently drop fields.
	report := metrics.PerformanceReport{
		Snapshot:    metrics.Snapshot{QueueLength: 3, InFlight: 2},
		SuccessRate: 0.5,
		TimeoutRate: 0.2,
		Alerts:      []string{"success rate below 95%"},
	}
	view := PerformanceReportView{
		SuccessRate:        report.SuccessRate,
		TimeoutRate:        report.TimeoutRate,
		AverageExecutionMs: report.AverageExecutionTimeMs,
		QueueLength:        report.QueueLength,
		InFlight:           report.InFlight,
		Alerts:             report.Alerts,
	}
	if view.QueueLength != 3 || view.InFlight != 2 {
		t.Errorf("view = %+v, fields did not carry over from the metrics snapshot", view)
	}
}
