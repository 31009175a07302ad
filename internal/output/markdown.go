package output

import (
	"fmt"
	"io"

	"github.com/nethalo/queryguard/internal/gateway"
)

// MarkdownRenderer emits output suitable for pasting into a PR/incident doc.
type MarkdownRenderer struct {
	w io.Writer
}

func (r *MarkdownRenderer) RenderSubmit(result gateway.SubmitResult) {
	if result.Accepted {
		fmt.Fprintf(r.w, "## Query accepted\n\n- **queryId**: `%s`\n- **estimatedWaitMs**: %d\n",
			result.QueryID, result.EstimatedWaitMs)
		return
	}
	fmt.Fprintf(r.w, "## Query rejected\n\n- **reason**: `%s`\n", result.Reason)
	if result.Message != "" {
		fmt.Fprintf(r.w, "- **message**: %s\n", result.Message)
	}
	if result.RetryAfterMs > 0 {
		fmt.Fprintf(r.w, "- **retryAfterMs**: %d\n", result.RetryAfterMs)
	}
	if len(result.Violations) > 0 {
		fmt.Fprintf(r.w, "\n### Violations\n\n| kind | severity | message |\n|---|---|---|\n")
		for _, v := range result.Violations {
			fmt.Fprintf(r.w, "| %s | %s | %s |\n", v.Kind, v.Severity, v.Message)
		}
	}
}

func (r *MarkdownRenderer) RenderOutcome(queryID string, outcome gateway.ExecutionOutcome) {
	fmt.Fprintf(r.w, "## Outcome: %s\n\n- **queryId**: `%s`\n- **executionTimeMs**: %.0f\n- **rowCount**: %d\n",
		outcome.Status, queryID, outcome.ExecutionTimeMs, outcome.RowCount)
	if outcome.ErrorMessage != "" {
		fmt.Fprintf(r.w, "- **error**: %s\n", outcome.ErrorMessage)
	}
}

func (r *MarkdownRenderer) RenderStats(stats gateway.Stats) {
	fmt.Fprintf(r.w, "## Gateway stats\n\n")
	fmt.Fprintf(r.w, "| metric | value |\n|---|---|\n")
	fmt.Fprintf(r.w, "| queued | %d |\n", stats.Queue.Queued)
	fmt.Fprintf(r.w, "| executing | %d |\n", stats.Queue.Executing)
	fmt.Fprintf(r.w, "| completed | %d |\n", stats.Queue.Completed)
	fmt.Fprintf(r.w, "| failed | %d |\n", stats.Queue.Failed)
	fmt.Fprintf(r.w, "| timeout | %d |\n", stats.Queue.Timeout)
	fmt.Fprintf(r.w, "| load level | %s |\n", stats.Load.Level)
	for scope, cs := range stats.Circuits {
		fmt.Fprintf(r.w, "| circuit:%s | %s |\n", scope, cs)
	}
}

func (r *MarkdownRenderer) RenderPerformanceReport(report PerformanceReportView) {
	fmt.Fprintf(r.w, "## Performance report\n\n")
	fmt.Fprintf(r.w, "- **successRate**: %.1f%%\n- **timeoutRate**: %.1f%%\n- **avgExecutionMs**: %.0f\n",
		report.SuccessRate*100, report.TimeoutRate*100, report.AverageExecutionMs)
	if len(report.Alerts) > 0 {
		fmt.Fprintf(r.w, "\n### Alerts\n\n")
		for _, alert := range report.Alerts {
			fmt.Fprintf(r.w, "- %s\n", alert)
		}
	}
}
