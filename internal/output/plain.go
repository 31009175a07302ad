package output

import (
	"fmt"
	"io"

	"github.com/nethalo/queryguard/internal/gateway"
)

// PlainRenderer emits unstyled output for non-TTY/log-aggregated contexts.
type PlainRenderer struct {
	w io.Writer
}

func (r *PlainRenderer) RenderSubmit(result gateway.SubmitResult) {
	if result.Accepted {
		fmt.Fprintf(r.w, "accepted queryId=%s estimatedWaitMs=%d\n", result.QueryID, result.EstimatedWaitMs)
		return
	}
	fmt.Fprintf(r.w, "rejected reason=%s message=%q retryAfterMs=%d\n", result.Reason, result.Message, result.RetryAfterMs)
	for _, v := range result.Violations {
		fmt.Fprintf(r.w, "  violation kind=%s severity=%s message=%q\n", v.Kind, v.Severity, v.Message)
	}
}

func (r *PlainRenderer) RenderOutcome(queryID string, outcome gateway.ExecutionOutcome) {
	fmt.Fprintf(r.w, "queryId=%s status=%s executionTimeMs=%.0f rowCount=%d error=%q\n",
		queryID, outcome.Status, outcome.ExecutionTimeMs, outcome.RowCount, outcome.ErrorMessage)
}

func (r *PlainRenderer) RenderStats(stats gateway.Stats) {
	fmt.Fprintf(r.w, "queued=%d executing=%d completed=%d failed=%d timeout=%d load=%s\n",
		stats.Queue.Queued, stats.Queue.Executing, stats.Queue.Completed, stats.Queue.Failed,
		stats.Queue.Timeout, stats.Load.Level)
	for scope, cs := range stats.Circuits {
		fmt.Fprintf(r.w, "circuit.%s=%s\n", scope, cs)
	}
}

func (r *PlainRenderer) RenderPerformanceReport(report PerformanceReportView) {
	fmt.Fprintf(r.w, "successRate=%.1f timeoutRate=%.1f avgExecutionMs=%.0f queueLength=%d inFlight=%d\n",
		report.SuccessRate*100, report.TimeoutRate*100, report.AverageExecutionMs, report.QueueLength, report.InFlight)
	for _, alert := range report.Alerts {
		fmt.Fprintf(r.w, "alert: %s\n", alert)
	}
}
