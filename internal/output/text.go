package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nethalo/queryguard/internal/gateway"
	"github.com/nethalo/queryguard/internal/queue"
)

// TextRenderer renders with lipgloss styling for an interactive terminal.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) RenderSubmit(result gateway.SubmitResult) {
	if result.Accepted {
		fmt.Fprintln(r.w, SafeBoxStyle.Render(fmt.Sprintf(
			"%s accepted\n%s %s\n%s %dms",
			IconSafe,
			LabelStyle.Render("queryId"), ValueStyle.Render(result.QueryID),
			LabelStyle.Render("estimatedWait"), result.EstimatedWaitMs,
		)))
		return
	}

	body := fmt.Sprintf("%s rejected: %s", IconDanger, result.Reason)
	if result.Message != "" {
		body += "\n" + MutedText.Render(result.Message)
	}
	if result.RetryAfterMs > 0 {
		body += fmt.Sprintf("\n%s %dms", LabelStyle.Render("retryAfter"), result.RetryAfterMs)
	}
	for _, v := range result.Violations {
		body += fmt.Sprintf("\n  %s [%s] %s", violationIcon(string(v.Severity)), v.Kind, v.Message)
	}
	fmt.Fprintln(r.w, DangerBoxStyle.Render(body))
}

func violationIcon(sev string) string {
	if sev == "error" {
		return IconDanger
	}
	return IconWarning
}

func (r *TextRenderer) RenderOutcome(queryID string, outcome gateway.ExecutionOutcome) {
	icon, box := outcomeStyle(outcome.Status)
	body := fmt.Sprintf("%s %s\n%s %s\n%s %s",
		icon, strings.ToUpper(string(outcome.Status)),
		LabelStyle.Render("queryId"), ValueStyle.Render(queryID),
		LabelStyle.Render("executionTime"), fmt.Sprintf("%.0fms", outcome.ExecutionTimeMs),
	)
	if outcome.RowCount > 0 {
		body += fmt.Sprintf("\n%s %d", LabelStyle.Render("rowCount"), outcome.RowCount)
	}
	if outcome.ErrorMessage != "" {
		body += fmt.Sprintf("\n%s %s", LabelStyle.Render("error"), outcome.ErrorMessage)
	}
	fmt.Fprintln(r.w, box.Render(body))
}

func outcomeStyle(status queue.State) (string, lipgloss.Style) {
	switch status {
	case queue.StateCompleted:
		return IconSafe, SafeBoxStyle
	case queue.StateFailed, queue.StateTimeout:
		return IconDanger, DangerBoxStyle
	default:
		return IconInfo, WarningBoxStyle
	}
}

func (r *TextRenderer) RenderStats(stats gateway.Stats) {
	body := fmt.Sprintf(
		"%s %d  %s %d  %s %.0fms\n%s %d  %s %d  %s %d\n%s %s",
		LabelStyle.Render("queued"), stats.Queue.Queued,
		LabelStyle.Render("executing"), stats.Queue.Executing,
		LabelStyle.Render("avgExecMs"), stats.Queue.AverageExecutionMs,
		LabelStyle.Render("completed"), stats.Queue.Completed,
		LabelStyle.Render("failed"), stats.Queue.Failed,
		LabelStyle.Render("timeout"), stats.Queue.Timeout,
		LabelStyle.Render("load"), stats.Load.Level,
	)
	for scope, cs := range stats.Circuits {
		body += fmt.Sprintf("\n%s %s: %s", LabelStyle.Render("circuit"), scope, cs)
	}
	fmt.Fprintln(r.w, BoxStyle.Render(body))
}

func (r *TextRenderer) RenderPerformanceReport(report PerformanceReportView) {
	style := SafeBoxStyle
	if len(report.Alerts) > 0 {
		style = WarningBoxStyle
	}
	body := fmt.Sprintf(
		"%s %.1f%%  %s %.1f%%  %s %.0fms\n%s %d  %s %d",
		LabelStyle.Render("successRate"), report.SuccessRate*100,
		LabelStyle.Render("timeoutRate"), report.TimeoutRate*100,
		LabelStyle.Render("avgExecMs"), report.AverageExecutionMs,
		LabelStyle.Render("queueLength"), report.QueueLength,
		LabelStyle.Render("inFlight"), report.InFlight,
	)
	for _, alert := range report.Alerts {
		body += fmt.Sprintf("\n%s %s", IconWarning, alert)
	}
	fmt.Fprintln(r.w, style.Render(body))
}
