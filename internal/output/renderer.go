// Package output renders gateway results in one of four formats, the same
// format-switched Renderer factory the teacher used for DDL analysis
// results, now pointed at SubmitResult/ExecutionOutcome/Stats instead.
package output

import (
	"io"

	"github.com/nethalo/queryguard/internal/gateway"
)

// Renderer defines the output interface for the CLI's submit and stats
// commands.
type Renderer interface {
	RenderSubmit(result gateway.SubmitResult)
	RenderOutcome(queryID string, outcome gateway.ExecutionOutcome)
	RenderStats(stats gateway.Stats)
	RenderPerformanceReport(report PerformanceReportView)
}

// PerformanceReportView carries the fields the renderer needs without
// importing internal/metrics into the CLI layer directly.
type PerformanceReportView struct {
	SuccessRate        float64
	TimeoutRate        float64
	AverageExecutionMs float64
	QueueLength        int
	InFlight           int
	Alerts             []string
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format string, w io.Writer) Renderer {
	switch format {
	case "json":
		return &JSONRenderer{w: w}
	case "markdown":
		return &MarkdownRenderer{w: w}
	case "plain":
		return &PlainRenderer{w: w}
	default:
		return &TextRenderer{w: w}
	}
}
