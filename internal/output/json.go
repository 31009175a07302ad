package output

import (
	"encoding/json"
	"io"

	"github.com/nethalo/queryguard/internal/gateway"
)

// JSONRenderer emits machine-readable output for scripting/CI callers.
type JSONRenderer struct {
	w io.Writer
}

func (r *JSONRenderer) encode(v any) {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (r *JSONRenderer) RenderSubmit(result gateway.SubmitResult) {
	r.encode(result)
}

func (r *JSONRenderer) RenderOutcome(queryID string, outcome gateway.ExecutionOutcome) {
	r.encode(struct {
		QueryID string `json:"queryId"`
		gateway.ExecutionOutcome
	}{QueryID: queryID, ExecutionOutcome: outcome})
}

func (r *JSONRenderer) RenderStats(stats gateway.Stats) {
	r.encode(stats)
}

func (r *JSONRenderer) RenderPerformanceReport(report PerformanceReportView) {
	r.encode(report)
}
