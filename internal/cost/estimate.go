// Package cost implements the gateway's cost estimator (spec §4.4). The
// Result/Risk shape and the "walk the shape, accumulate recommendations"
// control flow is grounded directly on the teacher's internal/analyzer,
// whose Analyze() built a risk level and a recommendation string by walking
// a parsed DDL/DML shape against table metadata — the same structure, now
// applied to SELECT shapes against table statistics instead of ALTER
// algorithms.
package cost

import (
	"fmt"
	"math"

	"github.com/nethalo/queryguard/internal/shape"
)

// RiskLevel classifies the estimate (spec §3's CostEstimate.riskLevel).
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// TableStats is what TableStatsFn returns for one table (spec §6).
type TableStats struct {
	RowCount   int64
	IndexCount int
	SizeKB     int64
}

// TableStatsFn looks up statistics for a table; missing stats are handled
// by the caller returning the spec's documented default.
type TableStatsFn func(table string) (TableStats, error)

// Result is the cost estimator's output (spec §3's CostEstimate).
type Result struct {
	EstimatedRows   int64
	EstimatedTimeMs float64
	RiskLevel       RiskLevel
	Recommendations []string
}

const defaultRowCountPerTable = 1000

// Estimate computes spec §4.4's cost model for s given per-table stats from
// statsFn.
func Estimate(s *shape.QueryShape, statsFn TableStatsFn) Result {
	tableStats := make(map[string]TableStats, len(s.Tables))
	var maxRows int64
	noIndexTables := 0

	for _, t := range s.Tables {
		st := TableStats{RowCount: defaultRowCountPerTable}
		if statsFn != nil {
			if looked, err := statsFn(t); err == nil {
				st = looked
			}
		}
		tableStats[t] = st
		if st.RowCount > maxRows {
			maxRows = st.RowCount
		}
		if st.IndexCount == 0 {
			noIndexTables++
		}
	}
	if maxRows == 0 {
		maxRows = defaultRowCountPerTable
	}

	selectivity := 1.0
	if s.HasTenantFilter {
		selectivity *= 0.01
	}
	extraPredicates := len(s.WhereAtoms)
	if s.HasTenantFilter {
		extraPredicates--
	}
	if extraPredicates > 0 {
		selectivity *= 0.1
	}
	selectivity *= math.Pow(0.5, float64(len(s.Joins)))
	if hasOperation(s, shape.OpGroupBy) {
		selectivity *= 0.1
	}

	estimatedRows := int64(math.Ceil(float64(maxRows) * selectivity))
	if estimatedRows < 0 {
		estimatedRows = 0
	}

	baseMs := 100.0
	baseMs *= complexityFactor(s.Complexity)
	if estimatedRows > 1000 {
		baseMs += 50 * math.Log10(float64(estimatedRows))
	}
	for _, op := range s.Operations {
		baseMs += operationConstant(op)
	}
	baseMs += 0.01 * float64(sumRowCountsForNoIndexTables(s, tableStats))
	if len(s.Tables) > 1 {
		baseMs *= 0.5 * float64(len(s.Tables))
	}

	risk := classifyRisk(baseMs, estimatedRows, s)
	recs := recommendations(s, tableStats, noIndexTables, risk)

	return Result{
		EstimatedRows:   estimatedRows,
		EstimatedTimeMs: baseMs,
		RiskLevel:       risk,
		Recommendations: recs,
	}
}

func hasOperation(s *shape.QueryShape, op shape.Operation) bool {
	for _, o := range s.Operations {
		if o == op {
			return true
		}
	}
	return false
}

func complexityFactor(c shape.Complexity) float64 {
	switch c {
	case shape.ComplexityLow:
		return 1
	case shape.ComplexityMedium:
		return 2
	case shape.ComplexityHigh:
		return 4
	default:
		return 1
	}
}

func operationConstant(op shape.Operation) float64 {
	switch op {
	case shape.OpJoin:
		return 200
	case shape.OpUnion:
		return 150
	case shape.OpSubquery:
		return 300
	case shape.OpGroupBy:
		return 100
	case shape.OpOrderBy:
		return 100
	case shape.OpHaving:
		return 50
	default:
		return 0
	}
}

func sumRowCountsForNoIndexTables(s *shape.QueryShape, stats map[string]TableStats) int64 {
	var total int64
	for _, t := range s.Tables {
		st := stats[t]
		if st.IndexCount == 0 {
			total += st.RowCount
		}
	}
	return total
}

func classifyRisk(estimatedTimeMs float64, estimatedRows int64, s *shape.QueryShape) RiskLevel {
	switch {
	case estimatedTimeMs > 30000 || estimatedRows > 1000000:
		return RiskCritical
	case estimatedTimeMs > 10000 || estimatedRows > 100000 || s.Complexity == shape.ComplexityHigh || len(s.Tables) > 5:
		return RiskHigh
	case estimatedTimeMs > 5000 || estimatedRows > 10000 || s.Complexity == shape.ComplexityMedium || len(s.Tables) > 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

func recommendations(s *shape.QueryShape, stats map[string]TableStats, noIndexTables int, risk RiskLevel) []string {
	var recs []string
	if noIndexTables > 0 {
		recs = append(recs, fmt.Sprintf("%d referenced table(s) have no indexes; consider adding one on the join/filter columns", noIndexTables))
	}
	if !s.HasTenantFilter {
		recs = append(recs, "add a tenant-column predicate to improve selectivity")
	}
	if len(s.Joins) > 2 {
		recs = append(recs, "query joins more than two tables; verify each join predicate is indexed")
	}
	if s.Limit == 0 || s.Limit > 1000 {
		recs = append(recs, "set a smaller row limit to bound result size")
	}
	if risk == RiskHigh || risk == RiskCritical {
		recs = append(recs, "consider running during an off-peak window or narrowing the predicate")
	}
	return recs
}
