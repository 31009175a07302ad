package cost

import (
	"testing"

	"github.com/nethalo/queryguard/internal/shape"
)

func analyze(t *testing.T, sql string) *shape.QueryShape {
	t.Helper()
	s, err := shape.Analyze(sql, shape.Config{})
	if err != nil {
		t.Fatalf("shape.Analyze(%q) error = %v", sql, err)
	}
	return s
}

func TestEstimate_DefaultRowCountWhenStatsMissing(t *testing.T) {
	s := analyze(t, "SELECT a FROM upload_table_A")
	e := Estimate(s, nil)
	if e.EstimatedRows != defaultRowCountPerTable {
		t.Errorf("EstimatedRows = %d, want %d (default, no tenant filter/joins to reduce selectivity)", e.EstimatedRows, defaultRowCountPerTable)
	}
}

func TestEstimate_TenantFilterReducesSelectivity(t *testing.T) {
	stats := func(string) (TableStats, error) { return TableStats{RowCount: 1_000_000, IndexCount: 1}, nil }

	noFilter := analyze(t, "SELECT a FROM upload_table_A")
	withFilter := analyze(t, "SELECT a FROM upload_table_A WHERE client_id = 'T1'")

	noFilterEst := Estimate(noFilter, stats)
	withFilterEst := Estimate(withFilter, stats)

	if withFilterEst.EstimatedRows >= noFilterEst.EstimatedRows {
		t.Errorf("tenant-filtered estimate (%d) should be far smaller than unfiltered (%d)",
			withFilterEst.EstimatedRows, noFilterEst.EstimatedRows)
	}
	// 0.01 selectivity factor: ceil(1_000_000 * 0.01) = 10_000
	if withFilterEst.EstimatedRows != 10_000 {
		t.Errorf("EstimatedRows = %d, want 10000", withFilterEst.EstimatedRows)
	}
}

func TestEstimate_JoinsHalveSelectivityEachTime(t *testing.T) {
	stats := func(string) (TableStats, error) { return TableStats{RowCount: 1_000_000, IndexCount: 1}, nil }
	s := analyze(t, "SELECT a FROM upload_table_A t JOIN b ON t.id=b.id WHERE t.client_id='T1'")
	e := Estimate(s, stats)
	// selectivity = 1 * 0.01 (tenant) * 0.5^1 (one join) = 0.005 -> ceil(1_000_000*0.005) = 5000
	if e.EstimatedRows != 5000 {
		t.Errorf("EstimatedRows = %d, want 5000", e.EstimatedRows)
	}
}

func TestEstimate_RiskLevels(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		stats TableStatsFn
		want  RiskLevel
	}{
		{
			name:  "small filtered query is low risk",
			sql:   "SELECT a FROM upload_table_A WHERE client_id='T1'",
			stats: func(string) (TableStats, error) { return TableStats{RowCount: 1000, IndexCount: 1}, nil },
			want:  RiskLow,
		},
		{
			name:  "huge unfiltered table is critical",
			sql:   "SELECT a FROM upload_table_A",
			stats: func(string) (TableStats, error) { return TableStats{RowCount: 2_000_000_000, IndexCount: 1}, nil },
			want:  RiskCritical,
		},
		{
			name:  "over a hundred thousand rows is high",
			sql:   "SELECT a FROM upload_table_A",
			stats: func(string) (TableStats, error) { return TableStats{RowCount: 200_000, IndexCount: 1}, nil },
			want:  RiskHigh,
		},
		{
			name:  "over ten thousand rows is medium",
			sql:   "SELECT a FROM upload_table_A",
			stats: func(string) (TableStats, error) { return TableStats{RowCount: 20_000, IndexCount: 1}, nil },
			want:  RiskMedium,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := analyze(t, tt.sql)
			e := Estimate(s, tt.stats)
			if e.RiskLevel != tt.want {
				t.Errorf("RiskLevel = %s, want %s (rows=%d timeMs=%.1f)", e.RiskLevel, tt.want, e.EstimatedRows, e.EstimatedTimeMs)
			}
		})
	}
}

func TestEstimate_RiskEscalatesWithComplexityRegardlessOfRowCount(t *testing.T) {
	stats := func(string) (TableStats, error) { return TableStats{RowCount: 10, IndexCount: 1}, nil }
	sql := "SELECT a FROM upload_table_A t " +
		"JOIN b ON t.id=b.id JOIN c ON t.id=c.id JOIN d ON t.id=d.id " +
		"WHERE t.client_id='T1' AND t.id IN (SELECT id FROM e) " +
		"UNION SELECT a FROM upload_table_A WHERE client_id='T1'"
	s := analyze(t, sql)
	if s.Complexity != shape.ComplexityHigh {
		t.Fatalf("precondition: complexity = %s, want high", s.Complexity)
	}
	e := Estimate(s, stats)
	if e.RiskLevel != RiskHigh && e.RiskLevel != RiskCritical {
		t.Errorf("RiskLevel = %s, want high/critical for a high-complexity query regardless of row count", e.RiskLevel)
	}
}

func TestEstimate_RecommendationsFlagMissingIndexesAndTenantFilter(t *testing.T) {
	stats := func(string) (TableStats, error) { return TableStats{RowCount: 50_000, IndexCount: 0}, nil }
	s := analyze(t, "SELECT a FROM upload_table_A")
	e := Estimate(s, stats)

	foundIndex, foundTenant := false, false
	for _, rec := range e.Recommendations {
		if contains(rec, "index") {
			foundIndex = true
		}
		if contains(rec, "tenant") {
			foundTenant = true
		}
	}
	if !foundIndex {
		t.Errorf("expected a no-index recommendation, got %v", e.Recommendations)
	}
	if !foundTenant {
		t.Errorf("expected a missing-tenant-filter recommendation, got %v", e.Recommendations)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
