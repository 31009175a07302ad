package shape

import (
	"testing"

	"github.com/nethalo/queryguard/internal/gwerrors"
)

func TestAnalyze_StatementKind(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want StatementKind
	}{
		{"select", "SELECT a FROM upload_table_x", StatementSelect},
		{"lowercase select", "select a from upload_table_x", StatementSelect},
		{"insert is other", "INSERT INTO upload_table_x VALUES (1)", StatementOther},
		{"update is other", "UPDATE upload_table_x SET a=1", StatementOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Analyze(tt.sql, Config{})
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if s.Statement != tt.want {
				t.Errorf("Statement = %s, want %s", s.Statement, tt.want)
			}
		})
	}
}

func TestAnalyze_MalformedStatement(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"empty string", ""},
		{"only comments", "-- just a comment\n/* and a block */"},
		{"unbalanced parens", "SELECT a FROM upload_table_x WHERE (a = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.sql, Config{})
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			var malformed *gwerrors.AnalyzerMalformedError
			if !asAnalyzerMalformed(err, &malformed) {
				t.Errorf("error = %v, want *gwerrors.AnalyzerMalformedError", err)
			}
		})
	}
}

func asAnalyzerMalformed(err error, target **gwerrors.AnalyzerMalformedError) bool {
	if e, ok := err.(*gwerrors.AnalyzerMalformedError); ok {
		*target = e
		return true
	}
	return false
}

func TestAnalyze_Tables(t *testing.T) {
	s, err := Analyze("SELECT a FROM upload_table_x t JOIN client_upload_y c ON t.id = c.id", Config{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	want := map[string]bool{"upload_table_x": true, "client_upload_y": true}
	if len(s.Tables) != len(want) {
		t.Fatalf("Tables = %v, want 2 entries", s.Tables)
	}
	for _, tbl := range s.Tables {
		if !want[tbl] {
			t.Errorf("unexpected table %q in %v", tbl, s.Tables)
		}
	}
}

func TestAnalyze_DottedTableName(t *testing.T) {
	s, err := Analyze("SELECT a FROM mydb.upload_table_x", Config{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(s.Tables) != 1 || s.Tables[0] != "upload_table_x" {
		t.Errorf("Tables = %v, want [upload_table_x] (schema part stripped)", s.Tables)
	}
}

func TestAnalyze_Joins(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		wantKind JoinKind
		wantCols bool
	}{
		{"inner join", "SELECT a FROM upload_table_x t INNER JOIN other o ON t.id = o.id", JoinInner, true},
		{"left join", "SELECT a FROM upload_table_x t LEFT JOIN other o ON t.id = o.id", JoinLeft, true},
		{"left outer join", "SELECT a FROM upload_table_x t LEFT OUTER JOIN other o ON t.id = o.id", JoinLeft, true},
		{"right join", "SELECT a FROM upload_table_x t RIGHT JOIN other o ON t.id = o.id", JoinRight, true},
		{"full join", "SELECT a FROM upload_table_x t FULL JOIN other o ON t.id = o.id", JoinFull, true},
		{"cross join", "SELECT a FROM upload_table_x t CROSS JOIN other o", JoinCross, false},
		{"bare join defaults to inner", "SELECT a FROM upload_table_x t JOIN other o ON t.id = o.id", JoinInner, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Analyze(tt.sql, Config{})
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if len(s.Joins) != 1 {
				t.Fatalf("Joins = %v, want exactly one", s.Joins)
			}
			j := s.Joins[0]
			if j.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", j.Kind, tt.wantKind)
			}
			if j.Table != "other" {
				t.Errorf("Table = %q, want %q", j.Table, "other")
			}
			if tt.wantCols && len(j.PredicateColumns) == 0 {
				t.Errorf("expected predicate columns, got none")
			}
		})
	}
}

func TestAnalyze_Limit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want int
	}{
		{"no limit", "SELECT a FROM upload_table_x", 0},
		{"limit clause", "SELECT a FROM upload_table_x LIMIT 250", 250},
		{"top clause", "SELECT TOP 250 a FROM upload_table_x", 250},
		{"top wins over limit when both present", "SELECT TOP 10 a FROM upload_table_x LIMIT 20", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Analyze(tt.sql, Config{})
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if s.Limit != tt.want {
				t.Errorf("Limit = %d, want %d", s.Limit, tt.want)
			}
		})
	}
}

func TestAnalyze_WhereAtomsAndTenantFilter(t *testing.T) {
	s, err := Analyze("SELECT a FROM upload_table_x WHERE client_id = 'T1' AND status = 'open' OR region = 'us'", Config{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(s.WhereAtoms) != 3 {
		t.Fatalf("WhereAtoms = %v, want 3 atoms", s.WhereAtoms)
	}
	if !s.HasTenantFilter {
		t.Error("HasTenantFilter = false, want true")
	}
}

func TestAnalyze_TenantFilterCaseInsensitiveAndAliased(t *testing.T) {
	s, err := Analyze("SELECT a FROM upload_table_x WHERE CLIENTID = 'T1'", Config{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !s.HasTenantFilter {
		t.Error("HasTenantFilter = false, want true for case-varied default alias clientid")
	}
}

func TestAnalyze_TenantFilterConfiguredColumns(t *testing.T) {
	cfg := Config{TenantColumns: []string{"tenant_id"}}
	s, err := Analyze("SELECT a FROM upload_table_x WHERE client_id = 'T1'", cfg)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if s.HasTenantFilter {
		t.Error("HasTenantFilter = true, want false: client_id isn't in the configured alias list")
	}

	s2, err := Analyze("SELECT a FROM upload_table_x WHERE tenant_id = 'T1'", cfg)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !s2.HasTenantFilter {
		t.Error("HasTenantFilter = false, want true for configured tenant_id column")
	}
}

func TestAnalyze_UploadTablePatterns(t *testing.T) {
	tests := []struct {
		name  string
		table string
		want  bool
	}{
		{"upload_table_ prefix", "upload_table_accounts", true},
		{"_upload suffix", "q3_upload", true},
		{"client_upload prefix", "client_upload_data", true},
		{"temp_upload prefix", "temp_upload_scratch", true},
		{"upload table infix", "uploadmonthlytable", true},
		{"unrelated table", "customers", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Analyze("SELECT a FROM "+tt.table, Config{})
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if s.HasUploadTable != tt.want {
				t.Errorf("HasUploadTable = %v, want %v for table %q", s.HasUploadTable, tt.want, tt.table)
			}
		})
	}
}

func TestAnalyze_Wildcard(t *testing.T) {
	s, err := Analyze("SELECT * FROM upload_table_x", Config{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !s.HasWildcard {
		t.Error("HasWildcard = false, want true")
	}

	s2, err := Analyze("SELECT a, b FROM upload_table_x", Config{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if s2.HasWildcard {
		t.Error("HasWildcard = true, want false")
	}
}

func TestAnalyze_ComplexityScoring(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want Complexity
	}{
		{
			name: "plain select is low",
			sql:  "SELECT a FROM upload_table_x WHERE client_id = 'T1'",
			want: ComplexityLow,
		},
		{
			name: "two joins with group/order is medium",
			sql: "SELECT a FROM upload_table_x t JOIN other o ON t.id = o.id " +
				"JOIN another n ON t.id = n.id " +
				"WHERE t.client_id = 'T1' GROUP BY a ORDER BY a",
			want: ComplexityMedium,
		},
		{
			name: "two extra joins plus subquery plus union is high",
			sql: "SELECT a FROM upload_table_x t " +
				"JOIN b ON t.id=b.id JOIN c ON t.id=c.id JOIN d ON t.id=d.id " +
				"WHERE t.id IN (SELECT id FROM e) " +
				"UNION SELECT a FROM upload_table_x",
			want: ComplexityHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Analyze(tt.sql, Config{})
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if s.Complexity != tt.want {
				t.Errorf("Complexity = %s, want %s (tables=%v joins=%d)", s.Complexity, tt.want, s.Tables, len(s.Joins))
			}
		})
	}
}

func TestAnalyze_CommentsStrippedButRawRetained(t *testing.T) {
	sql := "SELECT a FROM upload_table_x -- trailing comment\nWHERE client_id = 'T1' /* block */"
	s, err := Analyze(sql, Config{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if s.RawSQL != sql {
		t.Errorf("RawSQL should retain the original text verbatim")
	}
	if containsAny(s.StrippedSQL, "-- trailing comment", "/* block */") {
		t.Errorf("StrippedSQL still contains comment text: %q", s.StrippedSQL)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
