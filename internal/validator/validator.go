// Package validator implements the gateway's policy-enforcement layer
// (spec §4.2): a pure function over a shape.QueryShape plus tenant identity
// and workflow mode, pluggable only through an injected upload-table
// existence check. The violation-accumulation style is grounded on the
// teacher's internal/analyzer, which built up Warnings/ClusterWarnings on a
// Result as it walked an analysis. The rules run as a fixed sequence inside
// Validate; there is no Validator interface or pluggable rule set.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nethalo/queryguard/internal/shape"
)

// Severity of a Violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Kind identifies the rule that produced a Violation.
type Kind string

const (
	KindDangerousOperation  Kind = "dangerous_operation"
	KindMissingUploadEntry  Kind = "missing_upload_entry"
	KindMissingTenantFilter Kind = "missing_tenant_filter"
	KindMissingRowLimit     Kind = "missing_row_limit"
	KindExcessiveRowLimit   Kind = "excessive_row_limit"
	KindInefficientJoin     Kind = "inefficient_join"
	KindCartesianProduct    Kind = "cartesian_product"
	KindWildcardSelect      Kind = "wildcard_select"
	KindHighComplexity      Kind = "high_complexity"
)

// Violation is one policy rule outcome.
type Violation struct {
	Kind     Kind
	Severity Severity
	Message  string
	Location string
}

// Report is the validator's full verdict over one shape.
type Report struct {
	IsValid    bool
	IsSafe     bool
	Violations []Violation
}

// SecurityScore implements spec §4.2's scoring formula.
func (r Report) SecurityScore() int {
	errs, warns := 0, 0
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			errs++
		} else {
			warns++
		}
	}
	score := 100 - 30*errs - 10*warns
	if score < 0 {
		score = 0
	}
	return score
}

// WorkflowMode is the business policy flag from spec's GLOSSARY.
type WorkflowMode string

const (
	ModeAudit   WorkflowMode = "audit"
	ModeLending WorkflowMode = "lending"
)

// UploadTableExistsFn looks up whether tableName exists for tenantId. It may
// return an error on lookup failure, which the validator turns into an
// error-severity violation rather than propagating.
type UploadTableExistsFn func(tableName, tenantID string) (bool, error)

// Policy carries the configurable knobs from spec §4.2/§6. TenantColumns
// lives on shape.Config instead: the tenant-filter check runs during shape
// analysis (shape.HasTenantFilter), before the validator ever sees the
// query, so the validator itself has no use for the column alias list.
type Policy struct {
	EnforceTenantFilter bool
	EnforceUploadID     bool
	MaxRowLimit         int
	MaxJoinCount        int
	DangerousFunctions  []string
	UploadPatterns      []string
}

// DefaultDangerousFunctions is spec §4.2's default dangerous-function list.
var DefaultDangerousFunctions = []string{
	"xp_cmdshell", "sp_configure", "sp_addlogin", "sp_droplogin",
	"xp_regread", "xp_regwrite",
}

// DefaultPolicy returns spec §4.2/§6's defaults.
func DefaultPolicy() Policy {
	return Policy{
		EnforceTenantFilter: true,
		EnforceUploadID:     true,
		MaxRowLimit:         5000,
		MaxJoinCount:        5,
		DangerousFunctions:  DefaultDangerousFunctions,
	}
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*(DROP|DELETE|UPDATE|INSERT|EXEC)\b`),
	regexp.MustCompile(`--\s*$`),
	regexp.MustCompile(`(?s)/\*.*?\*/`),
	regexp.MustCompile(`(?i)\bUNION\s+SELECT\b`),
	regexp.MustCompile(`(?i)\bOR\s+1\s*=\s*1\b`),
	regexp.MustCompile(`(?i)\bOR\s+'[^']*'\s*=\s*'[^']*'`),
	regexp.MustCompile(`(?i)\bSLEEP\s*\(`),
	regexp.MustCompile(`(?i)\bWAITFOR\s+DELAY\b`),
	regexp.MustCompile(`(?i)\bBENCHMARK\s*\(`),
}

// Validate runs every spec §4.2 check and returns the accumulated Report.
func Validate(s *shape.QueryShape, tenantID string, mode WorkflowMode, policy Policy, uploadExists UploadTableExistsFn) Report {
	var violations []Violation

	if s.Statement != shape.StatementSelect {
		violations = append(violations, Violation{
			Kind: KindDangerousOperation, Severity: SeverityError,
			Message: "only SELECT statements are permitted", Location: "statement",
		})
	}

	if !s.HasUploadTable {
		violations = append(violations, Violation{
			Kind: KindMissingUploadEntry, Severity: SeverityError,
			Message: "query does not reference a recognized upload table", Location: "from",
		})
	} else if policy.EnforceUploadID && uploadExists != nil {
		violations = append(violations, checkUploadTableExists(s, tenantID, policy.UploadPatterns, uploadExists)...)
	}

	if policy.EnforceTenantFilter && !s.HasTenantFilter && mode == ModeAudit {
		violations = append(violations, Violation{
			Kind: KindMissingTenantFilter, Severity: SeverityError,
			Message: "audit-mode query is missing a tenant filter predicate", Location: "where",
		})
	}

	if s.Limit == 0 {
		violations = append(violations, Violation{
			Kind: KindMissingRowLimit, Severity: SeverityError,
			Message: "query has no row limit (TOP/LIMIT)", Location: "limit",
		})
	} else if s.Limit > policy.MaxRowLimit {
		violations = append(violations, Violation{
			Kind: KindExcessiveRowLimit, Severity: SeverityError,
			Message: fmt.Sprintf("row limit %d exceeds policy maximum %d", s.Limit, policy.MaxRowLimit),
			Location: "limit",
		})
	}

	violations = append(violations, checkJoins(s, policy)...)

	if s.HasWildcard {
		violations = append(violations, Violation{
			Kind: KindWildcardSelect, Severity: SeverityWarning,
			Message: "query selects with * instead of explicit columns", Location: "select",
		})
	}

	if hasDangerousFunction(s.RawSQL, policy.DangerousFunctions) {
		violations = append(violations, Violation{
			Kind: KindDangerousOperation, Severity: SeverityError,
			Message: "query references a disallowed function/procedure", Location: "statement",
		})
	}

	if matchesInjectionPattern(s.RawSQL) {
		violations = append(violations, Violation{
			Kind: KindDangerousOperation, Severity: SeverityError,
			Message: "query matches a known injection pattern", Location: "statement",
		})
	}

	if s.Complexity == shape.ComplexityHigh {
		violations = append(violations, Violation{
			Kind: KindHighComplexity, Severity: SeverityWarning,
			Message: "query has high structural complexity", Location: "statement",
		})
	}

	report := Report{Violations: violations}
	report.IsValid = !hasErrorSeverity(violations)
	report.IsSafe = report.IsValid && !hasKind(violations, KindDangerousOperation)
	return report
}

func checkUploadTableExists(s *shape.QueryShape, tenantID string, patterns []string, fn UploadTableExistsFn) []Violation {
	cache := map[string]bool{}
	var violations []Violation
	for _, t := range s.Tables {
		if !isUploadCandidate(t, patterns) {
			continue
		}
		if _, done := cache[t]; done {
			continue
		}
		exists, err := fn(t, tenantID)
		cache[t] = true
		if err != nil {
			violations = append(violations, Violation{
				Kind: KindMissingUploadEntry, Severity: SeverityError,
				Message: fmt.Sprintf("upload table lookup failed for %q: %v", t, err), Location: "from",
			})
			continue
		}
		if !exists {
			violations = append(violations, Violation{
				Kind: KindMissingUploadEntry, Severity: SeverityError,
				Message: fmt.Sprintf("upload table %q does not exist for tenant", t), Location: "from",
			})
		}
	}
	return violations
}

func isUploadCandidate(table string, patterns []string) bool {
	if len(patterns) == 0 {
		patterns = shape.DefaultUploadPatterns
	}
	for _, p := range patterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil && re.MatchString(table) {
			return true
		}
	}
	return false
}

func checkJoins(s *shape.QueryShape, policy Policy) []Violation {
	var violations []Violation

	maxJoins := policy.MaxJoinCount
	if maxJoins == 0 {
		maxJoins = 5
	}
	if len(s.Joins) > maxJoins {
		violations = append(violations, Violation{
			Kind: KindInefficientJoin, Severity: SeverityWarning,
			Message: fmt.Sprintf("query has %d joins, exceeding recommended %d", len(s.Joins), maxJoins),
			Location: "join",
		})
	}

	hasCross := false
	for _, j := range s.Joins {
		if len(j.PredicateColumns) == 0 && j.Kind != shape.JoinCross {
			violations = append(violations, Violation{
				Kind: KindInefficientJoin, Severity: SeverityError,
				Message: fmt.Sprintf("join on %q has no predicate columns", j.Table), Location: "join",
			})
		}
		if j.Kind == shape.JoinCross {
			hasCross = true
		}
	}
	if hasCross {
		violations = append(violations, Violation{
			Kind: KindCartesianProduct, Severity: SeverityError,
			Message: "query contains an explicit CROSS JOIN", Location: "join",
		})
	}
	if len(s.Tables) > 1 && len(s.Joins) == 0 {
		violations = append(violations, Violation{
			Kind: KindCartesianProduct, Severity: SeverityError,
			Message: "multiple tables referenced with no join predicate", Location: "from",
		})
	}
	return violations
}

func hasDangerousFunction(sql string, fns []string) bool {
	upper := strings.ToUpper(sql)
	for _, fn := range fns {
		if strings.Contains(upper, strings.ToUpper(fn)) {
			return true
		}
	}
	return false
}

func matchesInjectionPattern(sql string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(sql) {
			return true
		}
	}
	return false
}

func hasErrorSeverity(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

func hasKind(violations []Violation, kind Kind) bool {
	for _, v := range violations {
		if v.Kind == kind {
			return true
		}
	}
	return false
}
