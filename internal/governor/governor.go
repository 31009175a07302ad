// Package governor implements the gateway's load-sensitive query rewriter.
// It is a pure text transform over the raw SQL: a sequence of
// conditionally-applied rewrites, each appending to a warnings list, driving
// the TOP/tenant-filter/cost-limit rewrite sequence.
package governor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/nethalo/queryguard/internal/shape"
)

// LoadLevel mirrors the gateway's LoadSnapshot.Level.
type LoadLevel string

const (
	LoadLow      LoadLevel = "low"
	LoadMedium   LoadLevel = "medium"
	LoadHigh     LoadLevel = "high"
	LoadCritical LoadLevel = "critical"
)

// Mode is the workflow mode driving cap selection.
type Mode string

const (
	ModeAudit   Mode = "audit"
	ModeLending Mode = "lending"
)

// Policy carries the knobs the governor needs.
type Policy struct {
	MaxRowLimit   int
	TenantColumn  string
	ExecutionTimeoutMs int
}

// DefaultPolicy returns the governor's baseline knobs.
func DefaultPolicy() Policy {
	return Policy{MaxRowLimit: 5000, TenantColumn: "client_id", ExecutionTimeoutMs: 5000}
}

// Result is the governor's verdict: either a rewritten query plus the
// warnings describing what changed, or a rejection (adaptive mode only).
type Result struct {
	Allowed       bool
	ModifiedQuery string
	Warnings      []string
	Errors        []string
}

var (
	reHasTopOrLimit = regexp.MustCompile(`(?i)\b(TOP\s+\d+|LIMIT\s+\d+)\b`)
	reSelectKeyword = regexp.MustCompile(`(?i)^(\s*SELECT\s+(?:DISTINCT\s+)?)`)
	reHasOption     = regexp.MustCompile(`(?i)\bOPTION\s*\(`)
	reHasWhere      = regexp.MustCompile(`(?i)\bWHERE\b`)
	reNextClause    = regexp.MustCompile(`(?i)\b(GROUP\s+BY|ORDER\s+BY|HAVING)\b`)
	reOptionClause  = regexp.MustCompile(`(?i)\bOPTION\s*\(\s*QUERY_GOVERNOR_COST_LIMIT\s+\d+\s*\)`)
)

// modeCap returns the mode-specific default row cap, bounded by the
// configured max.
func modeCap(mode Mode, maxRowLimit int) int {
	var modeDefault int
	switch mode {
	case ModeLending:
		modeDefault = 100
	default:
		modeDefault = 1000
	}
	return min(maxRowLimit, modeDefault)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Govern applies the standard (non-adaptive) rewrite sequence. It is
// idempotent: Govern(Govern(q)) == Govern(q).
func Govern(s *shape.QueryShape, rawQuery, tenantID string, mode Mode, policy Policy) Result {
	return govern(s, rawQuery, tenantID, mode, policy, modeCap(mode, policy.MaxRowLimit), true)
}

// GovernAdaptive applies load-sensitive cap/rejection rules for adaptive
// mode, then the same standard rewrite sequence.
func GovernAdaptive(s *shape.QueryShape, rawQuery, tenantID string, mode Mode, policy Policy, load LoadLevel) Result {
	cap, allowHighComplexity := adaptiveCap(load)
	if !allowHighComplexity && (s.Complexity == shape.ComplexityHigh || len(s.Tables) > 3) {
		return Result{
			Allowed: false,
			Errors:  []string{fmt.Sprintf("query rejected under %s load: high complexity not permitted", load)},
		}
	}
	return govern(s, rawQuery, tenantID, mode, policy, cap, true)
}

// GovernEmergency forces cap=10 and QUERY_GOVERNOR_COST_LIMIT 5 regardless
// of existing clauses.
func GovernEmergency(s *shape.QueryShape, rawQuery, tenantID string, mode Mode, policy Policy) Result {
	query := rawQuery
	warnings := []string{}

	query, capWarn := forceInjectTop(query, 10)
	warnings = append(warnings, capWarn)

	if mode == ModeAudit && !shapeHasTenantFilter(s) {
		var tenantWarn string
		query, tenantWarn = injectTenantFilter(query, policy.TenantColumn, tenantID)
		warnings = append(warnings, tenantWarn)
	}

	query, optWarn := forceInjectOptionClause(query, 5)
	warnings = append(warnings, optWarn)

	return Result{Allowed: true, ModifiedQuery: query, Warnings: warnings}
}

func adaptiveCap(load LoadLevel) (cap int, allowHighComplexity bool) {
	switch load {
	case LoadLow:
		return 1000, true
	case LoadMedium:
		return 500, true
	case LoadHigh:
		return 100, false
	case LoadCritical:
		return 10, false
	default:
		return 1000, true
	}
}

func govern(s *shape.QueryShape, rawQuery, tenantID string, mode Mode, policy Policy, cap int, computeTimeoutSeconds bool) Result {
	query := rawQuery
	var warnings []string

	if !reHasTopOrLimit.MatchString(query) {
		var w string
		query, w = injectTop(query, cap)
		warnings = append(warnings, w)
	}

	if mode == ModeAudit && !shapeHasTenantFilter(s) {
		var w string
		query, w = injectTenantFilter(query, policy.TenantColumn, tenantID)
		warnings = append(warnings, w)
	}

	if !reHasOption.MatchString(query) {
		seconds := int(math.Ceil(float64(policy.ExecutionTimeoutMs) / 1000.0))
		if seconds < 1 {
			seconds = 1
		}
		var w string
		query, w = forceInjectOptionClause(query, seconds)
		warnings = append(warnings, w)
	}

	return Result{Allowed: true, ModifiedQuery: query, Warnings: warnings}
}

func shapeHasTenantFilter(s *shape.QueryShape) bool {
	return s != nil && s.HasTenantFilter
}

func injectTop(query string, cap int) (string, string) {
	if loc := reSelectKeyword.FindStringIndex(query); loc != nil {
		prefix := query[:loc[1]]
		suffix := query[loc[1]:]
		rewritten := fmt.Sprintf("%sTOP %d %s", prefix, cap, suffix)
		return rewritten, fmt.Sprintf("injected TOP %d row cap", cap)
	}
	return query, "could not locate SELECT keyword to inject row cap"
}

func forceInjectTop(query string, cap int) (string, string) {
	if reHasTopOrLimit.MatchString(query) {
		query = reHasTopOrLimit.ReplaceAllString(query, fmt.Sprintf("TOP %d", cap))
		return query, fmt.Sprintf("forced TOP %d row cap (emergency mode)", cap)
	}
	return injectTop(query, cap)
}

var reWhereKeyword = regexp.MustCompile(`(?i)\bWHERE\b`)

func injectTenantFilter(query, tenantColumn, tenantID string) (string, string) {
	escaped := strings.ReplaceAll(tenantID, "'", "''")
	predicate := fmt.Sprintf("%s = '%s'", tenantColumn, escaped)

	if loc := reWhereKeyword.FindStringIndex(query); loc != nil {
		prefix := query[:loc[1]] // up to and including "WHERE"
		rest := query[loc[1]:]

		bodyEnd := len(rest)
		tail := ""
		if m := reNextClause.FindStringIndex(rest); m != nil {
			bodyEnd = m[0]
			tail = rest[m[0]:]
		}
		body := strings.TrimSpace(rest[:bodyEnd])

		rewritten := fmt.Sprintf("%s %s AND (%s)", prefix, predicate, body)
		if tail != "" {
			rewritten += " " + tail
		}
		return rewritten, "prepended tenant-filter predicate to existing WHERE clause"
	}

	if loc := reNextClause.FindStringIndex(query); loc != nil {
		prefix := strings.TrimRight(query[:loc[0]], " \t\n")
		suffix := query[loc[0]:]
		return fmt.Sprintf("%s WHERE %s %s", prefix, predicate, suffix), "added tenant-filter WHERE clause"
	}
	return strings.TrimRight(query, " \t\n") + fmt.Sprintf(" WHERE %s", predicate), "added tenant-filter WHERE clause"
}

func forceInjectOptionClause(query string, seconds int) (string, string) {
	if reOptionClause.MatchString(query) {
		query = reOptionClause.ReplaceAllString(query, fmt.Sprintf("OPTION (QUERY_GOVERNOR_COST_LIMIT %d)", seconds))
		return query, fmt.Sprintf("forced QUERY_GOVERNOR_COST_LIMIT %d (emergency mode)", seconds)
	}
	return appendOptionClause(query, seconds)
}

func appendOptionClause(query string, seconds int) (string, string) {
	clause := fmt.Sprintf("OPTION (QUERY_GOVERNOR_COST_LIMIT %d)", seconds)
	return strings.TrimRight(query, " \t\n") + " " + clause, fmt.Sprintf("appended %s", clause)
}

// ExtractTopValue is a small helper the package's tests use to read back
// the cap the governor injected, without re-running the shape analyzer.
func ExtractTopValue(query string) (int, bool) {
	m := reTopCapture.FindStringSubmatch(query)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

var reTopCapture = regexp.MustCompile(`(?i)\bTOP\s+(\d+)\b`)
