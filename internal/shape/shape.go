// Package shape implements the gateway's SQL shape analyzer.
//
// It is deliberately lexical, not a grammar-based parser: the gateway only
// needs a shallow tokenizer sufficient to detect dangerous constructs and
// missing filters, not full SQL parsing — see DESIGN.md for why a real
// grammar (e.g. vitess.io/vitess/go/vt/sqlparser) isn't wired in here.
package shape

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nethalo/queryguard/internal/gwerrors"
)

// StatementKind classifies the outermost statement.
type StatementKind string

const (
	StatementSelect StatementKind = "select"
	StatementOther  StatementKind = "other"
)

// JoinKind enumerates the join keywords we recognize.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
	JoinRight JoinKind = "right"
	JoinFull  JoinKind = "full"
	JoinCross JoinKind = "cross"
)

// Operation enumerates the shape features used for complexity scoring and
// the cost estimator's per-operation time constants.
type Operation string

const (
	OpSelect   Operation = "select"
	OpWhere    Operation = "where"
	OpJoin     Operation = "join"
	OpUnion    Operation = "union"
	OpSubquery Operation = "subquery"
	OpGroupBy  Operation = "group_by"
	OpOrderBy  Operation = "order_by"
	OpHaving   Operation = "having"
)

// Complexity buckets the weighted feature score.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Join describes one join clause.
type Join struct {
	Kind             JoinKind
	Table            string
	PredicateColumns []string
}

// WhereAtom describes one top-level predicate of a WHERE clause.
type WhereAtom struct {
	Column     string
	Operator   string
	Value      string
	IsConcat   bool // right-hand side involves string concatenation
}

// QueryShape is the product of the analyzer: a shallow description of a SQL
// statement sufficient for validation, governance, and cost estimation.
type QueryShape struct {
	RawSQL          string // original text, comments intact — used for injection checks
	StrippedSQL     string // comments removed — used for everything else
	Statement       StatementKind
	Tables          []string
	HasTenantFilter bool
	HasUploadTable  bool
	Limit           int
	Joins           []Join
	WhereAtoms      []WhereAtom
	Operations      []Operation
	Complexity      Complexity
	HasWildcard     bool
	UnionCount      int
}

// Config carries the configurable knobs the analyzer needs.
type Config struct {
	TenantColumns  []string
	UploadPatterns []string
}

// DefaultTenantColumns is the default tenant-column alias list.
var DefaultTenantColumns = []string{"client_id", "clientid"}

// DefaultUploadPatterns is the default upload-table pattern list.
var DefaultUploadPatterns = []string{
	`^upload_table_`,
	`_upload$`,
	`^client_upload`,
	`^temp_upload`,
	`upload.*table`,
}

var (
	reLineComment  = regexp.MustCompile(`--[^\n]*`)
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLeadingWord  = regexp.MustCompile(`(?i)^\s*([a-zA-Z]+)`)
	reFrom         = regexp.MustCompile(`(?i)\bFROM\s+([a-zA-Z0-9_\.` + "`" + `]+(?:\s+(?:AS\s+)?[a-zA-Z0-9_]+)?(?:\s*,\s*[a-zA-Z0-9_\.` + "`" + `]+(?:\s+(?:AS\s+)?[a-zA-Z0-9_]+)?)*)`)
	reJoin         = regexp.MustCompile(`(?i)\b(INNER\s+JOIN|LEFT\s+(?:OUTER\s+)?JOIN|RIGHT\s+(?:OUTER\s+)?JOIN|FULL\s+(?:OUTER\s+)?JOIN|CROSS\s+JOIN|JOIN)\s+([a-zA-Z0-9_\.` + "`" + `]+)`)
	reJoinEnd      = regexp.MustCompile(`(?i)\s+(?:INNER|LEFT|RIGHT|FULL|CROSS|JOIN|WHERE|GROUP\s+BY|ORDER\s+BY|HAVING|LIMIT|TOP|UNION)\b`)
	reJoinOn       = regexp.MustCompile(`(?i)\bON\s+`)
	reTop          = regexp.MustCompile(`(?i)\bTOP\s+(\d+)`)
	reLimit        = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	reGroupBy      = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	reOrderBy      = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	reHaving       = regexp.MustCompile(`(?i)\bHAVING\b`)
	reUnion        = regexp.MustCompile(`(?i)\bUNION\b`)
	reSubquery     = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
	reWildcard     = regexp.MustCompile(`(?i)SELECT\s+(?:DISTINCT\s+)?\*`)
	reWhereClause  = regexp.MustCompile(`(?is)\bWHERE\b(.*?)(?:\bGROUP\s+BY\b|\bORDER\s+BY\b|\bHAVING\b|$)`)
	reIdentInAtom  = regexp.MustCompile(`(?i)^\s*([a-zA-Z0-9_\.` + "`" + `]+)\s*(=|<>|!=|<=|>=|<|>|LIKE|IN|IS)\s*(.*)$`)
	reConcatOp     = regexp.MustCompile(`\|\||CONCAT\s*\(`)
)

// Analyze tokenizes sql into a QueryShape. It fails with
// *gwerrors.AnalyzerMalformedError when the statement cannot be classified.
func Analyze(sql string, cfg Config) (*QueryShape, error) {
	raw := sql
	stripped := stripComments(sql)
	trimmed := strings.TrimSpace(stripped)
	if trimmed == "" {
		return nil, &gwerrors.AnalyzerMalformedError{Reason: "empty statement after comment stripping"}
	}
	if !parensBalanced(trimmed) {
		return nil, &gwerrors.AnalyzerMalformedError{Reason: "unbalanced parentheses"}
	}

	shape := &QueryShape{
		RawSQL:      raw,
		StrippedSQL: trimmed,
	}

	shape.Statement = classifyStatement(trimmed)
	shape.Tables = extractTables(trimmed)
	shape.Joins = extractJoins(trimmed)
	for _, j := range shape.Joins {
		shape.Tables = appendUnique(shape.Tables, j.Table)
	}
	shape.Limit = extractLimit(trimmed)
	shape.WhereAtoms = extractWhereAtoms(trimmed)
	shape.HasWildcard = reWildcard.MatchString(trimmed)
	shape.UnionCount = len(reUnion.FindAllStringIndex(trimmed, -1))

	shape.Operations = buildOperations(shape)
	shape.Complexity = scoreComplexity(shape)

	shape.HasTenantFilter = hasTenantFilter(shape.WhereAtoms, tenantColumns(cfg))
	shape.HasUploadTable = hasUploadTable(shape.Tables, uploadPatterns(cfg))

	return shape, nil
}

func tenantColumns(cfg Config) []string {
	if len(cfg.TenantColumns) > 0 {
		return cfg.TenantColumns
	}
	return DefaultTenantColumns
}

func uploadPatterns(cfg Config) []string {
	if len(cfg.UploadPatterns) > 0 {
		return cfg.UploadPatterns
	}
	return DefaultUploadPatterns
}

func stripComments(sql string) string {
	sql = reBlockComment.ReplaceAllString(sql, " ")
	sql = reLineComment.ReplaceAllString(sql, "")
	return sql
}

func parensBalanced(sql string) bool {
	depth := 0
	inString := byte(0)
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if inString != 0 {
			if c == inString {
				inString = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			inString = c
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0 && inString == 0
}

func classifyStatement(sql string) StatementKind {
	m := reLeadingWord.FindStringSubmatch(sql)
	if m == nil {
		return StatementOther
	}
	if strings.EqualFold(m[1], "SELECT") {
		return StatementSelect
	}
	return StatementOther
}

func normalizeTableName(raw string) string {
	name := strings.Trim(raw, "`")
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSpace(name)
}

func extractTables(sql string) []string {
	var tables []string
	for _, m := range reFrom.FindAllStringSubmatch(sql, -1) {
		for _, item := range strings.Split(m[1], ",") {
			fields := strings.Fields(item)
			if len(fields) == 0 {
				continue
			}
			if t := normalizeTableName(fields[0]); t != "" {
				tables = appendUnique(tables, t)
			}
		}
	}
	return tables
}

func extractJoins(sql string) []Join {
	var joins []Join
	for _, loc := range reJoin.FindAllStringSubmatchIndex(sql, -1) {
		kind := classifyJoinKeyword(sql[loc[2]:loc[3]])
		table := normalizeTableName(sql[loc[4]:loc[5]])
		rest := sql[loc[1]:]
		if end := reJoinEnd.FindStringIndex(rest); end != nil {
			rest = rest[:end[0]]
		}
		predicate := ""
		if on := reJoinOn.FindStringIndex(rest); on != nil {
			predicate = rest[on[1]:]
		}
		cols := extractPredicateColumns(predicate)
		joins = append(joins, Join{Kind: kind, Table: table, PredicateColumns: cols})
	}
	return joins
}

func classifyJoinKeyword(kw string) JoinKind {
	upper := strings.ToUpper(strings.Join(strings.Fields(kw), " "))
	switch {
	case strings.HasPrefix(upper, "INNER"):
		return JoinInner
	case strings.HasPrefix(upper, "LEFT"):
		return JoinLeft
	case strings.HasPrefix(upper, "RIGHT"):
		return JoinRight
	case strings.HasPrefix(upper, "FULL"):
		return JoinFull
	case strings.HasPrefix(upper, "CROSS"):
		return JoinCross
	default:
		return JoinInner
	}
}

var reColumnToken = regexp.MustCompile(`(?i)([a-zA-Z_][a-zA-Z0-9_]*)\.([a-zA-Z_][a-zA-Z0-9_]*)|\b([a-zA-Z_][a-zA-Z0-9_]*)\b`)

func extractPredicateColumns(predicate string) []string {
	predicate = strings.TrimSpace(predicate)
	if predicate == "" {
		return nil
	}
	var cols []string
	seen := map[string]bool{}
	for _, m := range reColumnToken.FindAllStringSubmatch(predicate, -1) {
		var tok string
		if m[1] != "" && m[2] != "" {
			tok = m[1] + "." + m[2]
		} else {
			tok = m[3]
		}
		if tok == "" || isSQLKeyword(tok) {
			continue
		}
		if !seen[tok] {
			seen[tok] = true
			cols = append(cols, tok)
		}
	}
	return cols
}

var sqlKeywords = map[string]bool{
	"AND": true, "OR": true, "ON": true, "NOT": true, "NULL": true,
	"IS": true, "IN": true, "LIKE": true, "TRUE": true, "FALSE": true,
}

func isSQLKeyword(tok string) bool {
	return sqlKeywords[strings.ToUpper(tok)]
}

func extractLimit(sql string) int {
	if m := reTop.FindStringSubmatch(sql); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := reLimit.FindStringSubmatch(sql); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func extractWhereAtoms(sql string) []WhereAtom {
	m := reWhereClause.FindStringSubmatch(sql)
	if m == nil {
		return nil
	}
	body := m[1]
	parts := splitTopLevelAndOr(body)
	var atoms []WhereAtom
	for _, part := range parts {
		part = strings.TrimSpace(strings.Trim(part, "()"))
		if part == "" {
			continue
		}
		am := reIdentInAtom.FindStringSubmatch(part)
		if am == nil {
			continue
		}
		atoms = append(atoms, WhereAtom{
			Column:   normalizeTableName(am[1]),
			Operator: strings.ToUpper(am[2]),
			Value:    strings.TrimSpace(am[3]),
			IsConcat: reConcatOp.MatchString(am[3]),
		})
	}
	return atoms
}

// splitTopLevelAndOr splits on AND/OR that are not nested inside parens or
// string literals.
func splitTopLevelAndOr(body string) []string {
	var parts []string
	depth := 0
	inString := byte(0)
	start := 0
	runes := []rune(body)
	i := 0
	for i < len(runes) {
		c := runes[i]
		if inString != 0 {
			if byte(c) == inString {
				inString = 0
			}
			i++
			continue
		}
		switch c {
		case '\'', '"':
			inString = byte(c)
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && inString == 0 {
			if matchesKeywordAt(runes, i, "AND") || matchesKeywordAt(runes, i, "OR") {
				parts = append(parts, string(runes[start:i]))
				if matchesKeywordAt(runes, i, "AND") {
					i += 3
				} else {
					i += 2
				}
				start = i
				continue
			}
		}
		i++
	}
	parts = append(parts, string(runes[start:]))
	return parts
}

func matchesKeywordAt(runes []rune, i int, kw string) bool {
	if i+len(kw) > len(runes) {
		return false
	}
	if !strings.EqualFold(string(runes[i:i+len(kw)]), kw) {
		return false
	}
	boundaryBefore := i == 0 || !isIdentRune(runes[i-1])
	boundaryAfter := i+len(kw) == len(runes) || !isIdentRune(runes[i+len(kw)])
	return boundaryBefore && boundaryAfter
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func buildOperations(s *QueryShape) []Operation {
	var ops []Operation
	if s.Statement == StatementSelect {
		ops = append(ops, OpSelect)
	}
	if len(s.WhereAtoms) > 0 {
		ops = append(ops, OpWhere)
	}
	for range s.Joins {
		ops = append(ops, OpJoin)
	}
	for i := 0; i < subqueryCount(s.StrippedSQL); i++ {
		ops = append(ops, OpSubquery)
	}
	for i := 0; i < s.UnionCount; i++ {
		ops = append(ops, OpUnion)
	}
	if reGroupBy.MatchString(s.StrippedSQL) {
		ops = append(ops, OpGroupBy)
	}
	if reOrderBy.MatchString(s.StrippedSQL) {
		ops = append(ops, OpOrderBy)
	}
	if reHaving.MatchString(s.StrippedSQL) {
		ops = append(ops, OpHaving)
	}
	return ops
}

func subqueryCount(sql string) int {
	return len(reSubquery.FindAllStringIndex(sql, -1))
}

// scoreComplexity computes a weighted complexity score from join count,
// subquery presence, and aggregate clauses.
func scoreComplexity(s *QueryShape) Complexity {
	score := 0
	if len(s.Joins) > 1 {
		score += 2 * (len(s.Joins) - 1)
	}
	score += 3 * subqueryCount(s.StrippedSQL)
	if reGroupBy.MatchString(s.StrippedSQL) {
		score++
	}
	if reOrderBy.MatchString(s.StrippedSQL) {
		score++
	}
	if reHaving.MatchString(s.StrippedSQL) {
		score++
	}
	score += s.UnionCount

	switch {
	case score <= 3:
		return ComplexityLow
	case score <= 7:
		return ComplexityMedium
	default:
		return ComplexityHigh
	}
}

func normalizedColumn(col string) string {
	return strings.ToLower(strings.ReplaceAll(col, "`", ""))
}

func hasTenantFilter(atoms []WhereAtom, tenantColumns []string) bool {
	set := map[string]bool{}
	for _, c := range tenantColumns {
		set[normalizedColumn(c)] = true
	}
	for _, a := range atoms {
		col := normalizedColumn(a.Column)
		if idx := strings.LastIndex(col, "."); idx >= 0 {
			col = col[idx+1:]
		}
		if set[col] {
			return true
		}
	}
	return false
}

func hasUploadTable(tables []string, patterns []string) bool {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	for _, t := range tables {
		for _, re := range compiled {
			if re.MatchString(t) {
				return true
			}
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}

// String renders a shape for debug/log purposes.
func (s *QueryShape) String() string {
	return fmt.Sprintf("QueryShape{stmt=%s tables=%v limit=%d joins=%d complexity=%s}",
		s.Statement, s.Tables, s.Limit, len(s.Joins), s.Complexity)
}
