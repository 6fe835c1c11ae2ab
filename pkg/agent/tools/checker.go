package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// LintRules selects the static checks run before a query is sent to the
// engine for planning.
type LintRules struct {
	ForbidJoins      bool
	ForbidSubqueries bool
	// LookupDatabase is the prefix LOOKUP table names must carry. Empty
	// disables the LOOKUP checks.
	LookupDatabase string
	// ForbidLookupGroupBy rejects LOOKUP combined with GROUP BY.
	ForbidLookupGroupBy bool
	// ForbidAliasRefs rejects select aliases referenced from WHERE, GROUP BY
	// or ORDER BY.
	ForbidAliasRefs bool
	// JoinHint is appended to the JOIN diagnostic.
	JoinHint string
}

// PinotRules returns the checks for Pinot's single-stage query engine.
func PinotRules(database string) LintRules {
	return LintRules{
		ForbidJoins:         true,
		ForbidSubqueries:    true,
		LookupDatabase:      database,
		ForbidLookupGroupBy: true,
		ForbidAliasRefs:     true,
		JoinHint:            "use LOOKUP to fetch dimension columns",
	}
}

// ClickHouseRules returns the checks for ClickHouse.
func ClickHouseRules() LintRules {
	return LintRules{
		ForbidJoins: true,
		JoinHint:    "use dictGet to fetch dimension columns",
	}
}

var (
	stringLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
	joinPattern          = regexp.MustCompile(`(?i)\bJOIN\b`)
	subqueryPattern      = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
	lookupPattern        = regexp.MustCompile(`(?i)\bLOOKUP\s*\(\s*'([^']*)'`)
	groupByPattern       = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	selectListPattern    = regexp.MustCompile(`(?is)^\s*SELECT\s+(?:DISTINCT\s+)?(.*?)\s+FROM\s`)
	aliasPattern         = regexp.MustCompile(`(?is)^(.*?)\s+AS\s+"?([A-Za-z_]\w*)"?$`)
	whereClausePattern   = regexp.MustCompile(`(?is)\bWHERE\b(.*?)(?:\bGROUP\s+BY\b|\bHAVING\b|\bORDER\s+BY\b|\bLIMIT\b|$)`)
	groupClausePattern   = regexp.MustCompile(`(?is)\bGROUP\s+BY\b(.*?)(?:\bHAVING\b|\bORDER\s+BY\b|\bLIMIT\b|$)`)
	orderClausePattern   = regexp.MustCompile(`(?is)\bORDER\s+BY\b(.*?)(?:\bLIMIT\b|$)`)
)

// Lint returns the problems found in query, in a stable order. An empty
// result means the query passed every enabled check.
func Lint(query string, rules LintRules) []string {
	var problems []string
	bare := stringLiteralPattern.ReplaceAllString(query, "''")

	if rules.ForbidJoins && joinPattern.MatchString(bare) {
		msg := "JOIN is not supported"
		if rules.JoinHint != "" {
			msg += "; " + rules.JoinHint
		}
		problems = append(problems, msg+".")
	}
	if rules.ForbidSubqueries && subqueryPattern.MatchString(bare) {
		problems = append(problems, "Subqueries are not supported; rewrite the query without a nested SELECT.")
	}

	if rules.LookupDatabase != "" {
		lookups := lookupPattern.FindAllStringSubmatch(query, -1)
		prefix := rules.LookupDatabase + "."
		for _, m := range lookups {
			if !strings.HasPrefix(m[1], prefix) {
				problems = append(problems, fmt.Sprintf("LOOKUP table '%s' must be prefixed with the database name, e.g. '%s%s'.", m[1], prefix, m[1]))
			}
		}
		if rules.ForbidLookupGroupBy && len(lookups) > 0 && groupByPattern.MatchString(bare) {
			problems = append(problems, "LOOKUP cannot be combined with GROUP BY; group by the fact columns instead.")
		}
	}

	if rules.ForbidAliasRefs {
		problems = append(problems, aliasReferences(bare)...)
	}
	return problems
}

func aliasReferences(query string) []string {
	m := selectListPattern.FindStringSubmatch(query)
	if m == nil {
		return nil
	}

	var aliases []string
	for _, item := range splitTopLevel(m[1]) {
		am := aliasPattern.FindStringSubmatch(strings.TrimSpace(item))
		if am == nil || strings.EqualFold(strings.TrimSpace(am[1]), am[2]) {
			continue
		}
		aliases = append(aliases, am[2])
	}
	if len(aliases) == 0 {
		return nil
	}

	clauses := []struct {
		name    string
		pattern *regexp.Regexp
	}{
		{"WHERE", whereClausePattern},
		{"GROUP BY", groupClausePattern},
		{"ORDER BY", orderClausePattern},
	}

	var problems []string
	for _, c := range clauses {
		cm := c.pattern.FindStringSubmatch(query)
		if cm == nil {
			continue
		}
		for _, alias := range aliases {
			ref := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(alias) + `\b`)
			if ref.MatchString(cm[1]) {
				problems = append(problems, fmt.Sprintf("Column alias %q is used in %s; use the underlying expression instead.", alias, c.name))
			}
		}
	}
	return problems
}

// splitTopLevel splits a select list on commas outside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
