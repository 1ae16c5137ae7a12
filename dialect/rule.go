// Package dialect rewrites portable query templates into native PostgreSQL.
//
// Callers above the data-access contract write SQL with "?" placeholders and a
// handful of legacy SQLite date/string functions. The Translator rewrites those
// functions through an ordered RuleSet and then numbers the placeholders ($1, $2, ...).
// Rules are whole-match pattern rewrites: a call that does not fully match a rule's
// shape is left untouched rather than partially rewritten.
package dialect

import (
	"regexp"
	"strings"
)

// Rule rewrites one family of legacy constructs
type Rule interface {
	Name() string
	Priority() int
	ApplyPattern(sql string) (string, bool)
}

type RuleSet []Rule

func (rs RuleSet) Len() int           { return len(rs) }
func (rs RuleSet) Less(i, j int) bool { return rs[i].Priority() < rs[j].Priority() }
func (rs RuleSet) Swap(i, j int)      { rs[i], rs[j] = rs[j], rs[i] }

// DefaultRules returns the legacy function rewrites in application order
func DefaultRules() RuleSet {
	return RuleSet{
		&StartOfMonthRule{},
		&RelativeNowRule{},
		&NowRule{},
		&StrftimeRule{},
		&SubstrRule{},
		&IfNullRule{},
	}
}

// replaceInCode replaces the matches of re with what fn returns for their
// submatches. A match is skipped when it starts inside a literal, quoted
// identifier or comment, when it or one of its groups cuts through one, or
// when fn declines it.
func replaceInCode(re *regexp.Regexp, sql string, fn func(parts []string) (string, bool)) (string, bool) {
	matches := re.FindAllStringSubmatchIndex(sql, -1)
	if len(matches) == 0 {
		return sql, false
	}
	spans := quotedSpans(sql)

	var b strings.Builder
	last := 0
	for _, m := range matches {
		if !inCode(spans, m) {
			continue
		}
		parts := make([]string, len(m)/2)
		for g := range parts {
			if m[2*g] >= 0 {
				parts[g] = sql[m[2*g]:m[2*g+1]]
			}
		}
		replacement, ok := fn(parts)
		if !ok {
			continue
		}
		b.WriteString(sql[last:m[0]])
		b.WriteString(replacement)
		last = m[1]
	}
	if last == 0 {
		return sql, false
	}
	b.WriteString(sql[last:])
	return b.String(), true
}

// inCode reports whether a match, given as submatch indexes, starts and ends in
// code and keeps each group either outside quoted text or within a single run
func inCode(spans []span, m []int) bool {
	for _, s := range spans {
		if s.start <= m[0] && m[0] < s.end {
			return false
		}
	}
	if spanInside(spans, m[1]) >= 0 {
		return false
	}
	for g := 2; g+1 < len(m); g += 2 {
		if m[g] < 0 {
			continue
		}
		if spanInside(spans, m[g]) != spanInside(spans, m[g+1]) {
			return false
		}
	}
	return true
}
