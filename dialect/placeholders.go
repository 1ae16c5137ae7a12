package dialect

import (
	"strconv"
	"strings"
)

// numberPlaceholders replaces each "?" with $1, $2, ... left to right.
// Question marks inside quoted literals, quoted identifiers and comments are not
// placeholders and are copied through.
func numberPlaceholders(sql string) (string, int) {
	if strings.IndexByte(sql, '?') < 0 {
		return sql, 0
	}

	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 0

	for i := 0; i < len(sql); i++ {
		if end := quotedEnd(sql, i); end >= 0 {
			b.WriteString(sql[i:end])
			i = end - 1
			continue
		}
		if sql[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(sql[i])
	}

	return b.String(), n
}

// quotedEnd returns the index just past the literal, quoted identifier or
// comment opening at i, or -1 when none opens there
func quotedEnd(sql string, i int) int {
	c := sql[i]
	switch {
	case c == '\'' || c == '"':
		return skipQuoted(sql, i, c)
	case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
		end := strings.IndexByte(sql[i:], '\n')
		if end < 0 {
			return len(sql)
		}
		return i + end
	case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
		end := strings.Index(sql[i+2:], "*/")
		if end < 0 {
			return len(sql)
		}
		return i + end + 4
	}
	return -1
}

// skipQuoted returns the index just past the quoted run starting at start.
// A doubled quote character is an escaped quote.
func skipQuoted(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(sql)
}

// span is a [start, end) run of quoted text or comment
type span struct {
	start, end int
}

func quotedSpans(sql string) []span {
	var spans []span
	for i := 0; i < len(sql); i++ {
		if end := quotedEnd(sql, i); end >= 0 {
			spans = append(spans, span{start: i, end: end})
			i = end - 1
		}
	}
	return spans
}

// spanInside returns the index of the span strictly containing pos, or -1
func spanInside(spans []span, pos int) int {
	for i, s := range spans {
		if s.start < pos && pos < s.end {
			return i
		}
	}
	return -1
}
