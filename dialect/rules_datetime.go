package dialect

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	startOfMonthRe = regexp.MustCompile(`(?i)\bdate\(\s*'now'\s*,\s*'start of month'\s*\)`)
	relativeNowRe  = regexp.MustCompile(`(?i)\b(date|datetime)\(\s*'now'\s*,\s*'([+-]?)\s*(\d+)\s+(second|minute|hour|day|month|year)s?'\s*\)`)
	datetimeNowRe  = regexp.MustCompile(`(?i)\bdatetime\(\s*'now'\s*\)`)
	dateNowRe      = regexp.MustCompile(`(?i)\bdate\(\s*'now'\s*\)`)

	// strftime('<fmt>', <operand>) where operand is a bare term or a single-level call
	strftimeRe = regexp.MustCompile(`(?i)\bstrftime\(\s*'([^']*)'\s*,\s*('now'|[^(),']+(?:\([^()]*\))?)\s*\)`)
)

// strftime tokens with an exact TO_CHAR equivalent
var strftimeTokens = map[byte]string{
	'Y': "YYYY",
	'm': "MM",
	'd': "DD",
	'H': "HH24",
	'M': "MI",
	'S': "SS",
	'j': "DDD",
}

// StartOfMonthRule rewrites date('now','start of month')
type StartOfMonthRule struct{}

func (r *StartOfMonthRule) Name() string  { return "StartOfMonth" }
func (r *StartOfMonthRule) Priority() int { return 10 }

func (r *StartOfMonthRule) ApplyPattern(sql string) (string, bool) {
	return replaceInCode(startOfMonthRe, sql, func([]string) (string, bool) {
		return "DATE_TRUNC('month', CURRENT_DATE)::date", true
	})
}

// RelativeNowRule rewrites date/datetime('now', '-7 days') style offsets
type RelativeNowRule struct{}

func (r *RelativeNowRule) Name() string  { return "RelativeNow" }
func (r *RelativeNowRule) Priority() int { return 20 }

func (r *RelativeNowRule) ApplyPattern(sql string) (string, bool) {
	return replaceInCode(relativeNowRe, sql, func(parts []string) (string, bool) {
		op := "+"
		if parts[2] == "-" {
			op = "-"
		}
		interval := fmt.Sprintf("INTERVAL '%s %ss'", parts[3], strings.ToLower(parts[4]))
		if strings.EqualFold(parts[1], "date") {
			return fmt.Sprintf("(CURRENT_DATE %s %s)::date", op, interval), true
		}
		return fmt.Sprintf("(NOW() %s %s)", op, interval), true
	})
}

// NowRule rewrites datetime('now') and date('now')
type NowRule struct{}

func (r *NowRule) Name() string  { return "Now" }
func (r *NowRule) Priority() int { return 30 }

func (r *NowRule) ApplyPattern(sql string) (string, bool) {
	newSQL, dt := replaceInCode(datetimeNowRe, sql, func([]string) (string, bool) { return "NOW()", true })
	newSQL, d := replaceInCode(dateNowRe, newSQL, func([]string) (string, bool) { return "CURRENT_DATE", true })
	return newSQL, dt || d
}

// StrftimeRule rewrites strftime(fmt, expr) into TO_CHAR(expr, pgfmt).
// Formats containing a token without an exact TO_CHAR equivalent are left alone.
type StrftimeRule struct{}

func (r *StrftimeRule) Name() string  { return "Strftime" }
func (r *StrftimeRule) Priority() int { return 40 }

func (r *StrftimeRule) ApplyPattern(sql string) (string, bool) {
	return replaceInCode(strftimeRe, sql, func(parts []string) (string, bool) {
		format, ok := convertStrftimeFormat(parts[1])
		if !ok {
			return "", false
		}
		operand := strings.TrimSpace(parts[2])
		if strings.EqualFold(operand, "'now'") {
			operand = "NOW()"
		}
		return fmt.Sprintf("TO_CHAR(%s, '%s')", operand, format), true
	})
}

// convertStrftimeFormat maps a strftime format to a TO_CHAR template.
// Literal text is wrapped in double quotes so TO_CHAR does not read it as a pattern.
func convertStrftimeFormat(format string) (string, bool) {
	var b strings.Builder
	var literal strings.Builder

	flush := func() {
		if literal.Len() == 0 {
			return
		}
		text := literal.String()
		literal.Reset()
		if strings.Trim(text, "-/:. ") == "" {
			b.WriteString(text)
			return
		}
		b.WriteString(`"` + text + `"`)
	}

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			literal.WriteByte(format[i])
			continue
		}
		if i+1 >= len(format) {
			return "", false
		}
		if format[i+1] == '%' {
			literal.WriteByte('%')
			i++
			continue
		}
		token, ok := strftimeTokens[format[i+1]]
		if !ok {
			return "", false
		}
		flush()
		b.WriteString(token)
		i++
	}
	flush()

	return b.String(), true
}
