package dialect

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// substr(<operand>, <start>[, <length>]); operand may be a single-level call
	substrRe = regexp.MustCompile(`(?i)\bsubstr\(\s*([^(),]+(?:\([^()]*\))?)\s*,\s*([^(),]+?)\s*(?:,\s*([^(),]+?)\s*)?\)`)
	ifnullRe = regexp.MustCompile(`(?i)\bifnull\(`)
)

// SubstrRule rewrites substr(x, start, len) into SUBSTRING(x FROM start FOR len).
// Both forms are 1-based. SQLite's negative start (count from the end) has no
// SUBSTRING equivalent, so those calls are left as they are.
type SubstrRule struct{}

func (r *SubstrRule) Name() string  { return "Substr" }
func (r *SubstrRule) Priority() int { return 50 }

func (r *SubstrRule) ApplyPattern(sql string) (string, bool) {
	return replaceInCode(substrRe, sql, func(parts []string) (string, bool) {
		operand := strings.TrimSpace(parts[1])
		start := strings.TrimSpace(parts[2])
		length := strings.TrimSpace(parts[3])
		if strings.HasPrefix(start, "-") {
			return "", false
		}
		if length == "" {
			return fmt.Sprintf("SUBSTRING(%s FROM %s)", operand, start), true
		}
		return fmt.Sprintf("SUBSTRING(%s FROM %s FOR %s)", operand, start, length), true
	})
}

// IfNullRule rewrites ifnull(a, b) into COALESCE(a, b)
type IfNullRule struct{}

func (r *IfNullRule) Name() string  { return "IfNull" }
func (r *IfNullRule) Priority() int { return 60 }

func (r *IfNullRule) ApplyPattern(sql string) (string, bool) {
	return replaceInCode(ifnullRe, sql, func([]string) (string, bool) {
		return "COALESCE(", true
	})
}
