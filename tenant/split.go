package tenant

import "strings"

// SplitStatements splits a SQL script on top-level semicolons. Semicolons inside
// quoted literals, quoted identifiers, dollar-quoted bodies and comments do not
// end a statement. Empty and comment-only statements are dropped.
func SplitStatements(script string) []string {
	var (
		out   []string
		start int
	)

	flush := func(end int) {
		stmt := strings.TrimSpace(script[start:end])
		if stmt != "" && !commentOnly(stmt) {
			out = append(out, stmt)
		}
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\'' || c == '"':
			i = skipQuotedRun(script, i, c) - 1
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				i = len(script) - 1
			} else {
				i += end
			}
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script) - 1
			} else {
				i += end + 3
			}
		case c == '$':
			if tag, ok := dollarTag(script, i); ok {
				end := strings.Index(script[i+len(tag):], tag)
				if end < 0 {
					i = len(script) - 1
				} else {
					i += len(tag) + end + len(tag) - 1
				}
			}
		case c == ';':
			flush(i)
			start = i + 1
		}
	}
	flush(len(script))

	return out
}

// dollarTag returns the $tag$ opener starting at i, if any. Positional
// parameters such as $1 are not tags.
func dollarTag(s string, i int) (string, bool) {
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[i : j+1], true
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && j > i+1:
		default:
			return "", false
		}
	}
	return "", false
}

func skipQuotedRun(s string, start int, quote byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

func commentOnly(stmt string) bool {
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return false
		}
	}
	return true
}

// summarize returns the first non-comment line of stmt, shortened for logs and outcomes
func summarize(stmt string) string {
	const maxLen = 96
	line := stmt
	for _, l := range strings.Split(stmt, "\n") {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, "--") {
			line = l
			break
		}
	}
	if len(line) > maxLen {
		line = line[:maxLen] + "..."
	}
	return line
}
