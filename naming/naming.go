// Package naming maps tenant codes to schema identifiers and owns identifier quoting.
//
// Every schema- or table-qualified name that ends up inside SQL text is built here.
// Identifiers cannot be bound as parameters, so the rest of the codebase must go
// through QuoteIdent/Qualify instead of formatting names by hand.
package naming

import (
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const (
	// Prefix is prepended to every tenant schema name
	Prefix = "school_"

	// PublicSchema is the shared default schema, never a tenant
	PublicSchema = "public"
)

// MaxIdentifierLength is PostgreSQL's NAMEDATALEN-1
const MaxIdentifierLength = 63

var (
	tenantSchemaRe = regexp.MustCompile(`^school_[a-z][a-z0-9_]*$`)
	identifierRe   = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Generate derives the canonical schema name for a tenant code.
//
//	Generate("WS2025") == "school_ws2025"
//	Generate("2025B")  == "school_s2025b"
//
// The result always matches ^school_[a-z][a-z0-9_]*$ and re-applying Generate to
// the sanitized body of its own output yields the same body.
func Generate(code string) string {
	lower := strings.ToLower(code)

	var b strings.Builder
	b.Grow(len(Prefix) + len(lower) + 1)
	b.WriteString(Prefix)

	body := make([]byte, 0, len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			body = append(body, byte(r))
			continue
		}
		body = append(body, '_')
	}

	// Leading digit gets an "s"; an empty or underscore-led body does too so the
	// identifier still starts with a letter after the prefix.
	if len(body) == 0 || body[0] < 'a' || body[0] > 'z' {
		b.WriteByte('s')
	}
	b.Write(body)

	return b.String()
}

// IsTenantSchema reports whether name follows the tenant naming convention
func IsTenantSchema(name string) bool {
	return tenantSchemaRe.MatchString(name)
}

// ValidSchemaName reports whether name is a plain lowercase identifier that
// PostgreSQL stores without truncation
func ValidSchemaName(name string) bool {
	return len(name) <= MaxIdentifierLength && identifierRe.MatchString(name)
}

// QuoteIdent returns name as a double-quoted SQL identifier
func QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Qualify returns a quoted schema-qualified relation name
func Qualify(schema, relation string) string {
	return pgx.Identifier{schema, relation}.Sanitize()
}
