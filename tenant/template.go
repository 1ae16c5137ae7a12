package tenant

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/maxpert/tenantdb/naming"
)

// TemplateToken is replaced with the quoted schema name in the template DDL
const TemplateToken = "{SCHEMA_NAME}"

//go:embed templates/school_schema.sql
var defaultTemplate string

// Template is the DDL document every tenant schema is created from
type Template struct {
	source string
	text   string
}

// DefaultTemplate returns the built-in template
func DefaultTemplate() *Template {
	return &Template{source: "embedded", text: defaultTemplate}
}

// LoadTemplate reads a template from path. An empty path returns the built-in template.
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return DefaultTemplate(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema template: %w", err)
	}

	return NewTemplate(path, string(data))
}

// NewTemplate validates text as a template
func NewTemplate(source, text string) (*Template, error) {
	if !strings.Contains(text, TemplateToken) {
		return nil, fmt.Errorf("schema template %s does not contain %s", source, TemplateToken)
	}
	return &Template{source: source, text: text}, nil
}

// Source names where the template came from
func (t *Template) Source() string {
	return t.source
}

// Render substitutes every token occurrence with the quoted schema name
func (t *Template) Render(schema string) string {
	return strings.ReplaceAll(t.text, TemplateToken, naming.QuoteIdent(schema))
}

// Statements renders the template for schema and splits it into statements
func (t *Template) Statements(schema string) []string {
	return SplitStatements(t.Render(schema))
}
