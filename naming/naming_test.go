package naming

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var schemaNameRe = regexp.MustCompile(`^school_[a-z][a-z0-9_]*$`)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected string
	}{
		{name: "alphanumeric code", code: "WS2025", expected: "school_ws2025"},
		{name: "leading digit", code: "2025B", expected: "school_s2025b"},
		{name: "hyphen and space", code: "St Mary-High", expected: "school_st_mary_high"},
		{name: "already lowercase", code: "abc_def", expected: "school_abc_def"},
		{name: "unicode letters", code: "Zürich1", expected: "school_z_rich1"},
		{name: "empty code", code: "", expected: "school_s"},
		{name: "leading underscore", code: "_x", expected: "school_s_x"},
		{name: "punctuation only", code: "!!", expected: "school_s__"},
		{name: "sql injection attempt", code: `a"; DROP SCHEMA public; --`, expected: "school_a___drop_schema_public____"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(tt.code)
			assert.Equal(t, tt.expected, got)
			assert.Regexp(t, schemaNameRe, got)
		})
	}
}

func TestGenerate_DeterministicAndIdempotent(t *testing.T) {
	codes := []string{"WS2025", "2025B", "north-campus", "ÄÖÜ", "", "   ", "x", "9", "MiXeD_Case_42"}

	for _, code := range codes {
		first := Generate(code)
		require.Equal(t, first, Generate(code), "code %q", code)
		require.Regexp(t, schemaNameRe, first)
		require.NotEqual(t, PublicSchema, first)

		body := strings.TrimPrefix(first, Prefix)
		assert.Equal(t, first, Generate(body), "re-applying to body of %q", first)
	}
}

func TestIsTenantSchema(t *testing.T) {
	assert.True(t, IsTenantSchema("school_ws2025"))
	assert.True(t, IsTenantSchema(Generate("2025B")))
	assert.False(t, IsTenantSchema("public"))
	assert.False(t, IsTenantSchema("school_"))
	assert.False(t, IsTenantSchema("school_1abc"))
	assert.False(t, IsTenantSchema("School_abc"))
	assert.False(t, IsTenantSchema(`school_a"b`))
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"school_ws2025"`, QuoteIdent("school_ws2025"))
	assert.Equal(t, `"school_ws2025"."students"`, Qualify("school_ws2025", "students"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}

func TestValidSchemaName(t *testing.T) {
	assert.True(t, ValidSchemaName("public"))
	assert.True(t, ValidSchemaName("school_ws2025"))
	assert.True(t, ValidSchemaName("_tmp"))
	assert.False(t, ValidSchemaName(""))
	assert.False(t, ValidSchemaName("1abc"))
	assert.False(t, ValidSchemaName("School"))
	assert.False(t, ValidSchemaName("a b"))
	assert.False(t, ValidSchemaName(strings.Repeat("a", MaxIdentifierLength+1)))
	assert.True(t, ValidSchemaName(strings.Repeat("a", MaxIdentifierLength)))
}

func TestGenerate_LengthLimit(t *testing.T) {
	fits := Generate(strings.Repeat("a", MaxIdentifierLength-len(Prefix)))
	assert.Len(t, fits, MaxIdentifierLength)
	assert.True(t, ValidSchemaName(fits))

	tooLong := Generate(strings.Repeat("a", MaxIdentifierLength-len(Prefix)+1))
	assert.Len(t, tooLong, MaxIdentifierLength+1)
	assert.False(t, ValidSchemaName(tooLong))
}
