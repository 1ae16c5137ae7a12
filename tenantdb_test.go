package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupPath(t *testing.T) {
	now := time.Date(2025, 9, 1, 8, 30, 5, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "backups/school_a_20250901T063005Z.sql.gz", backupPath("backups", "school_a", now))
}

func TestParseTenantID(t *testing.T) {
	id, err := parseTenantID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = parseTenantID("forty-two")
	assert.Error(t, err)
}

func TestCommandsRejectMissingArguments(t *testing.T) {
	for name, cmd := range commands {
		if name == "list" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			_, ok, err := cmd(context.Background(), &app{}, nil)
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}
