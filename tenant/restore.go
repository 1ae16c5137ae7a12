package tenant

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// ReadScript reads a plain or gzip compressed SQL script
func ReadScript(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if IsCompressedPath(path) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("failed to open compressed script: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

// Restore executes a backup script in one transaction. The tables it fills
// must already exist, normally through Create of the same tenant code.
func (m *Manager) Restore(ctx context.Context, scriptPath string) (*RestoreResult, error) {
	start := time.Now()
	res := &RestoreResult{Path: scriptPath}
	defer observe("restore", start, &res.Result)

	script, err := ReadScript(scriptPath)
	if err != nil {
		res.fail(err)
		return res, nil
	}

	statements := SplitStatements(script)
	if len(statements) == 0 {
		res.fail(&ValidationError{Reason: fmt.Sprintf("Script %s contains no statements", scriptPath)})
		return res, nil
	}

	err = m.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return &StatementError{Index: i, Statement: summarize(stmt), Err: err}
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("path", scriptPath).Msg("Restore failed")
		return res, settle(&res.Result, err)
	}

	res.Statements = len(statements)
	res.succeed()
	log.Info().
		Str("path", scriptPath).
		Int("statements", res.Statements).
		Dur("duration", time.Since(start)).
		Msg("Backup script restored")
	return res, nil
}
