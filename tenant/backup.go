package tenant

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/gzip"
	"github.com/maxpert/tenantdb/naming"
	"github.com/maxpert/tenantdb/telemetry"
	"github.com/rs/zerolog/log"
)

// IsCompressedPath reports whether path names a gzip artifact
func IsCompressedPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Backup writes a self-contained script that recreates schema (if absent) and
// repopulates its tables. Tables are written parents first; serial sequences
// are moved past the restored ids. Paths ending in .gz are gzip compressed.
// The artifact is written to a temporary file and renamed into place.
func (m *Manager) Backup(ctx context.Context, schema, outputPath string) (*BackupResult, error) {
	start := time.Now()
	res := &BackupResult{SchemaName: schema, Path: outputPath}
	defer observe("backup", start, &res.Result)

	if !naming.ValidSchemaName(schema) {
		res.fail(&ValidationError{Schema: schema, Reason: fmt.Sprintf("Invalid schema name %q", schema)})
		return res, nil
	}
	if outputPath == "" {
		res.fail(&ValidationError{Schema: schema, Reason: "Backup output path is required"})
		return res, nil
	}

	err := m.withConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
		if err != nil {
			return fmt.Errorf("failed to begin snapshot: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		exists, err := schemaExists(ctx, tx, schema)
		if err != nil {
			return err
		}
		if !exists {
			return &NotFoundError{Schema: schema}
		}

		tables, err := orderedTables(ctx, tx, schema)
		if err != nil {
			return err
		}

		return writeArtifact(outputPath, func(w io.Writer) error {
			res.Tables, err = dumpSchema(ctx, tx, schema, tables, w)
			return err
		}, &res.Bytes)
	})
	if err != nil {
		log.Error().Err(err).Str("schema", schema).Str("path", outputPath).Msg("Backup failed")
		return res, settle(&res.Result, err)
	}

	res.succeed()
	telemetry.BackupBytesTotal.Add(float64(res.Bytes))
	log.Info().
		Str("schema", schema).
		Str("path", outputPath).
		Int("tables", len(res.Tables)).
		Int64("rows", res.TotalRows()).
		Int64("bytes", res.Bytes).
		Dur("duration", time.Since(start)).
		Msg("Schema backed up")
	return res, nil
}

// writeArtifact creates the destination directory, streams fill into a
// temporary file (gzip when the path asks for it) and renames it to path
func writeArtifact(path string, fill func(io.Writer) error, written *int64) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	tmpName := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpName)
		}
	}()

	counter := &countingWriter{w: f}
	var sink io.Writer = counter
	var gz *gzip.Writer
	if IsCompressedPath(path) {
		gz = gzip.NewWriter(counter)
		sink = gz
	}
	bw := bufio.NewWriterSize(sink, 64*1024)

	if err = fill(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if gz != nil {
		if err = gz.Close(); err != nil {
			return fmt.Errorf("failed to finish compressed backup: %w", err)
		}
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close backup: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move backup into place: %w", err)
	}

	*written = counter.n
	return nil
}

// dumpSchema writes the script body for tables in the given order
func dumpSchema(ctx context.Context, q querier, schema string, tables []string, w io.Writer) ([]TableRows, error) {
	fmt.Fprintf(w, "-- tenantdb schema backup\n")
	fmt.Fprintf(w, "-- schema: %s\n", schema)
	fmt.Fprintf(w, "-- created: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "-- tables: %d\n\n", len(tables))
	fmt.Fprintf(w, "CREATE SCHEMA IF NOT EXISTS %s;\n", naming.QuoteIdent(schema))

	counts := make([]TableRows, 0, len(tables))
	var sequences []string

	for _, table := range tables {
		cols, err := tableColumns(ctx, q, schema, table)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			continue
		}

		n, err := dumpTable(ctx, q, schema, table, cols, w)
		if err != nil {
			return nil, err
		}
		counts = append(counts, TableRows{Table: table, Rows: n})

		for _, c := range cols {
			if c.Serial {
				sequences = append(sequences, setvalStatement(schema, table, c.Name))
			}
		}
	}

	if len(sequences) > 0 {
		fmt.Fprintf(w, "\n-- Sequences\n")
		for _, s := range sequences {
			fmt.Fprintf(w, "%s\n", s)
		}
	}

	return counts, nil
}

func dumpTable(ctx context.Context, q querier, schema, table string, cols []column, w io.Writer) (int64, error) {
	qualified := naming.Qualify(schema, table)
	list := columnList(columnNames(cols))

	rows, err := q.Query(ctx, "SELECT "+selectList(cols)+" FROM "+qualified)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", qualified, err)
	}
	defer rows.Close()

	fmt.Fprintf(w, "\n-- Table: %s\n", table)

	var n int64
	values := make([]string, len(cols))
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return n, fmt.Errorf("failed to decode row of %s: %w", qualified, err)
		}
		for i, v := range raw {
			values[i] = Literal(v)
		}
		if _, err := fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n", qualified, list, strings.Join(values, ", ")); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("failed to read %s: %w", qualified, err)
	}
	return n, nil
}

// setvalStatement moves the sequence behind schema.table.col past its largest value
func setvalStatement(schema, table, col string) string {
	qualified := naming.Qualify(schema, table)
	return fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence(%s, %s), COALESCE(MAX(%s), 0) + 1, false) FROM %s;",
		quoteLiteral(qualified), quoteLiteral(col), naming.QuoteIdent(col), qualified,
	)
}
