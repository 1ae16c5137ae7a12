package tenant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds carried by lifecycle results, matchable with errors.Is
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("schema not found")
	ErrConflict   = errors.New("schema already exists")
)

// ValidationError is a reserved or malformed schema name or target
type ValidationError struct {
	Schema string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a referenced schema that does not exist
type NotFoundError struct {
	Schema string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Schema %s does not exist", e.Schema)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError reports a schema that exists where absence was required
type ConflictError struct {
	Schema string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Schema %s already exists", e.Schema)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StatementError is a provisioning statement that failed with a non-duplicate error
type StatementError struct {
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return e.Err.Error()
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// SQLSTATE codes that mean the object is already there
var duplicateCodes = map[string]struct{}{
	"42P06": {}, // duplicate_schema
	"42P07": {}, // duplicate_table
	"42710": {}, // duplicate_object
	"42723": {}, // duplicate_function
	"23505": {}, // unique_violation
}

const undefinedTableCode = "42P01"

// IsDuplicate reports whether err is an "already exists" / "duplicate key" failure.
// The SQLSTATE decides when available; the message is the fallback.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := duplicateCodes[pgErr.Code]; ok {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate key")
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode
}

// errorMessage returns the server message for database errors and err.Error() otherwise
func errorMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}
	return err.Error()
}
