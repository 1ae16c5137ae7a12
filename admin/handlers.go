package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maxpert/tenantdb/tenant"
	"github.com/rs/zerolog/log"
)

// SchemaService is the read-only part of the lifecycle manager the admin API exposes
type SchemaService interface {
	List(ctx context.Context) ([]string, error)
	ListMatching(ctx context.Context, pattern string) ([]string, error)
	Stats(ctx context.Context, schema string) (*tenant.StatsResult, error)
}

// Pinger checks database connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// AdminHandlers serves the admin API
type AdminHandlers struct {
	schemas SchemaService
	db      Pinger
	secret  string
}

// NewAdminHandlers creates the handlers; an empty secret disables authentication
func NewAdminHandlers(schemas SchemaService, db Pinger, secret string) *AdminHandlers {
	return &AdminHandlers{
		schemas: schemas,
		db:      db,
		secret:  secret,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// parseFrom parses from parameter for pagination
func parseFrom(r *http.Request) string {
	return r.URL.Query().Get("from")
}
