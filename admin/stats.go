package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/tenantdb/tenant"
)

// handleHealth reports whether the database answers a ping
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "database unreachable: "+err.Error())
		return
	}
	writeJSONResponse(w, map[string]interface{}{"healthy": true}, false, "")
}

// handleListSchemas returns tenant schemas in name order, paginated by
// ?from=<last name seen>&limit=N and optionally filtered by ?match=<glob>
func (h *AdminHandlers) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	from := parseFrom(r)

	var names []string
	if pattern := r.URL.Query().Get("match"); pattern != "" {
		names, err = h.schemas.ListMatching(r.Context(), pattern)
	} else {
		names, err = h.schemas.List(r.Context())
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	page := make([]string, 0, limit)
	hasMore := false
	for _, name := range names {
		if from != "" && name <= from {
			continue
		}
		if len(page) == limit {
			hasMore = true
			break
		}
		page = append(page, name)
	}

	lastKey := ""
	if hasMore {
		lastKey = page[len(page)-1]
	}
	writeJSONResponse(w, page, hasMore, lastKey)
}

// handleSchemaStats returns the operational counters of one schema
func (h *AdminHandlers) handleSchemaStats(w http.ResponseWriter, r *http.Request) {
	schema := chi.URLParam(r, "schema")

	res, err := h.schemas.Stats(r.Context(), schema)
	if err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !res.Success {
		switch {
		case errors.Is(res.Err, tenant.ErrNotFound):
			writeErrorResponse(w, http.StatusNotFound, res.Error)
		case errors.Is(res.Err, tenant.ErrValidation):
			writeErrorResponse(w, http.StatusBadRequest, res.Error)
		default:
			writeErrorResponse(w, http.StatusInternalServerError, res.Error)
		}
		return
	}

	writeJSONResponse(w, res, false, "")
}
