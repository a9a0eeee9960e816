package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
)

type listAuditResponse struct {
	Items     []audit.Record `json:"items"`
	NextAfter uint64         `json:"next_after"`
	AsOf      time.Time      `json:"as_of"`
}

// handleAuditList serves GET /v1/audit?target_type=&target_id=&limit=&after=
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request, _ routeParams, _ auth.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.audit == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit disabled")
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var after uint64
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
	}

	items, err := a.audit.Store().List(r.Context(), audit.Filter{
		TargetType:    strings.TrimSpace(q.Get("target_type")),
		TargetID:      strings.TrimSpace(q.Get("target_id")),
		AfterSequence: after,
		Limit:         limit,
	})
	if err != nil {
		a.log.ErrorContext(r.Context(), "audit list failed",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []audit.Record{}
	}
	next := after
	for _, it := range items {
		if it.Sequence > next {
			next = it.Sequence
		}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      a.now().UTC(),
	})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
