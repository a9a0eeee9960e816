package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"custodia.org/internal/auth"
	"custodia.org/internal/lifecycle"
	"custodia.org/internal/resource"
	"custodia.org/internal/transition"
)

const resourcesPrefix = "/v1/resources/"

// handleResources serves
//
//	GET   /v1/resources/{kind}/{id}
//	PATCH /v1/resources/{kind}/{id}/{action}
func (a *API) handleResources(w http.ResponseWriter, r *http.Request, p routeParams, id auth.Identity) {
	kind, ok := lifecycle.ParseKind(p.at(0))
	if !ok || p.at(1) == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	resourceID := p.at(1)

	switch p.len() {
	case 2:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getResource(w, r, kind, resourceID)
	case 3:
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.transition(w, r, id, kind, resourceID, p.at(2))
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getResource(w http.ResponseWriter, r *http.Request, kind lifecycle.Kind, id string) {
	res, err := a.transitions.Get(r.Context(), kind, id)
	if err != nil {
		a.handleTransitionError(w, r, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, resource.ToView(res))
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, actor auth.Identity, kind lifecycle.Kind, id, rawAction string) {
	action, ok := lifecycle.ParseAction(rawAction)
	if !ok {
		writeError(w, r, http.StatusNotFound, notFoundMessage(kind))
		return
	}

	var payload lifecycle.Payload
	if err := decodeOptionalJSON(w, r, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}

	res, err := a.transitions.Apply(r.Context(), actor, kind, id, action, payload)
	if err != nil {
		a.handleTransitionError(w, r, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, resource.ToView(res))
}

func (a *API) handleTransitionError(w http.ResponseWriter, r *http.Request, kind lifecycle.Kind, err error) {
	var verr *transition.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorDetails(w, r, http.StatusBadRequest, "invalid payload", verr.Fields)
	case errors.Is(err, resource.ErrNotFound), errors.Is(err, lifecycle.ErrRejected):
		writeError(w, r, http.StatusNotFound, notFoundMessage(kind))
	case errors.Is(err, resource.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict")
	default:
		a.log.ErrorContext(r.Context(), "resource operation failed",
			"request_id", RequestIDFromContext(r.Context()),
			"kind", kind,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func notFoundMessage(kind lifecycle.Kind) string {
	return kind.Title() + " not found"
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints where an empty body means
// the zero value.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if err := decodeJSON(w, r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeErrorDetails(w, r, http.StatusBadRequest, "invalid payload", map[string]string{"body": err.Error()})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorDetails(w, r, code, msg, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, code int, msg string, details map[string]string) {
	payload := map[string]any{
		"error": msg,
	}
	if len(details) > 0 {
		payload["details"] = details
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
