package httpapi

import (
	"net/http"
	"strings"

	"custodia.org/internal/auth"
	"custodia.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// routeParams are the path segments that follow a route prefix.
type routeParams struct {
	segments []string
}

func (p routeParams) at(i int) string {
	if i < 0 || i >= len(p.segments) {
		return ""
	}
	return p.segments[i]
}

func (p routeParams) len() int { return len(p.segments) }

func paramsAfter(path, prefix string) routeParams {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return routeParams{}
	}
	return routeParams{segments: strings.Split(rest, "/")}
}

type gatedHandler func(w http.ResponseWriter, r *http.Request, p routeParams, id auth.Identity)

// gate authenticates the caller before h runs. A missing or unverifiable
// credential gets the same 401 and h is never invoked.
func (a *API) gate(h gatedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := a.extractToken(r)
		if token == "" {
			a.unauthenticated(w, r, "missing")
			return
		}
		if a.tokens == nil {
			a.unauthenticated(w, r, "unconfigured")
			return
		}
		id, err := a.tokens.Verify(token)
		if err != nil {
			a.unauthenticated(w, r, "invalid")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id)
		ctx = auth.ContextWithToken(ctx, token)
		r = r.WithContext(ctx)
		h(w, r, paramsAfter(r.URL.Path, gatedPrefix(r.URL.Path)), id)
	}
}

func gatedPrefix(path string) string {
	if strings.HasPrefix(path, resourcesPrefix) {
		return resourcesPrefix
	}
	return path
}

func (a *API) unauthenticated(w http.ResponseWriter, r *http.Request, reason string) {
	obs.AuthRejections.WithLabelValues(reason).Inc()
	w.Header().Set("WWW-Authenticate", `Bearer realm="custodia"`)
	writeError(w, r, http.StatusUnauthorized, "authentication required")
}

// extractToken prefers the Authorization header and falls back to the
// session cookie.
func (a *API) extractToken(r *http.Request) string {
	if token := bearerToken(r.Header.Get(authHeader)); token != "" {
		return token
	}
	if c, err := r.Cookie(a.cookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
