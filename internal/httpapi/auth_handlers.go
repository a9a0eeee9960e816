package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/obs"
)

const (
	auditActionLogin       = "login"
	auditActionLoginFailed = "login.failed"
	auditActionLogout      = "logout"
	auditTargetAdmin       = "admin"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.authenticator == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login disabled")
		return
	}
	if !a.allowLogin(w, r) {
		return
	}

	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := req.Validate(); err != nil {
		writeErrorDetails(w, r, http.StatusBadRequest, "invalid payload", validationDetails(err))
		return
	}

	session, err := a.authenticator.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleAuthError(w, r, req.Email, err)
		return
	}

	a.setSessionCookie(w, session.Token, session.ExpiresAt)
	a.recordAudit(r, session.Identity, auditActionLogin, session.Identity.SubjectID, "")
	writeJSON(w, http.StatusOK, session)
}

// allowLogin consults the attempt limiter. A limiter outage is logged and the
// attempt proceeds.
func (a *API) allowLogin(w http.ResponseWriter, r *http.Request) bool {
	if a.loginLimiter == nil {
		return true
	}
	ok, retry, err := a.loginLimiter.Allow(r.Context(), clientIP(r), a.now())
	if err != nil {
		a.log.WarnContext(r.Context(), "login limiter unavailable",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		return true
	}
	if ok {
		return true
	}
	obs.LoginThrottled.Inc()
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, r, http.StatusTooManyRequests, "too many login attempts")
	return false
}

func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, email string, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		a.recordAudit(r, auth.Identity{Email: strings.ToLower(email)}, auditActionLoginFailed, strings.ToLower(email), "")
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	default:
		a.log.ErrorContext(r.Context(), "login failed",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// handleLogout always clears the cookie. An audit record is written only when
// the presented credential still verifies.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if token := a.extractToken(r); token != "" && a.tokens != nil {
		if id, err := a.tokens.Verify(token); err == nil {
			a.recordAudit(r, id, auditActionLogout, id.SubjectID, "")
		}
	}
	a.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request, _ routeParams, id auth.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (a *API) recordAudit(r *http.Request, actor auth.Identity, action, targetID, details string) {
	if a.audit == nil {
		return
	}
	a.audit.Record(r.Context(), audit.Record{
		Actor:      audit.ActorFrom(actor),
		Action:     action,
		TargetType: auditTargetAdmin,
		TargetID:   targetID,
		Details:    details,
	})
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func validationDetails(err error) map[string]string {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for field, fe := range errs {
		out[field] = fe.Error()
	}
	return out
}
