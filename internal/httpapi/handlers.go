package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"custodia.org/internal/audit"
	"custodia.org/internal/auth"
	"custodia.org/internal/obs"
	"custodia.org/internal/stream"
	"custodia.org/internal/throttle"
	"custodia.org/internal/transition"
)

const serviceName = "custodia-backoffice"

// ReadyProbe pings the backing stores that are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Services are the domain collaborators the HTTP layer dispatches to.
type Services struct {
	Tokens        *auth.TokenService
	Authenticator *auth.Authenticator
	Transitions   *transition.Service
	Audit         *audit.Logger
	Stream        *stream.Stream
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	tokens        *auth.TokenService
	authenticator *auth.Authenticator
	transitions   *transition.Service
	audit         *audit.Logger
	stream        *stream.Stream
	loginLimiter  throttle.Limiter

	cookieName   string
	cookieSecure bool
	maxBodyBytes int64
	rateBurst    int
	ratePerSec   int
	proxies      TrustedProxies

	log *slog.Logger
	now func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures API.
type Option func(*API)

// WithLoginLimiter throttles POST /v1/auth/login per client IP.
func WithLoginLimiter(l throttle.Limiter) Option {
	return func(a *API) { a.loginLimiter = l }
}

// WithCookie sets the session cookie name and Secure flag.
func WithCookie(name string, secure bool) Option {
	return func(a *API) {
		if name != "" {
			a.cookieName = name
		}
		a.cookieSecure = secure
	}
}

// WithRateLimit sets the per-IP token bucket for every route.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithTrustedProxies honours X-Forwarded-For only from the given peers.
func WithTrustedProxies(tp TrustedProxies) Option {
	return func(a *API) { a.proxies = tp }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

func New(rp ReadyProbe, version string, svc Services, opts ...Option) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    rp,
		version:       version,
		tokens:        svc.Tokens,
		authenticator: svc.Authenticator,
		transitions:   svc.Transitions,
		audit:         svc.Audit,
		stream:        svc.Stream,
		cookieName:    "custodia_session",
		cookieSecure:  true,
		maxBodyBytes:  64 << 10,
		rateBurst:     40,
		ratePerSec:    20,
		log:           obs.Logger(),
		now:           time.Now,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.gate(a.handleMe))

	a.mux.HandleFunc(resourcesPrefix, a.gate(a.handleResources))

	a.mux.HandleFunc("/v1/audit", a.gate(a.handleAuditList))
	a.mux.HandleFunc("/v1/audit/stream", a.gate(a.Stream))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain, outermost first:
// request id, client address, panic recovery, access log, metrics, security
// headers, CORS, rate limit and body limit.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec, a.done)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = Recover(h)
	h = RealIP(h, a.proxies)
	return RequestID(h)
}

// Close stops the background work started by Handler.
func (a *API) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		a.log.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
