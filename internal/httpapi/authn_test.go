package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"custodia.org/internal/auth"
	"custodia.org/internal/obs"
)

func newGateAPI(t *testing.T) (*API, *auth.TokenService) {
	t.Helper()
	tokens, err := auth.NewTokenService([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	api := New(ReadyProbe{}, "test", Services{Tokens: tokens})
	t.Cleanup(api.Close)
	return api, tokens
}

func TestGateInvokesHandlerWithIdentity(t *testing.T) {
	api, tokens := newGateAPI(t)
	tok, _, err := tokens.Issue(auth.Identity{SubjectID: "op-7", Email: "op7@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var got auth.Identity
	var params routeParams
	h := api.gate(func(w http.ResponseWriter, r *http.Request, p routeParams, id auth.Identity) {
		got = id
		params = p
		if ctxID, ok := auth.IdentityFromContext(r.Context()); !ok || ctxID != id {
			t.Fatalf("identity missing from context")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPatch, "/v1/resources/accounts/A1/suspend", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	rr := httptest.NewRecorder()
	h(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.SubjectID != "op-7" || got.Role != auth.DefaultRole {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if params.len() != 3 || params.at(0) != "accounts" || params.at(1) != "A1" || params.at(2) != "suspend" {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestGateRejectsAndCounts(t *testing.T) {
	api, _ := newGateAPI(t)
	yesterday, err := auth.NewTokenService([]byte(testSecret),
		auth.WithClock(func() time.Time { return time.Now().Add(-24 * time.Hour) }))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	expired, _, err := yesterday.Issue(auth.Identity{SubjectID: "op-7"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	called := false
	h := api.gate(func(http.ResponseWriter, *http.Request, routeParams, auth.Identity) { called = true })

	before := testutil.ToFloat64(obs.AuthRejections.WithLabelValues("invalid"))
	for _, header := range []string{"Bearer " + expired, "Bearer x.y.z"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		h(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	}
	if called {
		t.Fatal("handler must not run for rejected requests")
	}
	if got := testutil.ToFloat64(obs.AuthRejections.WithLabelValues("invalid")) - before; got != 2 {
		t.Fatalf("expected 2 counted rejections, got %v", got)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"Bearer":          "",
		"Bearer   ":       "",
		"Bearer abc":      "abc",
		"BEARER abc ":     "abc",
		"Basic abc":       "",
		"Bearerabc":       "",
		"  Bearer  a.b.c": "a.b.c",
	}
	for in, want := range cases {
		if got := bearerToken(in); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
