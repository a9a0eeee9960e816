package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                       "/",
		"/metrics":                               "/metrics",
		"/v1/resources/accounts/abc":             "/v1/resources/:kind/:id",
		"/v1/resources/merchants/m1/suspend":     "/v1/resources/:kind/:id/:action",
		"/v1/resources/merchants/m1/suspend?x=1": "/v1/resources/:kind/:id/:action",
		"/v1/resources/merchants/m1/a/b":         "/v1/resources/merchants/m1/a/b",
		"/v1/audit?limit=10":                     "/v1/audit",
		"/v1/auth/login":                         "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	Init()
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PATCH", "/v1/resources/:kind/:id/:action", "418"))
	for _, id := range []string{"a", "b"} {
		req := httptest.NewRequest(http.MethodPatch, "/v1/resources/accounts/"+id+"/approve", nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("PATCH", "/v1/resources/:kind/:id/:action", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests counted, got %v", after-before)
	}
	if got := testutil.ToFloat64(httpInFlight); got != 0 {
		t.Fatalf("in-flight gauge not released: %v", got)
	}
}

func TestInstrumentKeepsResponseControllerReachable(t *testing.T) {
	Init()
	errCh := make(chan error, 1)
	srv := httptest.NewServer(Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errCh <- http.NewResponseController(w).SetWriteDeadline(time.Time{})
	})))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/v1/audit/stream")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("SetWriteDeadline through Instrument: %v", err)
	}
}

func TestNewLoggerToTagsService(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "warn", "custodia-backoffice", "test")
	l.Info("dropped")
	l.Warn("kept", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "kept" || entry["service"] != "custodia-backoffice" || entry["env"] != "test" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
