// Command smoke logs in against a running API and walks one account through
// suspend and reactivate, failing loudly on any unexpected status.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type client struct {
	base  string
	token string
	http  *http.Client
}

func main() {
	log.SetFlags(0)
	var (
		base     = flag.String("addr", envOr("CUSTODIA_SMOKE_ADDR", "http://localhost:8080"), "API base URL")
		email    = flag.String("email", os.Getenv("CUSTODIA_AUTH_BOOTSTRAP_EMAIL"), "operator email")
		password = flag.String("password", os.Getenv("CUSTODIA_AUTH_BOOTSTRAP_PASSWORD"), "operator password")
		account  = flag.String("account", envOr("CUSTODIA_SMOKE_ACCOUNT", "01HDEMOACCOUNTACTIVE00000"), "account id to exercise (defaults to the seeded active demo account)")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := &client{base: *base, http: &http.Client{Timeout: 5 * time.Second}}

	var session struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/auth/login", map[string]string{"email": *email, "password": *password}, http.StatusOK, &session); err != nil {
		log.Fatalf("login: %v", err)
	}
	c.token = session.Token

	var view map[string]any
	if err := c.call(ctx, http.MethodGet, "/v1/resources/accounts/"+*account, nil, http.StatusOK, &view); err != nil {
		log.Fatalf("get account: %v", err)
	}
	log.Printf("account %s is %v", *account, view["status"])

	if view["status"] == "Active" {
		if err := c.call(ctx, http.MethodPatch, "/v1/resources/accounts/"+*account+"/suspend", map[string]string{"reason": "smoke test"}, http.StatusOK, &view); err != nil {
			log.Fatalf("suspend: %v", err)
		}
		log.Printf("suspended %s", *account)
	}
	if err := c.call(ctx, http.MethodPatch, "/v1/resources/accounts/"+*account+"/reactivate", nil, http.StatusOK, &view); err != nil {
		log.Fatalf("reactivate: %v", err)
	}
	if err := c.call(ctx, http.MethodPatch, "/v1/resources/accounts/"+*account+"/reactivate", nil, http.StatusNotFound, nil); err != nil {
		log.Fatalf("repeat reactivate: %v", err)
	}
	log.Printf("smoke ok: %s is %v", *account, view["status"])
}

func (c *client) call(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
