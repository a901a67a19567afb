package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestSanitize(t *testing.T) {
	out, _, err := run(t, "sanitize", "  <script>hi</script> ")
	if err != nil {
		t.Fatal(err)
	}
	if out != "scripthi/script\n" {
		t.Errorf("out = %q", out)
	}
	if _, _, err := run(t, "sanitize"); err == nil {
		t.Error("missing argument should fail")
	}
}

func TestAnalyticsSectionUsesStoredToken(t *testing.T) {
	var mu sync.Mutex
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		mu.Unlock()
		w.Write([]byte(`{"success":true,"data":[{"date":"2024-01","mrr":5}]}`))
	}))
	defer srv.Close()

	t.Setenv("HOOK_ANALYTICS_URL", srv.URL)
	t.Setenv("HOOK_AUTH_TOKEN", "")
	tokenFile := filepath.Join(t.TempDir(), "token.json")

	if _, _, err := run(t, "--token-file", tokenFile, "token", "set", "stored-tok"); err != nil {
		t.Fatal(err)
	}
	out, _, err := run(t, "--token-file", tokenFile, "analytics", "--section", "mrr", "--plan-id", "pro", "--start-date", "2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("output %q: %v", out, err)
	}
	if body["success"] != true {
		t.Errorf("body = %v", body)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer stored-tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotQuery != "startDate=2024-01-01&planId=pro" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestAnalyticsFlagTokenWinsAndBadRange(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer srv.Close()
	t.Setenv("HOOK_ANALYTICS_URL", srv.URL)
	t.Setenv("HOOK_AUTH_TOKEN", "env-tok")

	if _, _, err := run(t, "--token", "flag-tok", "analytics", "--section", "summary"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer flag-tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	if _, _, err := run(t, "analytics", "--section", "summary"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer env-tok" {
		t.Errorf("auth = %q", gotAuth)
	}

	_, _, err := run(t, "analytics", "--start-date", "2024-05-01", "--end-date", "2024-01-01")
	if err == nil || !strings.Contains(err.Error(), "Start date must be before end date") {
		t.Errorf("err = %v", err)
	}
}

func TestHealthNeverFails(t *testing.T) {
	t.Setenv("HOOK_BACKEND_URL", "http://127.0.0.1:1")
	t.Setenv("HOOK_ANALYTICS_URL", "http://127.0.0.1:1/api/analytics")
	out, _, err := run(t, "health")
	if err != nil {
		t.Fatal(err)
	}
	var statuses map[string]struct {
		Available bool   `json:"available"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("output %q: %v", out, err)
	}
	for name, st := range statuses {
		if st.Available || st.Error == "" {
			t.Errorf("%s = %+v", name, st)
		}
	}
	if len(statuses) != 2 {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestLoadTest(t *testing.T) {
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		if r.Header.Get("Authorization") != "Bearer lt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"success":true,"data":{"cached":true}}`))
	}))
	defer srv.Close()

	out, _, err := run(t, "--token", "lt", "loadtest", "--url", srv.URL, "--concurrency", "2", "--duration", "150ms")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "=== Latency ===") || !strings.Contains(out, "  200: ") {
		t.Errorf("report:\n%s", out)
	}
	if strings.Contains(out, "Cache Hits:      0\n") {
		t.Errorf("cache hits not counted:\n%s", out)
	}
	if _, ok := hits.Load("/api/analytics"); !ok {
		t.Error("analytics target never requested")
	}
}

func TestPercentile(t *testing.T) {
	d := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(d, 50); got != 5 {
		t.Errorf("p50 = %v", got)
	}
	if got := percentile(d, 99); got != 10 {
		t.Errorf("p99 = %v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("empty = %v", got)
	}
}
