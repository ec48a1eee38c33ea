package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	return value, ok
}

func (c *memoryCache) Put(_ context.Context, key string, envelope []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), envelope...)
}

func newTestServer(t *testing.T, cfg HTTPServiceConfig) *httptest.Server {
	t.Helper()
	adapter, err := NewAdapter(&echoPipeline{}, nil, NewReconciler(nil), AdapterConfig{})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	svc, err := NewHTTPService(adapter, cfg)
	if err != nil {
		t.Fatalf("NewHTTPService() error = %v", err)
	}
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(Chain(mux, RequestIDMiddleware))
	t.Cleanup(server.Close)
	return server
}

func postScore(t *testing.T, url string, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url+"/score", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /score error = %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, raw
}

func TestHTTPScoreSuccess(t *testing.T) {
	server := newTestServer(t, HTTPServiceConfig{})

	resp, raw := postScore(t, server.URL, `[{"machineID":1,"volt":10},{"machineID":2,"volt":20}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected /score status: %d body=%s", resp.StatusCode, raw)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	var decoded struct {
		Result []string `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode response error = %v", err)
	}
	if len(decoded.Result) != 2 || decoded.Result[0] != "10" || decoded.Result[1] != "20" {
		t.Fatalf("unexpected result: %v", decoded.Result)
	}
}

func TestHTTPScoreMalformedBodySoftFails(t *testing.T) {
	server := newTestServer(t, HTTPServiceConfig{})

	resp, raw := postScore(t, server.URL, `not json`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("soft-fail must use success status, got %d", resp.StatusCode)
	}
	var decoded Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("soft-fail body is not valid JSON: %v", err)
	}
	message, ok := decoded.Result.(string)
	if !ok || message == "" {
		t.Fatalf("expected error string in result, got %v", decoded.Result)
	}
}

func TestHTTPScoreSchemaMismatchSoftFails(t *testing.T) {
	server := newTestServer(t, HTTPServiceConfig{})

	resp, raw := postScore(
		t,
		server.URL,
		`[{"machineID":1,"volt":170.5},{"machineID":2,"volt":180.1,"foo":1}]`,
	)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("soft-fail must use success status, got %d", resp.StatusCode)
	}
	var decoded Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("soft-fail body is not valid JSON: %v", err)
	}
	message, ok := decoded.Result.(string)
	if !ok || !strings.Contains(message, "schema") {
		t.Fatalf("expected schema mismatch message, got %v", decoded.Result)
	}
}

func TestHTTPScoreRejectsNonPost(t *testing.T) {
	server := newTestServer(t, HTTPServiceConfig{})

	resp, err := http.Get(server.URL + "/score")
	if err != nil {
		t.Fatalf("GET /score error = %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestHTTPHealth(t *testing.T) {
	server := newTestServer(t, HTTPServiceConfig{})

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected /healthz status: %d", resp.StatusCode)
	}
	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode health response error = %v", err)
	}
	if decoded["pipeline"] != "echo" {
		t.Fatalf("unexpected pipeline name: %q", decoded["pipeline"])
	}
}

func TestHTTPMetricsExposeRequestCounters(t *testing.T) {
	server := newTestServer(t, HTTPServiceConfig{})

	_, _ = postScore(t, server.URL, `[{"machineID":1,"volt":10}]`)
	_, _ = postScore(t, server.URL, `garbage`)

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(resp.Body)
	content := string(body)
	if !strings.Contains(content, `scoring_requests_total{outcome="ok"} 1`) {
		t.Fatalf("metrics missing ok counter: %s", content)
	}
	if !strings.Contains(content, `scoring_requests_total{outcome="soft_fail"} 1`) {
		t.Fatalf("metrics missing soft_fail counter: %s", content)
	}
	if !strings.Contains(content, `scoring_soft_fail_total{kind="decode"} 1`) {
		t.Fatalf("metrics missing soft fail kind counter: %s", content)
	}
}

func TestHTTPScoreCacheHitReturnsIdenticalEnvelope(t *testing.T) {
	cache := newMemoryCache()
	server := newTestServer(t, HTTPServiceConfig{Cache: cache})
	body := `[{"machineID":1,"volt":10}]`

	_, first := postScore(t, server.URL, body)
	_, second := postScore(t, server.URL, body)
	if !bytes.Equal(first, second) {
		t.Fatalf("cache hit changed the envelope: %s vs %s", first, second)
	}
	if len(cache.entries) != 1 {
		t.Fatalf("expected one cached envelope, got %d", len(cache.entries))
	}
}

func TestHTTPScoreSoftFailsAreNotCached(t *testing.T) {
	cache := newMemoryCache()
	server := newTestServer(t, HTTPServiceConfig{Cache: cache})

	_, _ = postScore(t, server.URL, `not json`)
	if len(cache.entries) != 0 {
		t.Fatalf("soft-fail envelope must not be cached")
	}
}
