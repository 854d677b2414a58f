package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type memCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemCache() *memCache { return &memCache{m: make(map[string]string)} }

func (c *memCache) GetFetch(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[url]
	return v, ok
}

func (c *memCache) SetFetch(url, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[url] = text
}

func TestFetchPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "plain body")
	}))
	defer srv.Close()

	result := execTool(t, NewFetchTool(nil), fmt.Sprintf(`{"url":%q}`, srv.URL))
	if result["status"].(int) != 200 {
		t.Errorf("status = %v", result["status"])
	}
	if result["body"].(string) != "plain body" {
		t.Errorf("body = %q", result["body"])
	}
}

func TestFetchHTMLReducedToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>t</title><script>var x=1;</script></head><body><h1>Heading</h1><p>Paragraph text.</p></body></html>`)
	}))
	defer srv.Close()

	result := execTool(t, NewFetchTool(nil), fmt.Sprintf(`{"url":%q}`, srv.URL))
	body := result["body"].(string)
	if !strings.Contains(body, "Heading") || !strings.Contains(body, "Paragraph text.") {
		t.Errorf("body = %q", body)
	}
	if strings.Contains(body, "var x=1") || strings.Contains(body, "<h1>") {
		t.Errorf("tags/scripts leaked: %q", body)
	}
}

func TestFetchPostWithHeadersAndBody(t *testing.T) {
	var gotMethod, gotHeader, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom")
		payload, _ := io.ReadAll(r.Body)
		gotBody = string(payload)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	args := fmt.Sprintf(`{"url":%q,"method":"POST","headers":{"X-Custom":"yes"},"body":"hello"}`, srv.URL)
	result := execTool(t, NewFetchTool(nil), args)
	if result["status"].(int) != 200 {
		t.Errorf("status = %v", result["status"])
	}
	if gotMethod != "POST" || gotHeader != "yes" || gotBody != "hello" {
		t.Errorf("request = (%q, %q, %q)", gotMethod, gotHeader, gotBody)
	}
}

func TestFetchUnsupportedMethod(t *testing.T) {
	tool := NewFetchTool(nil)
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"url":"http://example.com","method":"TRACE"}`))
	if err == nil || !strings.Contains(err.Error(), "unsupported method") {
		t.Errorf("err = %v", err)
	}
}

func TestFetchCachesGets(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, "fresh")
	}))
	defer srv.Close()

	cache := newMemCache()
	tool := NewFetchTool(cache)
	args := fmt.Sprintf(`{"url":%q}`, srv.URL)

	execTool(t, tool, args)
	result := execTool(t, tool, args)
	if hits != 1 {
		t.Errorf("server hits = %d, want 1", hits)
	}
	if result["cached"] != true {
		t.Errorf("second result not served from cache: %v", result)
	}
}

func TestFetchBodyBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("a", maxResponseBytes+5000))
	}))
	defer srv.Close()

	result := execTool(t, NewFetchTool(nil), fmt.Sprintf(`{"url":%q}`, srv.URL))
	if result["truncated"] != true {
		t.Error("oversized body not marked truncated")
	}
	if len(result["body"].(string)) > maxResponseBytes+100 {
		t.Errorf("body length = %d", len(result["body"].(string)))
	}
}
