package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

const (
	// DefaultFetchTimeout bounds an HTTP request.
	DefaultFetchTimeout = 30 * time.Second
	// maxResponseBytes caps the response body returned to the model.
	maxResponseBytes = 50000
	userAgent        = "loom/0.1"
)

// FetchCache stores fetched page text keyed by URL. Satisfied by the
// SQLite store; a nil cache disables caching.
type FetchCache interface {
	GetFetch(url string) (string, bool)
	SetFetch(url, text string)
}

// FetchTool makes an HTTP request and returns the bounded response body.
// HTML responses are reduced to text.
type FetchTool struct {
	client *http.Client
	cache  FetchCache
}

// NewFetchTool creates a fetch tool. cache may be nil.
func NewFetchTool(cache FetchCache) *FetchTool {
	return &FetchTool{
		client: &http.Client{Timeout: DefaultFetchTimeout},
		cache:  cache,
	}
}

type fetchArgs struct {
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	TimeoutSecs int               `json:"timeout_secs,omitempty"`
}

func (t *FetchTool) Name() string { return "fetch" }

func (t *FetchTool) Description() string {
	return "Make an HTTP request to a URL. Returns the response status and body; HTML pages are reduced to text. The body is truncated to 50KB. GET results are cached."
}

func (t *FetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url":          {"type": "string", "description": "The URL to fetch"},
			"method":       {"type": "string", "enum": ["GET", "POST", "PUT", "DELETE", "PATCH", "HEAD"], "description": "HTTP method (default: GET)"},
			"headers":      {"type": "object", "description": "Optional HTTP headers as key-value pairs", "additionalProperties": {"type": "string"}},
			"body":         {"type": "string", "description": "Optional request body (for POST/PUT/PATCH)"},
			"timeout_secs": {"type": "integer", "description": "Request timeout in seconds (default: 30)"}
		},
		"required": ["url"]
	}`)
}

func (t *FetchTool) Permission() Permission { return ReadOnly }

func (t *FetchTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var a fetchArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.URL == "" {
		return nil, fmt.Errorf("missing required parameter: url")
	}
	method := strings.ToUpper(a.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead:
	default:
		return nil, fmt.Errorf("unsupported method: %s", a.Method)
	}

	if method == http.MethodGet && t.cache != nil {
		if cached, ok := t.cache.GetFetch(a.URL); ok {
			log.Debug().Str("url", a.URL).Msg("fetch: cache hit")
			text, truncated := truncateText(cached, maxResponseBytes)
			return map[string]any{
				"url":       a.URL,
				"status":    http.StatusOK,
				"body":      text,
				"truncated": truncated,
				"cached":    true,
			}, nil
		}
	}

	if a.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.TimeoutSecs)*time.Second)
		defer cancel()
	}

	var bodyReader io.Reader
	if a.Body != "" {
		bodyReader = strings.NewReader(a.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("bad URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	text := string(raw)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = extractText(raw)
	}

	if method == http.MethodGet && t.cache != nil && resp.StatusCode < 400 {
		t.cache.SetFetch(a.URL, text)
	}

	body, truncated := truncateText(text, maxResponseBytes)
	return map[string]any{
		"url":          a.URL,
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         body,
		"truncated":    truncated,
	}, nil
}

// extractText strips tags, scripts, and styles from an HTML document,
// collapsing whitespace.
func extractText(raw []byte) string {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}

	var b strings.Builder
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return strings.TrimSpace(b.String())
}
