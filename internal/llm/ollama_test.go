package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func ollamaServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
}

func TestOllamaStreamText(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":8,"eval_count":3}`,
	})
	defer srv.Close()

	c := NewOllama(srv.URL, "qwen2.5-coder:7b")
	defer c.Close()

	ch, err := c.ChatStream(context.Background(), []Message{UserMessage("hi")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)

	var text string
	var in, out int
	for _, evt := range events {
		switch evt.Type {
		case EventTextDelta:
			text += evt.Text
		case EventUsage:
			in, out = evt.InputTokens, evt.OutputTokens
		}
	}
	if text != "Hello" {
		t.Errorf("text = %q", text)
	}
	if in != 8 || out != 3 {
		t.Errorf("usage = (%d, %d), want (8, 3)", in, out)
	}
	if events[len(events)-1].Type != EventDone {
		t.Error("Done must be terminal")
	}
}

func TestOllamaStreamToolCall(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"now","arguments":{}}}]},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	})
	defer srv.Close()

	c := NewOllama(srv.URL, "qwen2.5-coder:7b")
	defer c.Close()

	ch, err := c.ChatStream(context.Background(), []Message{UserMessage("what time is it")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)

	// One tool call arrives complete: Start, Delta, End share an id.
	var startID, deltaID, endID, name string
	for _, evt := range events {
		switch evt.Type {
		case EventToolCallStart:
			startID, name = evt.ToolCallID, evt.ToolCallName
		case EventToolCallDelta:
			deltaID = evt.ToolCallID
		case EventToolCallEnd:
			endID = evt.ToolCallID
		}
	}
	if name != "now" {
		t.Errorf("name = %q", name)
	}
	if startID == "" || startID != deltaID || deltaID != endID {
		t.Errorf("ids not correlated: start=%q delta=%q end=%q", startID, deltaID, endID)
	}
}

func TestOllamaStreamMalformedLineSkipped(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"message":{"role":"assistant","content":"ok"},"done":false}`,
		`this line is garbage`,
		`{"message":{"role":"assistant","content":"!"},"done":true}`,
	})
	defer srv.Close()

	c := NewOllama(srv.URL, "qwen2.5-coder:7b")
	defer c.Close()

	ch, err := c.ChatStream(context.Background(), []Message{UserMessage("hi")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := drain(t, ch)

	var text string
	for _, evt := range events {
		if evt.Type == EventTextDelta {
			text += evt.Text
		}
		if evt.Type == EventError {
			t.Errorf("malformed line must not be fatal: %v", evt.Err)
		}
	}
	if text != "ok!" {
		t.Errorf("text = %q", text)
	}
}

func TestOllamaBlockingChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"hello there"},"done":true,"prompt_eval_count":5,"eval_count":2}`)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "qwen2.5-coder:7b")
	defer c.Close()

	resp, err := c.Chat(context.Background(), []Message{UserMessage("hi")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.InputTokens != 5 || resp.OutputTokens != 2 {
		t.Errorf("usage = (%d, %d)", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"models":[{"name":"qwen2.5-coder:7b","size":4000000000,"details":{"family":"qwen2"}}]}`)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "")
	defer c.Close()

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0].Name != "qwen2.5-coder:7b" || models[0].Family != "qwen2" {
		t.Errorf("models = %+v", models)
	}
}
