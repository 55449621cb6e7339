package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseJSONObjectPlain(t *testing.T) {
	result, err := ParseJSONObject(`{"key": "value", "num": 42}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONObjectWithCodeFence(t *testing.T) {
	result, err := ParseJSONObject("```json\n{\"key\": \"value\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONObjectWithPlainFence(t *testing.T) {
	result, err := ParseJSONObject("```\n{\"key\": \"value\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONObjectInvalid(t *testing.T) {
	for _, text := range []string{"not json at all", "", "   ", "[1, 2]", "null", "```json\n```"} {
		_, err := ParseJSONObject(text)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("expected ParseError for %q, got %v", text, err)
		}
	}
}

func TestParseJSONObjectWhitespace(t *testing.T) {
	result, err := ParseJSONObject("  \n  {\"key\": \"value\"}  \n  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "gpt-test", APIKey: "sk-test", BaseURL: srv.URL, client: srv.Client()}
	text, err := p.Complete(context.Background(), Request{
		System:      "sys",
		Messages:    []string{"one", "two"},
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `{"ok":true}` {
		t.Errorf("unexpected content %q", text)
	}
	if got["model"] != "gpt-test" {
		t.Errorf("expected default model, got %v", got["model"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected system + 2 user messages, got %d", len(msgs))
	}
	if rf, _ := got["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Errorf("expected json_object response format, got %v", got["response_format"])
	}
}

func TestOpenAICompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := &OpenAIProvider{Model: "m", APIKey: "k", BaseURL: srv.URL, client: srv.Client()}
	_, err := p.Complete(context.Background(), Request{Messages: []string{"x"}})
	var ierr *InvocationError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if ierr.Status != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", ierr.Status)
	}
}

func TestOpenAIWithoutKey(t *testing.T) {
	p := &OpenAIProvider{Model: "m"}
	if p.IsConfigured() {
		t.Error("expected provider without key to be unconfigured")
	}
	_, err := p.Complete(context.Background(), Request{})
	var ierr *InvocationError
	if !errors.As(err, &ierr) {
		t.Errorf("expected InvocationError, got %v", err)
	}
}

func TestOllamaComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"content":"hello"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL+"/")
	text, err := p.Complete(context.Background(), Request{Messages: []string{"x"}, JSON: true, Temperature: 0.2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Errorf("unexpected content %q", text)
	}
	if got["format"] != "json" {
		t.Errorf("expected json format, got %v", got["format"])
	}
	if got["model"] != "qwen2.5:7b" {
		t.Errorf("expected provider model, got %v", got["model"])
	}
}
