package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/inovadata/whatsman/internal/agents"
)

func TestClient_GenerateResponse(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "hello back"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini")
	reply, err := c.GenerateResponse(context.Background(), "be nice", "[Ana]: hi", agents.GenerateOptions{
		Model:       "gpt-4o",
		Temperature: 0.5,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if reply != "hello back" {
		t.Errorf("reply = %q", reply)
	}
	if got.Model != "gpt-4o" || got.MaxTokens != 100 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "[Ana]: hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestClient_DefaultModel(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "default-model")
	if _, err := c.GenerateResponse(context.Background(), "", "hi", agents.GenerateOptions{}); err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if got.Model != "default-model" {
		t.Errorf("model = %q, want fallback to default", got.Model)
	}
	if len(got.Messages) != 1 {
		t.Errorf("empty system prompt must be omitted, messages = %+v", got.Messages)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "")
	if _, err := c.GenerateResponse(context.Background(), "", "hi", agents.GenerateOptions{}); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
