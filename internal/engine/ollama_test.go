package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEngine_Chat(t *testing.T) {
	var gotFormat, gotOptions any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotFormat = body["format"]
		gotOptions = body["options"]
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": `{"composition":[]}`},
			"prompt_eval_count": 300,
			"eval_count":        12,
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	res, err := e.Chat(context.Background(), "llama3.1", []Message{
		{Role: "user", Content: "composition"},
	}, map[string]any{"type": "object"}, WithTemperature(0.3))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.Content != `{"composition":[]}` {
		t.Errorf("Content = %q", res.Content)
	}
	if res.TotalTokens() != 312 {
		t.Errorf("TotalTokens() = %d, want 312", res.TotalTokens())
	}
	if gotFormat == nil {
		t.Error("format was not forwarded to the backend")
	}
	opts, ok := gotOptions.(map[string]any)
	if !ok || opts["temperature"] != 0.3 {
		t.Errorf("options = %v, want temperature 0.3", gotOptions)
	}
}

func TestOllamaEngine_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	vec, err := e.Embed(context.Background(), "nomic-embed-text", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got %d floats, want 3", len(vec))
	}
}

func TestOllamaEngine_IsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	e := NewOllamaEngine(srv.URL)
	if e.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestOllamaEngine_PullModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{"status": "downloading", "total": 1000, "completed": 500})
		enc.Encode(map[string]any{"status": "success"})
	}))
	defer srv.Close()

	e := NewOllamaEngine(srv.URL)
	var statuses []string
	err := e.PullModel(context.Background(), "llama3.1", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(statuses) != 2 || statuses[1] != "success" {
		t.Errorf("statuses = %v, want [downloading success]", statuses)
	}
}
