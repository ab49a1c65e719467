package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing API key")
	}
	p, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if p.model != "text-embedding-3-small" {
		t.Errorf("model = %q, want %q", p.model, "text-embedding-3-small")
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestProvider_Dimension(t *testing.T) {
	tests := []struct {
		cfg  Config
		want int
	}{
		{Config{APIKey: "k"}, 1536},
		{Config{APIKey: "k", Model: "text-embedding-3-large"}, 3072},
		{Config{APIKey: "k", Model: "mistral-embed"}, 1024},
		{Config{APIKey: "k", Model: "custom", Dimension: 768}, 768},
	}
	for _, tt := range tests {
		p, _ := New(tt.cfg)
		if got := p.Dimension(); got != tt.want {
			t.Errorf("Dimension(%s) = %d, want %d", tt.cfg.Model, got, tt.want)
		}
	}
}

func TestProvider_EmbedBatchOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Respond out of order.
		data := []map[string]any{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	defer srv.Close()

	p, _ := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	for i, v := range vectors {
		if v[0] != float32(i) {
			t.Fatalf("vector %d out of order: %v", i, v)
		}
	}

	single, err := p.Embed(context.Background(), "only")
	if err != nil || len(single) != 2 {
		t.Fatalf("Embed() = %v, %v", single, err)
	}
}
