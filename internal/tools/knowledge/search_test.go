package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/tgassist/internal/rag/embeddings"
	"github.com/haasonsaas/tgassist/internal/rag/store"
)

// keywordEmbedder maps text onto two axes: finance and travel.
type keywordEmbedder struct {
	err error
}

func (e keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vec := []float32{0.01, 0.01}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "revenue") {
		vec[0] = 1
	}
	if strings.Contains(lower, "flight") {
		vec[1] = 1
	}
	return vec, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e keywordEmbedder) Name() string      { return "keyword" }
func (e keywordEmbedder) Dimension() int    { return 2 }
func (e keywordEmbedder) MaxBatchSize() int { return 8 }

var _ embeddings.Provider = keywordEmbedder{}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	vs := store.NewMemoryStore()
	err := vs.Upsert(context.Background(), []store.Point{
		{ID: "1", Vector: []float32{1, 0}, Payload: map[string]any{store.PayloadContent: "Q3 revenue grew 12%."}},
		{ID: "2", Vector: []float32{0.9, 0.1}, Payload: map[string]any{store.PayloadContent: "Revenue outlook is stable."}},
		{ID: "3", Vector: []float32{0, 1}, Payload: map[string]any{store.PayloadContent: "Flights are booked via the travel desk."}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return vs
}

func TestSearcherJoinsTopHits(t *testing.T) {
	s := NewSearcher(keywordEmbedder{}, seededStore(t))
	got, err := s.Search(context.Background(), "what was revenue last quarter", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := "Q3 revenue grew 12%.\n\nRevenue outlook is stable."
	if got != want {
		t.Errorf("Search() = %q, want %q", got, want)
	}
}

func TestSearcherNoHits(t *testing.T) {
	s := NewSearcher(keywordEmbedder{}, store.NewMemoryStore())
	got, err := s.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got != "" {
		t.Errorf("Search() = %q, want empty", got)
	}
}

func TestSearchToolMetadata(t *testing.T) {
	tool := NewSearchTool(NewSearcher(keywordEmbedder{}, store.NewMemoryStore()), 0)
	if tool.Name() != "knowledge_base_search" {
		t.Errorf("Name() = %q", tool.Name())
	}
	if tool.Description() != "Useful for searching internal knowledge base for reports and documentation." {
		t.Errorf("Description() = %q", tool.Description())
	}
	var schema map[string]any
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if tool.topK != DefaultTopK {
		t.Errorf("topK = %d, want %d", tool.topK, DefaultTopK)
	}
}

func TestSearchToolExecute(t *testing.T) {
	tool := NewSearchTool(NewSearcher(keywordEmbedder{}, seededStore(t)), 1)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"flight policy"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "Flights are booked via the travel desk." {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestSearchToolErrors(t *testing.T) {
	tool := NewSearchTool(NewSearcher(keywordEmbedder{}, seededStore(t)), 3)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`))
	if err != nil || !result.IsError {
		t.Fatalf("expected error result for blank query, got %+v, %v", result, err)
	}

	result, err = tool.Execute(context.Background(), json.RawMessage(`not json`))
	if err != nil || !result.IsError {
		t.Fatalf("expected error result for bad params, got %+v, %v", result, err)
	}

	failing := NewSearchTool(NewSearcher(keywordEmbedder{err: errors.New("offline")}, seededStore(t)), 3)
	result, err = failing.Execute(context.Background(), json.RawMessage(`{"query":"revenue"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "offline") {
		t.Errorf("unexpected result: %+v", result)
	}
}
