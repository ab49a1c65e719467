// Package knowledge provides the knowledge base search tool for the agent.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/tgassist/internal/agent"
	"github.com/haasonsaas/tgassist/internal/rag/embeddings"
	"github.com/haasonsaas/tgassist/internal/rag/store"
)

// ToolName is the name the agent sees for knowledge base search.
const ToolName = "knowledge_base_search"

// DefaultTopK is the number of chunks returned per search.
const DefaultTopK = 5

// Searcher runs similarity search over the ingested documents.
type Searcher struct {
	embedder embeddings.Provider
	store    store.VectorStore
}

// NewSearcher creates a searcher over a vector store.
func NewSearcher(embedder embeddings.Provider, vs store.VectorStore) *Searcher {
	return &Searcher{embedder: embedder, store: vs}
}

// Search embeds the query and returns the page content of the topK most
// similar chunks joined by blank lines. No hits yield "".
func (s *Searcher) Search(ctx context.Context, query string, topK int) (string, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.Search(ctx, vector, topK)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(hits))
	for _, hit := range hits {
		parts = append(parts, hit.Content())
	}
	return strings.Join(parts, "\n\n"), nil
}

// SearchTool implements agent.Tool over a Searcher.
type SearchTool struct {
	searcher *Searcher
	topK     int
}

var _ agent.Tool = (*SearchTool)(nil)

// NewSearchTool creates the knowledge base search tool. A non-positive topK
// uses DefaultTopK.
func NewSearchTool(searcher *Searcher, topK int) *SearchTool {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &SearchTool{searcher: searcher, topK: topK}
}

// Name returns the tool name.
func (t *SearchTool) Name() string {
	return ToolName
}

// Description returns the tool description.
func (t *SearchTool) Description() string {
	return "Useful for searching internal knowledge base for reports and documentation."
}

// Schema returns the JSON schema for tool parameters.
func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "The search query"
    }
  },
  "required": ["query"]
}`)
}

type searchInput struct {
	Query string `json:"query"`
}

// Execute searches the knowledge base.
func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input searchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Invalid parameters: %v", err),
			IsError: true,
		}, nil
	}

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return &agent.ToolResult{
			Content: "Query is required",
			IsError: true,
		}, nil
	}

	content, err := t.searcher.Search(ctx, query, t.topK)
	if err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Search failed: %v", err),
			IsError: true,
		}, nil
	}
	return &agent.ToolResult{Content: content}, nil
}
