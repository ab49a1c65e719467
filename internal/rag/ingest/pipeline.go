// Package ingest loads documents into the knowledge base.
// The pipeline coordinates extraction, chunking, embedding, and storage.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/haasonsaas/tgassist/internal/rag/chunker"
	"github.com/haasonsaas/tgassist/internal/rag/embeddings"
	"github.com/haasonsaas/tgassist/internal/rag/store"
)

// Payload keys written alongside every chunk.
const (
	PayloadChunk  = "chunk"
	PayloadSource = "source"
)

// Config contains configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the target chunk size in characters.
	// Default: 200
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the overlap between chunks in characters.
	// Default: 20
	ChunkOverlap int `yaml:"chunk_overlap"`

	// EmbeddingBatchSize caps the texts per embedding request below the
	// provider's own limit.
	EmbeddingBatchSize int `yaml:"embedding_batch_size"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	cfg := chunker.DefaultConfig()
	return Config{
		ChunkSize:          cfg.ChunkSize,
		ChunkOverlap:       cfg.ChunkOverlap,
		EmbeddingBatchSize: 100,
	}
}

// Pipeline turns documents into embedded chunks in a vector store.
type Pipeline struct {
	store    store.VectorStore
	embedder embeddings.Provider
	chunker  chunker.Chunker
	config   Config
	logger   *slog.Logger

	// newID generates point ids; replaced in tests.
	newID func() string
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(vs store.VectorStore, embedder embeddings.Provider, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    vs,
		embedder: embedder,
		chunker: chunker.NewRecursiveCharacterTextSplitter(chunker.Config{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
		}),
		config: cfg,
		logger: logger.With("component", "ingest"),
		newID:  func() string { return uuid.New().String() },
	}
}

// WithChunker sets a custom chunker.
func (p *Pipeline) WithChunker(c chunker.Chunker) *Pipeline {
	p.chunker = c
	return p
}

// Result describes one ingested document.
type Result struct {
	Source   string
	Pages    int
	Chunks   int
	Duration time.Duration
}

// IngestPDF extracts the text of a PDF file and ingests it.
func (p *Pipeline) IngestPDF(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	doc, err := ExtractPDF(ctx, path)
	if err != nil {
		return nil, err
	}
	result, err := p.IngestText(ctx, filepath.Base(path), doc.Text)
	if err != nil {
		return nil, err
	}
	result.Pages = doc.Pages
	result.Duration = time.Since(start)
	return result, nil
}

// IngestFile reads a plain text file and ingests it.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not UTF-8 text", path)
	}
	return p.IngestText(ctx, filepath.Base(path), string(data))
}

// IngestText chunks, embeds, and stores text under the given source name.
func (p *Pipeline) IngestText(ctx context.Context, source, text string) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("document %s has no extractable text", source)
	}

	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s produced no chunks", source)
	}

	if err := p.store.EnsureCollection(ctx, p.embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	batchSize := p.embedder.MaxBatchSize()
	if p.config.EmbeddingBatchSize > 0 && (batchSize <= 0 || p.config.EmbeddingBatchSize < batchSize) {
		batchSize = p.config.EmbeddingBatchSize
	}

	offset := 0
	for i, batch := range embeddings.Batches(texts, batchSize) {
		vectors, err := p.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embed batch %d: got %d vectors for %d texts", i, len(vectors), len(batch))
		}

		points := make([]store.Point, len(batch))
		for j := range batch {
			c := chunks[offset+j]
			points[j] = store.Point{
				ID:     p.newID(),
				Vector: vectors[j],
				Payload: map[string]any{
					store.PayloadContent: c.Content,
					PayloadChunk:         c.Index,
					PayloadSource:        source,
				},
			}
		}
		if err := p.store.Upsert(ctx, points); err != nil {
			return nil, fmt.Errorf("store batch %d: %w", i, err)
		}
		offset += len(batch)
	}

	p.logger.Info("document ingested", "source", source, "chunks", len(chunks))
	return &Result{
		Source:   source,
		Chunks:   len(chunks),
		Duration: time.Since(start),
	}, nil
}
