package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/tgassist/internal/rag/ingest"
)

// buildIngestCmd creates the "ingest" command that loads documents into the
// knowledge base.
func buildIngestCmd() *cobra.Command {
	var (
		chunkSize    int
		chunkOverlap int
		batchSize    int
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Load PDF or text documents into the knowledge base",
		Long: `Extract, chunk, embed and store documents in the knowledge base.

PDF files are read page by page; any other file is read as plain text.
Chunk size and overlap default to the knowledge_base settings.`,
		Example: `  tgassist ingest handbook.pdf
  tgassist ingest --chunk-size 400 notes/*.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), args, chunkSize, chunkOverlap, batchSize)
		},
	}
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size in characters (default from config)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Chunk overlap in characters (default from config)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Texts per embedding request")
	return cmd
}

func runIngest(ctx context.Context, out io.Writer, paths []string, chunkSize, chunkOverlap, batchSize int) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if chunkSize > 0 {
		cfg.KnowledgeBase.ChunkSize = chunkSize
	}
	if chunkOverlap > 0 {
		cfg.KnowledgeBase.ChunkOverlap = chunkOverlap
	}
	if err := cfg.ValidateKnowledgeBase(); err != nil {
		return err
	}
	if cfg.KnowledgeBase.QdrantURL == "" {
		return fmt.Errorf("knowledge_base.qdrant_url is required for ingest")
	}

	embedder, err := newEmbedder(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("failed to create embeddings provider: %w", err)
	}
	vs, err := newVectorStore(ctx, cfg.KnowledgeBase, embedder.Dimension(), logger)
	if err != nil {
		return fmt.Errorf("failed to open knowledge base: %w", err)
	}
	defer vs.Close()

	pipeCfg := ingest.DefaultConfig()
	pipeCfg.ChunkSize = cfg.KnowledgeBase.ChunkSize
	pipeCfg.ChunkOverlap = cfg.KnowledgeBase.ChunkOverlap
	if batchSize > 0 {
		pipeCfg.EmbeddingBatchSize = batchSize
	}
	pipeline := ingest.NewPipeline(vs, embedder, pipeCfg, logger)

	for _, path := range paths {
		res, err := ingestFile(ctx, pipeline, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: %d chunks in %s\n", res.Source, res.Chunks, res.Duration.Round(time.Millisecond))
	}
	return nil
}

func ingestFile(ctx context.Context, pipeline *ingest.Pipeline, path string) (*ingest.Result, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return pipeline.IngestPDF(ctx, path)
	}
	return pipeline.IngestFile(ctx, path)
}
