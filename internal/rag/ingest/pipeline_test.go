package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/tgassist/internal/rag/store"
)

type fakeEmbedder struct {
	dim     int
	batch   int
	calls   [][]string
	failure error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	f.calls = append(f.calls, texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(len(text))
		vec[1] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Name() string      { return "fake" }
func (f *fakeEmbedder) Dimension() int    { return f.dim }
func (f *fakeEmbedder) MaxBatchSize() int { return f.batch }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIngestTextStoresChunksWithPayload(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 12; i++ {
		paragraphs = append(paragraphs, fmt.Sprintf("Paragraph %d describes quarterly revenue for region %d in some detail.", i, i))
	}
	text := strings.Join(paragraphs, "\n\n")

	vs := store.NewMemoryStore()
	emb := &fakeEmbedder{dim: 4, batch: 3}
	p := NewPipeline(vs, emb, DefaultConfig(), testLogger())
	ids := 0
	p.newID = func() string {
		ids++
		return fmt.Sprintf("id-%03d", ids)
	}

	result, err := p.IngestText(context.Background(), "report.pdf", text)
	if err != nil {
		t.Fatalf("IngestText() error = %v", err)
	}
	if result.Chunks < 2 {
		t.Fatalf("expected several chunks, got %d", result.Chunks)
	}
	if result.Source != "report.pdf" {
		t.Errorf("Source = %q", result.Source)
	}
	for i, call := range emb.calls {
		if len(call) > 3 {
			t.Errorf("batch %d has %d texts, want <= 3", i, len(call))
		}
	}
	if ids != result.Chunks {
		t.Errorf("generated %d ids for %d chunks", ids, result.Chunks)
	}

	hits, err := vs.Search(context.Background(), []float32{1, 1, 0, 0}, 100)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != result.Chunks {
		t.Fatalf("stored %d points, want %d", len(hits), result.Chunks)
	}
	seen := make(map[int]bool)
	for _, hit := range hits {
		if hit.Content() == "" {
			t.Errorf("hit %s has no content", hit.ID)
		}
		if hit.Payload[PayloadSource] != "report.pdf" {
			t.Errorf("source = %v", hit.Payload[PayloadSource])
		}
		idx, ok := hit.Payload[PayloadChunk].(int)
		if !ok {
			t.Fatalf("chunk payload has type %T", hit.Payload[PayloadChunk])
		}
		seen[idx] = true
	}
	for i := 0; i < result.Chunks; i++ {
		if !seen[i] {
			t.Errorf("chunk index %d missing", i)
		}
	}
}

func TestIngestTextRejectsEmptyDocument(t *testing.T) {
	p := NewPipeline(store.NewMemoryStore(), &fakeEmbedder{dim: 2, batch: 8}, DefaultConfig(), testLogger())
	if _, err := p.IngestText(context.Background(), "blank.pdf", "  \n\n "); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestIngestTextEmbeddingFailure(t *testing.T) {
	boom := errors.New("embedding backend down")
	vs := store.NewMemoryStore()
	p := NewPipeline(vs, &fakeEmbedder{dim: 2, batch: 8, failure: boom}, DefaultConfig(), testLogger())

	_, err := p.IngestText(context.Background(), "doc.pdf", "Some text. More text.")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped embedding error, got %v", err)
	}
	hits, _ := vs.Search(context.Background(), []float32{1, 1}, 10)
	if len(hits) != 0 {
		t.Errorf("expected nothing stored, got %d points", len(hits))
	}
}

func TestIngestPDFMissingFile(t *testing.T) {
	p := NewPipeline(store.NewMemoryStore(), &fakeEmbedder{dim: 2, batch: 8}, DefaultConfig(), testLogger())
	_, err := p.IngestPDF(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIngestFileReadsText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("Office hours are 9 to 5.\n\nParking is on level 2."), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := NewPipeline(store.NewMemoryStore(), &fakeEmbedder{dim: 2, batch: 8}, DefaultConfig(), testLogger())

	result, err := p.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}
	if result.Source != "notes.md" || result.Chunks == 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestIngestFileRejectsBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x81}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := NewPipeline(store.NewMemoryStore(), &fakeEmbedder{dim: 2, batch: 8}, DefaultConfig(), testLogger())
	if _, err := p.IngestFile(context.Background(), path); err == nil {
		t.Fatal("expected error for binary file")
	}
}
