package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ChunkSize != 200 {
		t.Errorf("ChunkSize = %d, want 200", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap != 20 {
		t.Errorf("ChunkOverlap = %d, want 20", cfg.ChunkOverlap)
	}
	if cfg.DropSeparators {
		t.Error("separators should be kept by default")
	}
}

func TestNewRecursiveCharacterTextSplitter(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantSize    int
		wantOverlap int
	}{
		{name: "defaults for zero config", cfg: Config{}, wantSize: 200, wantOverlap: 0},
		{name: "negative overlap", cfg: Config{ChunkSize: 100, ChunkOverlap: -1}, wantSize: 100, wantOverlap: 20},
		{name: "overlap not smaller than size", cfg: Config{ChunkSize: 50, ChunkOverlap: 50}, wantSize: 50, wantOverlap: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewRecursiveCharacterTextSplitter(tt.cfg).Config()
			if got.ChunkSize != tt.wantSize || got.ChunkOverlap != tt.wantOverlap {
				t.Fatalf("got size=%d overlap=%d, want %d/%d", got.ChunkSize, got.ChunkOverlap, tt.wantSize, tt.wantOverlap)
			}
		})
	}
}

func TestSplit_Empty(t *testing.T) {
	s := NewRecursiveCharacterTextSplitter(DefaultConfig())
	if chunks := s.Split("  \n\n "); chunks != nil {
		t.Fatalf("expected no chunks, got %v", chunks)
	}
}

func TestSplit_SmallContent(t *testing.T) {
	s := NewRecursiveCharacterTextSplitter(DefaultConfig())
	chunks := s.Split("Quarterly revenue grew 12%.")
	if len(chunks) != 1 || chunks[0].Content != "Quarterly revenue grew 12%." {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
}

func TestSplit_ParagraphsRespectSize(t *testing.T) {
	paragraph := strings.Repeat("word ", 30) // 150 bytes
	text := strings.Join([]string{paragraph, paragraph, paragraph}, "\n\n")

	s := NewRecursiveCharacterTextSplitter(Config{ChunkSize: 200, ChunkOverlap: 0})
	chunks := s.Split(text)
	if len(chunks) != 3 {
		t.Fatalf("expected one chunk per paragraph, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if len(c.Content) > 200 {
			t.Errorf("chunk %d exceeds size: %d", i, len(c.Content))
		}
		if text[c.StartOffset:c.EndOffset] != c.Content {
			t.Errorf("chunk %d offsets do not match content", i)
		}
	}
}

func TestSplit_FallsBackToSentences(t *testing.T) {
	sentence := strings.Repeat("a", 80) + "."
	text := strings.Repeat(sentence, 5) // one long line

	s := NewRecursiveCharacterTextSplitter(Config{ChunkSize: 200, ChunkOverlap: 0})
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected sentence splitting, got %d chunks", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if len(c.Content) > 200 {
			t.Errorf("chunk exceeds size: %d", len(c.Content))
		}
		total += len(c.Content)
	}
	if total != len(text) {
		t.Errorf("text lost during splitting: %d of %d bytes", total, len(text))
	}
}

func TestSplit_DropSeparators(t *testing.T) {
	text := strings.Repeat(strings.Repeat("b", 80)+".", 5)
	s := NewRecursiveCharacterTextSplitter(Config{ChunkSize: 200, DropSeparators: true})
	for i, c := range s.Split(text) {
		if strings.Contains(c.Content, ".") {
			t.Errorf("chunk %d kept a separator: %q", i, c.Content)
		}
	}
}

func TestSplit_UnbreakableTextKeptWhole(t *testing.T) {
	word := strings.Repeat("x", 500)
	s := NewRecursiveCharacterTextSplitter(DefaultConfig())
	chunks := s.Split(word)
	if len(chunks) != 1 || chunks[0].Content != word {
		t.Fatalf("expected unbreakable text as single chunk, got %d chunks", len(chunks))
	}
}

func TestSplit_Overlap(t *testing.T) {
	text := strings.Repeat("alpha ", 30) + "\n\n" + strings.Repeat("omega ", 30)
	s := NewRecursiveCharacterTextSplitter(Config{ChunkSize: 200, ChunkOverlap: 20})
	chunks := s.Split(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	prevTail := chunks[0].Content[len(chunks[0].Content)-20:]
	if !strings.HasPrefix(chunks[1].Content, prevTail) {
		t.Fatalf("second chunk should start with the tail of the first: %q", chunks[1].Content[:40])
	}
}

func TestSplit_OverlapKeepsValidUTF8(t *testing.T) {
	text := strings.Repeat("é", 120) + "\n\n" + strings.Repeat("ü", 120)
	s := NewRecursiveCharacterTextSplitter(Config{ChunkSize: 250, ChunkOverlap: 21})
	for i, c := range s.Split(text) {
		if !utf8.ValidString(c.Content) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
	}
}

func TestSimpleTokenCounter_Count(t *testing.T) {
	tests := []struct {
		text string
		cpt  int
		want int
	}{
		{"", 4, 0},
		{"abcd", 4, 1},
		{"abcde", 4, 2},
		{"abcdef", 0, 2},
	}
	for _, tt := range tests {
		c := &SimpleTokenCounter{CharsPerToken: tt.cpt}
		if got := c.Count(tt.text); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestRecursiveCharacterTextSplitter_ImplementsChunker(t *testing.T) {
	var _ Chunker = NewRecursiveCharacterTextSplitter(DefaultConfig())
}
