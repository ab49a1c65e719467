package chunker

import (
	"strings"
	"unicode/utf8"
)

// RecursiveCharacterTextSplitter implements a recursive chunking strategy.
// It tries to split on larger separators first, then falls back to smaller
// ones. A piece that no separator can break is kept whole.
type RecursiveCharacterTextSplitter struct {
	config     Config
	separators []string
}

// DocumentSeparators is the separator hierarchy used for ingested
// documents: paragraphs, then lines, then sentences.
var DocumentSeparators = []string{"\n\n", "\n", "."}

// NewRecursiveCharacterTextSplitter creates a new recursive text splitter.
func NewRecursiveCharacterTextSplitter(cfg Config) *RecursiveCharacterTextSplitter {
	defaults := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = defaults.ChunkOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = defaults.MinChunkSize
	}
	return &RecursiveCharacterTextSplitter{
		config:     cfg,
		separators: DocumentSeparators,
	}
}

// WithSeparators sets custom separators.
func (s *RecursiveCharacterTextSplitter) WithSeparators(seps []string) *RecursiveCharacterTextSplitter {
	s.separators = seps
	return s
}

// Name returns the chunker name.
func (s *RecursiveCharacterTextSplitter) Name() string {
	return "recursive_character"
}

// Config returns the effective configuration.
func (s *RecursiveCharacterTextSplitter) Config() Config {
	return s.config
}

// Split splits text into chunks and adds overlap between neighbours.
func (s *RecursiveCharacterTextSplitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	chunks := s.mergeChunksWithOverlap(s.splitText(text, 0, s.separators))
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// splitText recursively splits text using the separator hierarchy. base is
// the offset of text within the original document.
func (s *RecursiveCharacterTextSplitter) splitText(text string, base int, separators []string) []Chunk {
	if len(text) == 0 {
		return nil
	}

	separator := ""
	rest := separators
	for i, sep := range separators {
		if sep != "" && strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}
	if separator == "" {
		return s.emit(nil, text, base)
	}

	splits := strings.Split(text, separator)
	var result []Chunk
	var current strings.Builder
	currentStart := base
	offset := base

	flush := func() {
		if current.Len() > 0 {
			result = s.emit(result, current.String(), currentStart)
			current.Reset()
		}
	}

	for i, split := range splits {
		piece := split
		if !s.config.DropSeparators && i < len(splits)-1 {
			piece = split + separator
		}

		if current.Len() > 0 && current.Len()+len(piece) > s.config.ChunkSize {
			flush()
		}

		if len(piece) > s.config.ChunkSize && len(rest) > 0 {
			flush()
			result = append(result, s.splitText(piece, offset, rest)...)
		} else {
			if current.Len() == 0 {
				currentStart = offset
			}
			current.WriteString(piece)
		}

		offset += len(split)
		if i < len(splits)-1 {
			offset += len(separator)
		}
	}
	flush()
	return result
}

// emit trims content and appends it when long enough.
func (s *RecursiveCharacterTextSplitter) emit(result []Chunk, content string, start int) []Chunk {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < s.config.MinChunkSize {
		return result
	}
	start += strings.Index(content, trimmed)
	return append(result, Chunk{
		Content:     trimmed,
		StartOffset: start,
		EndOffset:   start + len(trimmed),
	})
}

// mergeChunksWithOverlap prefixes each chunk with the tail of its predecessor.
func (s *RecursiveCharacterTextSplitter) mergeChunksWithOverlap(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 || s.config.ChunkOverlap <= 0 {
		return chunks
	}

	result := make([]Chunk, len(chunks))
	result[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		overlap := s.config.ChunkOverlap
		if overlap > len(prev.Content) {
			overlap = len(prev.Content)
		}
		cut := len(prev.Content) - overlap
		for cut < len(prev.Content) && !utf8.RuneStart(prev.Content[cut]) {
			cut++
		}
		tail := prev.Content[cut:]
		result[i] = Chunk{
			Content:     tail + chunks[i].Content,
			StartOffset: chunks[i].StartOffset - len(tail),
			EndOffset:   chunks[i].EndOffset,
		}
	}
	return result
}
