// Package chunker splits extracted document text into overlapping chunks
// sized for embedding.
package chunker

// Chunker splits text into chunks.
type Chunker interface {
	// Split returns the chunks of text in document order.
	Split(text string) []Chunk

	// Name returns the chunker name for logging.
	Name() string
}

// Config contains common configuration for chunkers.
type Config struct {
	// ChunkSize is the target size of each chunk in characters.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the number of characters repeated from the end of the
	// previous chunk at the start of the next.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// MinChunkSize drops chunks shorter than this after trimming.
	MinChunkSize int `yaml:"min_chunk_size"`

	// DropSeparators removes separators from the text instead of keeping
	// them at the end of each piece.
	DropSeparators bool `yaml:"drop_separators"`
}

// DefaultConfig returns the knowledge base chunking parameters: 200
// character chunks with 20 characters of overlap.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    200,
		ChunkOverlap: 20,
		MinChunkSize: 1,
	}
}

// Chunk represents a piece of text with position information.
type Chunk struct {
	// Index is the chunk's position in the document.
	Index int

	// Content is the chunk text.
	Content string

	// StartOffset is the byte offset in the original text.
	StartOffset int

	// EndOffset is the ending byte offset.
	EndOffset int
}

// TokenCounter estimates token count for text.
type TokenCounter interface {
	Count(text string) int
}

// SimpleTokenCounter estimates tokens by dividing character count by average chars per token.
type SimpleTokenCounter struct {
	// CharsPerToken is the average characters per token (default: 4).
	CharsPerToken int
}

// Count returns the estimated token count.
func (c *SimpleTokenCounter) Count(text string) int {
	cpt := c.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	return (len(text) + cpt - 1) / cpt
}
