package channels

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageChunker splits long messages to fit a platform's length limit,
// preferring paragraph, line, sentence and word boundaries in that order.
//
// Sizes are counted in runes. When Weight is set, each rune counts as
// Weight(r) toward MaxSize, so text can be split before a transformation
// that grows it (such as markup escaping) without cutting an escape apart.
type MessageChunker struct {
	MaxSize int
	Weight  func(r rune) int
}

// NewMessageChunker creates a chunker with the given max size.
func NewMessageChunker(maxSize int) *MessageChunker {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &MessageChunker{MaxSize: maxSize}
}

// Chunk splits text into pieces whose weighted size fits MaxSize.
// Leading and trailing whitespace is trimmed from every piece.
func (c *MessageChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	remaining := text
	for {
		fit := c.fitPrefix(remaining)
		if fit == len(remaining) {
			break
		}
		breakIdx := c.findBreakPoint(remaining[:fit])
		if chunk := strings.TrimRightFunc(remaining[:breakIdx], unicode.IsSpace); chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[breakIdx:], unicode.IsSpace)
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// fitPrefix returns the byte length of the longest prefix of text within
// MaxSize. At least one rune is always included.
func (c *MessageChunker) fitPrefix(text string) int {
	size := 0
	for i, r := range text {
		w := 1
		if c.Weight != nil {
			w = c.Weight(r)
		}
		if size+w > c.MaxSize {
			if i == 0 {
				_, n := utf8.DecodeRuneInString(text)
				return n
			}
			return i
		}
		size += w
	}
	return len(text)
}

// findBreakPoint picks the split position inside window, which is the
// largest prefix that fits.
func (c *MessageChunker) findBreakPoint(window string) int {
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	best := -1
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > best {
			best = idx
		}
	}
	if best > 0 {
		return best + 1
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return len(window)
}
