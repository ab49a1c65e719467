package telegram

import (
	"strings"
	"unicode/utf8"
)

// markdownV2Special lists the characters Telegram's MarkdownV2 treats as
// markup.
const markdownV2Special = "_*[]()~`>#+-=|{}.!"

// EscapeMarkdownV2 prefixes every MarkdownV2 special character with a
// backslash. Each occurrence is escaped once; other characters are kept.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/8)
	// Bytes, not runes: invalid UTF-8 must pass through unchanged.
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c < utf8.RuneSelf && strings.IndexByte(markdownV2Special, c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isMarkdownV2Special(r rune) bool {
	return r < 128 && strings.ContainsRune(markdownV2Special, r)
}

// escapedWeight is the length a rune occupies after EscapeMarkdownV2.
func escapedWeight(r rune) int {
	if isMarkdownV2Special(r) {
		return 2
	}
	return 1
}
