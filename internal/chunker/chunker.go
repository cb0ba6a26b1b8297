// Package chunker splits document text into pieces small enough for a
// single model call.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkSize is the chunk bound in runes when none is configured.
const DefaultMaxChunkSize = 8000

// Splitter divides text into chunks of at most MaxSize runes. When a window
// has to be cut, it prefers a paragraph break, then a line break, then a space
// found in the second half of the window, so chunks rarely split a sentence.
type Splitter struct {
	MaxSize int
}

// New returns a Splitter bounded to maxSize runes.
func New(maxSize int) *Splitter {
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}
	return &Splitter{MaxSize: maxSize}
}

// Split returns the chunks of text in document order. Empty or whitespace-only
// text yields a single empty chunk so every file produces at least one merge step.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{""}
	}
	if utf8.RuneCountInString(text) <= s.MaxSize {
		return []string{text}
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + s.MaxSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		end = cutPoint(runes, start, end)
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	return chunks
}

// cutPoint finds the best end index in runes[start:end].
func cutPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for _, sep := range []string{"\n\n", "\n", " "} {
		sepRunes := []rune(sep)
		for i := end - len(sepRunes); i >= floor; i-- {
			if matchAt(runes, i, sepRunes) {
				return i + len(sepRunes)
			}
		}
	}
	return end
}

func matchAt(runes []rune, i int, sep []rune) bool {
	if i+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}
