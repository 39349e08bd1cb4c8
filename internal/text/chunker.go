package text

import (
	"fmt"
	"iter"
	"unicode/utf8"

	"github.com/jabraham1/dok-tok/internal/apperr"
)

const (
	DefaultWindowSize = 1200
	DefaultOverlap    = 150
)

// Validate reports whether windowSize and overlap describe a window that
// always makes forward progress.
func Validate(windowSize, overlap int) error {
	if windowSize <= 0 {
		return apperr.Wrap(apperr.ErrInvalidParameters, "window size must be positive",
			fmt.Errorf("window_size=%d", windowSize))
	}
	if overlap < 0 || overlap >= windowSize {
		return apperr.Wrap(apperr.ErrInvalidParameters, "overlap must be >= 0 and < window size",
			fmt.Errorf("window_size=%d overlap=%d", windowSize, overlap))
	}
	return nil
}

// Windows returns a lazy sequence of (index, chunk) pairs covering text with
// fixed windows of windowSize characters that overlap by overlap characters.
// Offsets are counted in runes. The sequence ends with the first window that
// reaches the end of text, so no chunk is ever a suffix of its predecessor.
func Windows(text string, windowSize, overlap int) (iter.Seq2[int, string], error) {
	if err := Validate(windowSize, overlap); err != nil {
		return nil, err
	}
	step := windowSize - overlap

	return func(yield func(int, string) bool) {
		start := 0
		for i := 0; start < len(text); i++ {
			end := advance(text, start, windowSize)
			if !yield(i, text[start:end]) {
				return
			}
			if end == len(text) {
				return
			}
			start = advance(text, start, step)
		}
	}, nil
}

// Chunk splits text into overlapping windows. Empty text yields an empty
// slice.
func Chunk(text string, windowSize, overlap int) ([]string, error) {
	seq, err := Windows(text, windowSize, overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]string, 0, Count(utf8.RuneCountInString(text), windowSize, overlap))
	for _, c := range seq {
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Count returns how many chunks Windows produces for a text of length runes.
// It returns 0 for invalid parameters.
func Count(length, windowSize, overlap int) int {
	if length <= 0 || Validate(windowSize, overlap) != nil {
		return 0
	}
	if length <= windowSize {
		return 1
	}
	step := windowSize - overlap
	return (length - overlap + step - 1) / step
}

// advance returns the byte offset n runes after from, capped at len(s).
func advance(s string, from, n int) int {
	i := from
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}
