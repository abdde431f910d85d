// Package chunker splits normalized text into fixed-size fragments.
//
// Sizes are measured in runes. Chunks never overlap and concatenate back to
// the input exactly, so the same text and size always yield the same
// sequence of dedup keys.
package chunker

import (
	"iter"
	"unicode/utf8"
)

// Chunks returns a restartable sequence of (ordinal, chunk) pairs. Each range
// over the result walks the text from the beginning. A non-positive size or
// empty text yields nothing.
func Chunks(text string, size int) iter.Seq2[int, string] {
	return func(yield func(int, string) bool) {
		if size <= 0 || text == "" {
			return
		}
		ordinal := 0
		start := 0
		runes := 0
		for i := range text {
			if runes == size {
				if !yield(ordinal, text[start:i]) {
					return
				}
				ordinal++
				start = i
				runes = 0
			}
			runes++
		}
		yield(ordinal, text[start:])
	}
}

// Split collects Chunks into a slice.
func Split(text string, size int) []string {
	if size <= 0 || text == "" {
		return nil
	}
	out := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	for _, chunk := range Chunks(text, size) {
		out = append(out, chunk)
	}
	return out
}
