// Package chunker splits document text into fixed-size overlapping
// segments for embedding.
//
// Splitting operates on runes, not bytes, so multi-byte characters are
// never cut in half. Consecutive segments share a configurable overlap
// so that sentences near a boundary remain retrievable from both sides.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig indicates chunking parameters that cannot produce
// a terminating sequence of segments.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Segment is one window of the source text. Start and End are rune
// offsets into the original text, with End exclusive.
type Segment struct {
	Text  string
	Start int
	End   int
}

// Chunk splits text into segments of at most size runes, each
// consecutive pair overlapping by overlap runes. The window advances
// by size-overlap runes per step, so overlap must be strictly smaller
// than size. Whitespace-only input yields no segments.
func Chunk(text string, size, overlap int) ([]Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must satisfy 0 <= overlap < size (%d)",
			ErrInvalidConfig, overlap, size)
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := size - overlap

	var segments []Segment
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, Segment{
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == len(runes) {
			break
		}
	}
	return segments, nil
}
