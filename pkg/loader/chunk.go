package loader

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidWindow is returned when the chunk size or overlap is out of range.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Span is a single chunk window. Start and End are byte offsets into the
// source text, End exclusive. Text is the window content with surrounding
// whitespace removed.
type Span struct {
	Start int
	End   int
	Text  string
}

// Chunk splits text into windows of size bytes that overlap by overlap bytes.
//
// Windows start at offset 0 and advance by size-overlap. Whitespace-only
// windows are skipped, and splitting stops once a window reaches the end of
// text. Window boundaries never split a UTF-8 sequence; for ASCII input the
// windows are exactly size bytes apart minus overlap.
func Chunk(text string, size, overlap int) ([]Span, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidWindow, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidWindow, size, overlap)
	}

	var spans []Span

	cursor := 0
	for cursor < len(text) {
		end := cursor + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = runeBoundary(text, end, cursor)
		}

		if trimmed := strings.TrimSpace(text[cursor:end]); trimmed != "" {
			spans = append(spans, Span{Start: cursor, End: end, Text: trimmed})
		}

		if end >= len(text) {
			break
		}

		// The cursor only ever moves forward.
		cursor = runeBoundary(text, end-overlap, cursor)
	}

	return spans, nil
}

// runeBoundary moves i back to the start of the rune containing it. If that
// would land at or before floor, it moves forward to the first rune start
// after floor instead.
func runeBoundary(text string, i, floor int) int {
	for i > floor && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	if i > floor {
		return i
	}

	i = floor + 1
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}
