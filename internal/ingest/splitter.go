// Package ingest prepares raw documents for indexing. The splitter cuts text
// into overlapping chunks, preferring paragraph and sentence boundaries over
// hard cuts so retrieved chunks stay readable on their own.
package ingest

import (
	"errors"
	"strings"
)

// separators in preference order. Each level is only used when the text is
// still too large after splitting on the previous one.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter cuts text into chunks of at most Size characters with Overlap
// characters carried over between consecutive chunks.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a splitter. overlap must be smaller than size.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, errors.New("chunk overlap must be in [0, size)")
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split cuts text into chunks. Whitespace-only input yields no chunks.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.merge(s.fragment(text, separators))
}

// fragment recursively splits text until every piece fits the chunk size.
// Separators stay attached to the preceding piece.
func (s *Splitter) fragment(text string, seps []string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= s.size {
		return []string{text}
	}
	if len(seps) == 0 {
		return s.hardCut(text)
	}

	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		return s.fragment(text, seps[1:])
	}

	var out []string
	for _, part := range parts {
		if len(part) <= s.size {
			out = append(out, part)
			continue
		}
		out = append(out, s.fragment(part, seps[1:])...)
	}
	return out
}

// hardCut splits on rune boundaries when no separator helps.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > s.size {
		out = append(out, string(runes[:s.size]))
		runes = runes[s.size:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// merge packs fragments into chunks up to the size limit, seeding each new
// chunk with the tail of the previous one.
func (s *Splitter) merge(pieces []string) []string {
	var chunks []string
	var cur strings.Builder

	flush := func() string {
		chunk := strings.TrimSpace(cur.String())
		cur.Reset()
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		return chunk
	}

	for _, piece := range pieces {
		if cur.Len() > 0 && cur.Len()+len(piece) > s.size {
			chunk := flush()
			if s.overlap > 0 && chunk != "" {
				cur.WriteString(overlapTail(chunk, s.overlap))
				cur.WriteByte(' ')
			}
		}
		cur.WriteString(piece)
	}
	flush()

	return chunks
}

// overlapTail returns the last n runes of chunk, advanced to the next word
// boundary so the overlap never starts mid-word.
func overlapTail(chunk string, n int) string {
	runes := []rune(chunk)
	if len(runes) <= n {
		return chunk
	}
	tail := string(runes[len(runes)-n:])
	if i := strings.IndexByte(tail, ' '); i >= 0 && i+1 < len(tail) {
		return tail[i+1:]
	}
	return tail
}
