package index

import (
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/konduit/internal/crawler"
)

type span struct{ start, end int }

// Collapse normalizes every whitespace run to a single space. Chunk offsets
// refer to the collapsed text.
func Collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ChunkText splits the page text into sentence-packed chunks of at most
// maxChars bytes. Texts shorter than minChars become a single chunk.
func ChunkText(pageURL, text string, maxChars, minChars int) []crawler.Chunk {
	text = Collapse(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = 300
	}
	if len(text) < minChars || len(text) <= maxChars {
		return []crawler.Chunk{{URL: pageURL, Start: 0, End: len(text), Text: text}}
	}

	var (
		out []crawler.Chunk
		cur = span{-1, -1}
	)
	emit := func(s span) {
		out = append(out, crawler.Chunk{URL: pageURL, Start: s.start, End: s.end, Text: text[s.start:s.end]})
	}
	flush := func() {
		if cur.start >= 0 {
			emit(cur)
			cur = span{-1, -1}
		}
	}

	for _, s := range sentences(text) {
		switch {
		case s.end-s.start > maxChars:
			flush()
			for _, piece := range splitWords(text, s, maxChars) {
				emit(piece)
			}
		case cur.start < 0:
			cur = s
		case s.end-cur.start <= maxChars:
			cur.end = s.end
		default:
			flush()
			cur = s
		}
	}
	flush()
	return out
}

// sentences returns sentence spans: a sentence ends at '.', '!' or '?'
// followed by a space or the end of text.
func sentences(text string) []span {
	var out []span
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' {
				out = append(out, span{start, i + 1})
				start = i + 2
			}
		}
	}
	if start < len(text) {
		out = append(out, span{start, len(text)})
	}
	return out
}

// splitWords packs the words of s into spans of at most maxChars bytes. A
// single word longer than the limit is cut at rune boundaries.
func splitWords(text string, s span, maxChars int) []span {
	var (
		out []span
		cur = span{-1, -1}
	)
	pos := s.start
	for pos < s.end {
		end := strings.IndexByte(text[pos:s.end], ' ')
		if end < 0 {
			end = s.end
		} else {
			end += pos
		}
		word := span{pos, end}
		pos = end + 1

		if word.end-word.start > maxChars {
			if cur.start >= 0 {
				out = append(out, cur)
				cur = span{-1, -1}
			}
			out = append(out, hardCut(text, word, maxChars)...)
			continue
		}
		switch {
		case cur.start < 0:
			cur = word
		case word.end-cur.start <= maxChars:
			cur.end = word.end
		default:
			out = append(out, cur)
			cur = word
		}
	}
	if cur.start >= 0 {
		out = append(out, cur)
	}
	return out
}

func hardCut(text string, s span, maxChars int) []span {
	var out []span
	for start := s.start; start < s.end; {
		end := start + maxChars
		if end >= s.end {
			end = s.end
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				end = start + maxChars
			}
		}
		out = append(out, span{start, end})
		start = end
	}
	return out
}
