package pipeline

import (
	"html"
	"unicode/utf8"

	"voxscribe/pkg/chunker"
)

// minBody is the smallest transcript slice a message carries, however long
// the header is.
const minBody = 16

// formatChunks splits text into HTML messages of at most limit characters,
// each starting with header. Chunks are escaped after splitting and split
// again when escaping pushes them past the room the header leaves.
func formatChunks(text, header string, limit int) []string {
	budget := limit - utf8.RuneCountInString(header)
	if budget < minBody {
		budget = minBody
	}

	bodies := escapedChunks(text, budget, budget)
	messages := make([]string, len(bodies))
	for i, body := range bodies {
		messages[i] = header + body
	}
	return messages
}

func escapedChunks(text string, splitAt, budget int) []string {
	var out []string
	for _, chunk := range chunker.Split(text, splitAt) {
		escaped := html.EscapeString(chunk)
		size := utf8.RuneCountInString(escaped)
		n := utf8.RuneCountInString(chunk)
		if size <= budget || n <= 1 {
			out = append(out, escaped)
			continue
		}

		shrunk := n * budget / size
		if shrunk >= n {
			shrunk = n - 1
		}
		if shrunk < 1 {
			shrunk = 1
		}
		out = append(out, escapedChunks(chunk, shrunk, budget)...)
	}
	return out
}
