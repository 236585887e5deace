// Package chunker splits long text into pieces that fit a chat message.
package chunker

import "unicode"

// DefaultLimit keeps a chunk plus its sender header under Telegram's
// 4096-character message cap.
const DefaultLimit = 4000

// Split cuts text into chunks of at most limit characters (Unicode code
// points). Cuts happen at the last space inside the limit; a run without
// spaces is hard-broken at exactly limit. Leading whitespace is stripped from
// every chunk after the first. A limit below 1 is treated as 1.
//
// Text that needs splitting is decoded as UTF-8, so invalid bytes come back
// as U+FFFD. Text that already fits is returned unchanged.
func Split(text string, limit int) []string {
	if limit < 1 {
		limit = 1
	}

	rest := []rune(text)
	if len(rest) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(rest) > 0 {
		if len(rest) <= limit {
			chunks = append(chunks, string(rest))
			break
		}

		cut := lastSpace(rest[:limit])
		if cut < 1 {
			cut = limit
		}

		chunks = append(chunks, string(rest[:cut]))
		rest = trimLeftSpace(rest[cut:])
	}

	return chunks
}

// lastSpace returns the index of the last ' ' in window, or -1.
func lastSpace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == ' ' {
			return i
		}
	}
	return -1
}

func trimLeftSpace(r []rune) []rune {
	i := 0
	for i < len(r) && unicode.IsSpace(r[i]) {
		i++
	}
	return r[i:]
}
