package pipeline

import (
	"fmt"
	"html"
	"strings"
	"testing"
	"unicode/utf8"

	"voxscribe/pkg/chunker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatChunks(t *testing.T) {
	longName := html.EscapeString(strings.Repeat("&", 128))

	tests := []struct {
		name   string
		text   string
		header string
		limit  int
	}{
		{name: "short", text: "привет", header: fmt.Sprintf(msgHeader, "Анна"), limit: chunker.DefaultLimit},
		{name: "plain long", text: strings.Repeat("слово ", 1500), header: fmt.Sprintf(msgHeader, "Анна"), limit: chunker.DefaultLimit},
		{name: "markup heavy", text: strings.Repeat("<&> ", 1500), header: fmt.Sprintf(msgHeader, "Анна"), limit: chunker.DefaultLimit},
		{name: "no spaces all ampersands", text: strings.Repeat("&", 9000), header: fmt.Sprintf(msgHeader, "Анна"), limit: chunker.DefaultLimit},
		{name: "long display name", text: strings.Repeat("a", 4000), header: fmt.Sprintf(msgHeader, longName), limit: chunker.DefaultLimit},
		{name: "tiny limit", text: "a < b & c > d", header: "h: ", limit: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages := formatChunks(tt.text, tt.header, tt.limit)
			require.NotEmpty(t, messages)

			var rebuilt strings.Builder
			for _, msg := range messages {
				require.True(t, strings.HasPrefix(msg, tt.header))
				body := strings.TrimPrefix(msg, tt.header)
				if utf8.RuneCountInString(tt.header)+minBody <= tt.limit {
					assert.LessOrEqual(t, utf8.RuneCountInString(msg), tt.limit)
				}
				rebuilt.WriteString(html.UnescapeString(body))
			}

			noSpaces := func(s string) string { return strings.ReplaceAll(s, " ", "") }
			assert.Equal(t, noSpaces(tt.text), noSpaces(rebuilt.String()), "no text is lost or reordered")
		})
	}
}

func TestFormatChunks_PlainTextMatchesSplit(t *testing.T) {
	header := fmt.Sprintf(msgHeader, "Анна")
	text := strings.Repeat("слово ", 1500)

	messages := formatChunks(text, header, chunker.DefaultLimit)
	chunks := chunker.Split(text, chunker.DefaultLimit-utf8.RuneCountInString(header))

	require.Len(t, messages, len(chunks))
	for i := range chunks {
		assert.Equal(t, header+chunks[i], messages[i])
	}
}
