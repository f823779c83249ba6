package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"shorter than size", "hello", 10, 2, []string{"hello"}},
		{"exact windows with overlap", "abcdefghij", 4, 1, []string{"abcd", "defg", "ghij"}},
		{"no overlap", "abcdef", 3, 0, []string{"abc", "def"}},
		{"overlap clamped to half", "abcdef", 4, 9, []string{"abcd", "cdef"}},
		{"blank windows dropped", "ab      ", 2, 0, []string{"ab"}},
		{"empty", "", 4, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkText(tt.text, tt.size, tt.overlap))
		})
	}
}

func TestChunkText_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 10)
	chunks := chunkText(text, 5, 0)
	assert.Equal(t, []string{"ééééé", "ééééé"}, chunks)
}
