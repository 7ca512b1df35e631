package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClipKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "ab", Clip("abé", 3))
	assert.Equal(t, "abé", Clip("abé", 4))
	assert.Equal(t, "short", Clip("short", 10))
}

func TestClipToken(t *testing.T) {
	token := ClipToken(strings.Repeat("é", 400) + "\xff")
	assert.True(t, utf8.ValidString(token))
	assert.LessOrEqual(t, len(token), MaxTokenBytes)
	assert.Equal(t, "a\uFFFDb", ValidText("a\xff\xfeb"))
}
