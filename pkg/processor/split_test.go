package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitParagraphs(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{"one\ntwo", []string{"one\ntwo"}},
		{"one\n\ntwo", []string{"one", "two"}},
		{"  one \n \t\n\n\n two  ", []string{"one", "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, splitParagraphs(tt.text))
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"", nil},
		{"No terminator", []string{"No terminator"}},
		{"One. Two! Three? Four", []string{"One.", "Two!", "Three?", "Four"}},
		{"Wait... what?!  Yes.", []string{"Wait...", "what?!", "Yes."}},
		{"v1.2 is out. Done.", []string{"v1.2 is out.", "Done."}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSentences(tt.text))
		})
	}
}

func TestSentenceFragments(t *testing.T) {
	assert.Equal(t, []string{"One", "Two", "Three?"}, sentenceFragments("One. Two!  Three?"))
}

func TestCutRunes(t *testing.T) {
	assert.Equal(t, "", cutRunes("abc", 0))
	assert.Equal(t, "ab", cutRunes("abc", 2))
	assert.Equal(t, "abc", cutRunes("abc", 5))
	assert.Equal(t, "日本", cutRunes("日本語", 2))
}

func TestCleanText(t *testing.T) {
	in := "Title  line \r\n\r\n  body\t\ttext   here \n\n\n"
	assert.Equal(t, "Title line\n\nbody text here", cleanText(in))
}
