package processor

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	paragraphSep = "\n\n"
	sentenceSep  = " "
	wordSep      = " "
)

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	sentenceBreak  = regexp.MustCompile(`[.!?]+\s+`)
)

// splitParagraphs splits on blank lines and drops empty paragraphs.
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitSentences splits after terminal punctuation followed by whitespace.
// The punctuation stays with its sentence; the whitespace is dropped.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for _, m := range sentenceBreak.FindAllStringIndex(text, -1) {
		end := m[0]
		for end < m[1] && strings.IndexByte(".!?", text[end]) >= 0 {
			end++
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			sentences = append(sentences, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// sentenceFragments splits like splitSentences but strips the terminal
// punctuation, for callers that rejoin with their own.
func sentenceFragments(text string) []string {
	var fragments []string
	for _, s := range sentenceBreak.Split(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			fragments = append(fragments, s)
		}
	}
	return fragments
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// cutRunes returns the first n characters of s.
func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
