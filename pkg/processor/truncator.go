package processor

import (
	"strings"

	"github.com/xhad/stager/pkg/limits"
)

const Ellipsis = "..."

type TruncationResult struct {
	Text           string `json:"text"`
	OriginalLength int    `json:"original_length"`
	NewLength      int    `json:"new_length"`
	UnitsSaved     int    `json:"units_saved"`
	WasTruncated   bool   `json:"was_truncated"`
}

// TruncationBudget is the character budget Truncate cuts to when text is
// over l: floor(0.9 * MaxUnits * 3.5), kept 10% below the hard ceiling, and
// never above 90% of MaxChars.
func TruncationBudget(l limits.Limits) int {
	budget := l.MaxUnits * 63 / 20
	if byChars := l.MaxChars * 9 / 10; byChars < budget {
		budget = byChars
	}
	return budget
}

// Truncate returns text unchanged when it is within l. Otherwise it keeps as
// many leading paragraphs as fit the budget, falling back to whole sentences
// and finally to a hard cut marked with Ellipsis.
func Truncate(text string, l limits.Limits) TruncationResult {
	original := runeLen(text)
	if l.Validate(text).IsValid {
		return TruncationResult{
			Text:           text,
			OriginalLength: original,
			NewLength:      original,
		}
	}

	budget := TruncationBudget(l)
	truncated, ok := keepParagraphs(text, budget)
	if !ok {
		truncated, ok = keepSentences(text, budget)
	}
	if !ok {
		truncated = cutRunes(text, budget) + Ellipsis
	}

	saved := limits.EstimateUnits(text) - limits.EstimateUnits(truncated)
	if saved < 0 {
		saved = 0
	}
	return TruncationResult{
		Text:           truncated,
		OriginalLength: original,
		NewLength:      runeLen(truncated),
		UnitsSaved:     saved,
		WasTruncated:   true,
	}
}

func keepParagraphs(text string, budget int) (string, bool) {
	var kept []string
	length := 0
	for _, p := range splitParagraphs(text) {
		next := length + runeLen(p)
		if len(kept) > 0 {
			next += len(paragraphSep)
		}
		if next > budget {
			break
		}
		kept = append(kept, p)
		length = next
	}
	if len(kept) == 0 {
		return "", false
	}
	return strings.Join(kept, paragraphSep), true
}

func keepSentences(text string, budget int) (string, bool) {
	const sep = ". "
	var kept []string
	length := 0
	for _, s := range sentenceFragments(text) {
		next := length + runeLen(s)
		if len(kept) > 0 {
			next += len(sep)
		}
		// room for the closing period
		if next+1 > budget {
			break
		}
		kept = append(kept, s)
		length = next
	}
	if len(kept) == 0 {
		return "", false
	}
	joined := strings.Join(kept, sep)
	if !strings.ContainsAny(joined[len(joined)-1:], ".!?") {
		joined += "."
	}
	return joined, true
}
