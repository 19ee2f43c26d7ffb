package processor

import (
	"strings"

	"github.com/xhad/stager/pkg/limits"
	"github.com/xhad/stager/pkg/stages"
)

// StageBudget returns the per-stage unit budget, 80% of MaxUnits, and its
// character proxy. The margin is tighter than Truncate's because every stage
// pays its own prompt overhead downstream.
func StageBudget(l limits.Limits) (units, chars int) {
	units = l.MaxUnits * 4 / 5
	chars = limits.CharsForUnits(units)
	if byChars := l.MaxChars * 4 / 5; byChars < chars {
		chars = byChars
	}
	return units, chars
}

// Chunk splits text into ordered pending stages, each within the stage
// budget for l. Paragraphs are kept whole where possible; a paragraph that
// does not fit on its own is split into sentences, and a sentence that does
// not fit into words. Words are never split, so a single word longer than
// the budget becomes its own oversized stage.
//
// Whitespace between pieces is normalized: stages rejoin paragraphs with a
// blank line and sentences and words with a single space.
func Chunk(text string, l limits.Limits) []stages.Stage {
	unitBudget, charBudget := StageBudget(l)
	c := &chunker{unitBudget: unitBudget, charBudget: charBudget}

	for i, p := range splitParagraphs(text) {
		sep := paragraphSep
		if i == 0 {
			sep = ""
		}
		c.addParagraph(p, sep)
	}
	c.flush()
	return c.stages
}

type chunker struct {
	unitBudget int
	charBudget int

	buf      strings.Builder
	bufChars int
	stages   []stages.Stage
}

// fits checks both proxies. They disagree when the char budget was capped
// by MaxChars or when the unit estimate rounds up.
func (c *chunker) fits(chars int) bool {
	return chars <= c.charBudget && limits.UnitsForChars(chars) <= c.unitBudget
}

func (c *chunker) addParagraph(p, sep string) {
	if c.fits(runeLen(p)) {
		c.add(p, sep)
		return
	}
	for _, s := range splitSentences(p) {
		if c.fits(runeLen(s)) {
			c.add(s, sep)
		} else {
			for _, w := range strings.Fields(s) {
				c.add(w, sep)
				sep = wordSep
			}
		}
		sep = sentenceSep
	}
}

// add appends piece to the open stage, closing it first when piece would
// overflow the budget. sep joins piece to what is already buffered.
func (c *chunker) add(piece, sep string) {
	n := runeLen(piece)
	if c.bufChars > 0 {
		joined := c.bufChars + runeLen(sep) + n
		if c.fits(joined) {
			c.buf.WriteString(sep)
			c.buf.WriteString(piece)
			c.bufChars = joined
			return
		}
		c.flush()
	}
	c.buf.WriteString(piece)
	c.bufChars = n
}

func (c *chunker) flush() {
	if c.bufChars == 0 {
		return
	}
	content := c.buf.String()
	index := len(c.stages)
	c.stages = append(c.stages, stages.Stage{
		ID:        stages.StageID(index),
		Index:     index,
		Content:   content,
		UnitCount: limits.EstimateUnits(content),
		Status:    stages.StatusPending,
	})
	c.buf.Reset()
	c.bufChars = 0
}
