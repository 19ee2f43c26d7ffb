package limits

import (
	"math"
	"unicode/utf8"
)

// CharsPerUnit is deliberately lower than the ~4 chars/token typical of
// English so estimates err on the high side.
const CharsPerUnit = 3.5

// EstimateUnits approximates the downstream unit count of text as
// ceil(chars / CharsPerUnit), counting characters as code points.
func EstimateUnits(text string) int {
	return UnitsForChars(utf8.RuneCountInString(text))
}

// UnitsForChars is EstimateUnits for an already known character count.
// ceil(n / 3.5) == ceil(2n / 7), kept in integer arithmetic.
func UnitsForChars(n int) int {
	if n <= 0 {
		return 0
	}
	return (2*n + 6) / 7
}

// CharsForUnits converts a unit budget to its character proxy, rounded down.
func CharsForUnits(units int) int {
	if units <= 0 {
		return 0
	}
	if units > math.MaxInt/7 {
		return math.MaxInt
	}
	return units * 7 / 2
}

type ValidationResult struct {
	UnitCount    int    `json:"unit_count"`
	CharCount    int    `json:"char_count"`
	IsValid      bool   `json:"is_valid"`
	ExceedsLimit bool   `json:"exceeds_limit"`
	NeedsWarning bool   `json:"needs_warning"`
	Limits       Limits `json:"limits"`
}

// Validate classifies text against l. Exceeding a limit is reported in the
// result, never as an error.
func (l Limits) Validate(text string) ValidationResult {
	chars := utf8.RuneCountInString(text)
	units := UnitsForChars(chars)
	exceeds := units > l.MaxUnits || chars > l.MaxChars

	return ValidationResult{
		UnitCount:    units,
		CharCount:    chars,
		IsValid:      !exceeds,
		ExceedsLimit: exceeds,
		NeedsWarning: units > l.WarningThreshold,
		Limits:       l,
	}
}
