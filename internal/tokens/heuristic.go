package tokens

import (
	"math"
	"unicode"

	"github.com/rivo/uniseg"
)

const (
	defaultCharsPerWordUnit     = 6.0
	defaultCharsPerAccentedUnit = 3.0
	shortSegmentRunes           = 3
)

// HeuristicEstimator splits text on Unicode word boundaries (UAX #29) and
// scores each segment by script:
//   - whitespace is free
//   - each CJK ideograph, kana or hangul syllable is one unit
//   - numbers and segments of up to three runes are one unit
//   - punctuation runs cost one unit per two runes
//   - words cost one unit per CharsPerWordUnit runes, or per
//     CharsPerAccentedUnit runes when they contain non-ASCII letters
type HeuristicEstimator struct {
	CharsPerWordUnit     float64
	CharsPerAccentedUnit float64
}

// Estimate implements Estimator
func (h HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	total := 0
	state := -1
	rest := text
	var segment string
	for len(rest) > 0 {
		segment, rest, state = uniseg.FirstWordInString(rest, state)
		total += h.segmentUnits(segment)
	}
	return total
}

func (h HeuristicEstimator) segmentUnits(segment string) int {
	var runes, spaces, cjk, digits, letters, accented int
	for _, r := range segment {
		runes++
		switch {
		case unicode.IsSpace(r):
			spaces++
		case isCJK(r):
			cjk++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
			if r > unicode.MaxASCII {
				accented++
			}
		}
	}

	switch {
	case runes == 0 || spaces == runes:
		return 0
	case cjk > 0:
		return cjk + ceilDiv(runes-cjk-spaces, h.wordRatio())
	case digits > 0 && letters == 0:
		return 1
	case runes <= shortSegmentRunes:
		return 1
	case letters == 0:
		return ceilDiv(runes, 2)
	case accented > 0:
		return ceilDiv(runes, h.accentedRatio())
	default:
		return ceilDiv(runes, h.wordRatio())
	}
}

func (h HeuristicEstimator) wordRatio() float64 {
	if h.CharsPerWordUnit <= 0 {
		return defaultCharsPerWordUnit
	}
	return h.CharsPerWordUnit
}

func (h HeuristicEstimator) accentedRatio() float64 {
	if h.CharsPerAccentedUnit <= 0 {
		return defaultCharsPerAccentedUnit
	}
	return h.CharsPerAccentedUnit
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func ceilDiv(n int, ratio float64) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / ratio))
}
