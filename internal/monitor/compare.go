package monitor

import "strings"

// chunk is a maximal run of digits or non-digits.
type chunk struct {
	text    string
	numeric bool
}

func splitChunks(s string) []chunk {
	var chunks []chunk
	start := 0
	for i, r := range s {
		if i == start {
			continue
		}
		prev := rune(s[i-1])
		if isASCIIDigit(r) != isASCIIDigit(prev) {
			chunks = append(chunks, chunk{text: s[start:i], numeric: isASCIIDigit(prev)})
			start = i
		}
	}
	if start < len(s) {
		chunks = append(chunks, chunk{text: s[start:], numeric: isASCIIDigit(rune(s[start]))})
	}
	return chunks
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// compareNumeric orders digit runs by value without overflowing.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func compareChunk(a, b chunk) int {
	switch {
	case a.numeric && b.numeric:
		return compareNumeric(a.text, b.text)
	case a.numeric:
		return -1
	case b.numeric:
		return 1
	default:
		return strings.Compare(strings.ToLower(a.text), strings.ToLower(b.text))
	}
}

// Compare orders version strings naturally: digit runs compare by numeric
// value and everything else compares case-insensitively, so "2.3.10" sorts
// after "2.3.9" and "V1.0" equals "v1.0".
// Returns -1, 0 or 1.
func Compare(a, b string) int {
	ca, cb := splitChunks(a), splitChunks(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if c := compareChunk(ca[i], cb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ca) < len(cb):
		return -1
	case len(ca) > len(cb):
		return 1
	}
	return 0
}
