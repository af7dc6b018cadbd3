package content

import "unicode/utf8"

// SMS character limits per segment.
const (
	StandardLimit = 160 // GSM-7, single segment
	UnicodeLimit  = 70  // UCS-2, single segment
	StandardPart  = 153 // GSM-7, per segment of a concatenated message
	UnicodePart   = 67  // UCS-2, per segment of a concatenated message
)

// ContainsUnicode reports whether text has any character outside 7-bit
// ASCII, which forces UCS-2 encoding.
func ContainsUnicode(text string) bool {
	for i := 0; i < len(text); i++ {
		if text[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

// CalculateSMSSegments returns how many SMS segments text occupies. It is
// always at least one.
func CalculateSMSSegments(text string) int {
	count := utf8.RuneCountInString(text)

	limit, part := StandardLimit, StandardPart
	if ContainsUnicode(text) {
		limit, part = UnicodeLimit, UnicodePart
	}

	if count <= limit {
		return 1
	}
	return (count + part - 1) / part
}
