// Package content turns email bodies into short, safe SMS text.
//
// All functions are pure and safe for concurrent use. Lengths are counted
// in Unicode code points, which is how SMS encodings count characters.
package content

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// namedEntities are decoded in this order. "&amp;" must stay last so that
// "&amp;lt;" decodes to the literal text "&lt;" and never to "<".
var namedEntities = []struct {
	entity string
	text   string
}{
	{"&nbsp;", " "},
	{"&quot;", `"`},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&apos;", "'"},
	{"&lsquo;", "'"},
	{"&rsquo;", "'"},
	{"&ldquo;", `"`},
	{"&rdquo;", `"`},
	{"&mdash;", "—"},
	{"&ndash;", "–"},
	{"&hellip;", "..."},
	{"&amp;", "&"},
}

// HTMLToText converts an HTML body to plain text and removes anything that
// could be rendered as markup or script by a receiving client.
func HTMLToText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}

	text := scriptBlockRegex.ReplaceAllString(html, "")
	text = styleBlockRegex.ReplaceAllString(text, "")
	text = lineBreakRegex.ReplaceAllString(text, "\n")
	text = blockCloseRegex.ReplaceAllString(text, "\n\n")
	text = tagRegex.ReplaceAllString(text, "")

	text = decodeEntities(text)

	// Decoding can reveal tags such as "&lt;script&gt;".
	text = anyTagRegex.ReplaceAllString(text, "")
	text = removeActiveContent(text)

	text = edgeNewlinesRegex.ReplaceAllString(text, "")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return text
}

func decodeEntities(text string) string {
	for _, e := range namedEntities {
		text = strings.ReplaceAll(text, e.entity, e.text)
	}
	text = decodeNumericRefs(text, decimalRefRegex, 10)
	text = decodeNumericRefs(text, hexRefRegex, 16)
	return text
}

// decodeNumericRefs replaces numeric character references. References that
// do not name a valid, non-NUL code point are dropped.
func decodeNumericRefs(text string, re *regexp.Regexp, base int) string {
	return re.ReplaceAllStringFunc(text, func(ref string) string {
		digits := re.FindStringSubmatch(ref)[1]
		n, err := strconv.ParseUint(digits, base, 32)
		if err != nil || n == 0 {
			return ""
		}
		r := rune(n)
		if !utf8.ValidRune(r) {
			return ""
		}
		return string(r)
	})
}

// removeActiveContent strips javascript: schemes and event handler names
// until none are left; removing one occurrence can join two fragments into
// a new one ("javaonclickscript:").
func removeActiveContent(text string) string {
	for {
		next := jsSchemeRegex.ReplaceAllString(text, "")
		next = eventHandlerRegex.ReplaceAllString(next, "")
		if next == text {
			return text
		}
		text = next
	}
}
