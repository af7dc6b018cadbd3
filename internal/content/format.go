package content

import (
	"strings"
	"unicode/utf8"

	"github.com/shineum/email2sms-relay/internal/email"
)

const ellipsis = "..."

// RemoveSignature cuts text at the first signature marker. Markers are
// tried in a fixed order (a "--" line, a run of underscores, common
// sign-offs) and the first one found wins. Text without a marker is
// returned unchanged.
func RemoveSignature(text string) string {
	for _, re := range signatureRegexes {
		if loc := re.FindStringIndex(text); loc != nil {
			return strings.TrimSpace(text[:loc[0]])
		}
	}
	return text
}

// NormalizeWhitespace collapses repeated spaces, trims every line and caps
// blank lines so that at most two newlines appear in a row.
func NormalizeWhitespace(text string) string {
	text = multiSpaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	text = multiNewlineRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// SmartTruncate shortens text to at most maxLength characters, preferring
// to cut after a whole sentence, then after a whole word, and only then in
// the middle of a word. Every cut reserves three characters for "...".
// Text that already fits is returned unchanged.
func SmartTruncate(text string, maxLength int) string {
	if runeLen(text) <= maxLength {
		return text
	}
	if maxLength < len(ellipsis) {
		return truncateRunes(text, maxLength)
	}
	budget := maxLength - len(ellipsis)

	sentences := sentenceRegex.FindAllString(text, -1)
	if sentences == nil {
		sentences = []string{text}
	}
	var b strings.Builder
	for _, sentence := range sentences {
		if runeLen(b.String())+runeLen(sentence) > budget {
			break
		}
		b.WriteString(sentence)
	}
	if kept := strings.TrimSpace(b.String()); kept != "" {
		return kept + ellipsis
	}

	b.Reset()
	for _, word := range strings.Split(text, " ") {
		if runeLen(b.String())+runeLen(word) > budget {
			break
		}
		b.WriteString(word)
		b.WriteByte(' ')
	}
	if kept := strings.TrimSpace(b.String()); kept != "" {
		return kept + ellipsis
	}

	return truncateRunes(text, budget) + ellipsis
}

// ExtractSenderName returns a human-friendly name for a From value: the
// display name if there is one, otherwise the local part with separators
// turned into spaces.
func ExtractSenderName(from string) string {
	if m := displayNameRegex.FindStringSubmatch(from); m != nil {
		return strings.TrimSpace(nameQuoteRegex.ReplaceAllString(m[1], ""))
	}
	if m := localPartRegex.FindStringSubmatch(email.BareAddress(from)); m != nil {
		return strings.TrimSpace(nameSepRegex.ReplaceAllString(m[1], " "))
	}
	return from
}

// ProcessEmailContent builds the SMS body for msg: a "From:"/"Re:" header
// followed by the cleaned message text, never longer than maxLength.
func ProcessEmailContent(msg *email.Message, maxLength int) string {
	if msg == nil {
		return ""
	}

	text := msg.Text
	if text == "" {
		text = HTMLToText(msg.HTML)
	}
	return Compose(msg.From, msg.Subject, CleanText(text), maxLength)
}

// CleanText drops the signature and normalizes whitespace.
func CleanText(text string) string {
	return NormalizeWhitespace(RemoveSignature(text))
}

// Compose prefixes already cleaned text with the sender name and subject
// and bounds the result to maxLength.
func Compose(from, subject, text string, maxLength int) string {
	prefix := "From: " + ExtractSenderName(from) + "\n"
	if subject != "" {
		prefix += "Re: " + subject + "\n"
	}

	available := maxLength - runeLen(prefix) - len(ellipsis)
	if runeLen(text) > available {
		text = SmartTruncate(text, available)
	}

	body := prefix + text
	if runeLen(body) > maxLength {
		if maxLength < len(ellipsis) {
			body = truncateRunes(body, maxLength)
		} else {
			body = truncateRunes(body, maxLength-len(ellipsis)) + ellipsis
		}
	}
	return strings.TrimSpace(body)
}

// Process is ProcessEmailContent with a single-segment GSM-7 limit.
func Process(msg *email.Message) string {
	return ProcessEmailContent(msg, StandardLimit)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func truncateRunes(s string, n int) string {
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
