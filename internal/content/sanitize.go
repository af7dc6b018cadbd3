package content

import "strings"

// EmailPlaceholder replaces email addresses found in message text.
const EmailPlaceholder = "[email]"

// SanitizeContent replaces embedded email addresses (a reply to them would
// loop back into the relay), drops ASCII control characters including
// newlines, and trims the result.
func SanitizeContent(text string) string {
	text = embeddedEmailRegex.ReplaceAllString(text, EmailPlaceholder)
	text = controlCharRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// SanitizeLines applies SanitizeContent to every line of text and keeps the
// line structure, so that signature and whitespace handling still see it.
func SanitizeLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = SanitizeContent(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
