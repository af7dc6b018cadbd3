package content

import (
	"regexp"
	"sort"
	"strings"
)

// Pre-compiled regular expressions. Go's RE2 engine matches in linear time,
// so none of these can be driven into catastrophic backtracking.
var (
	// HTML conversion
	scriptBlockRegex  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleBlockRegex   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	lineBreakRegex    = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockCloseRegex   = regexp.MustCompile(`(?i)</(p|div)>`)
	tagRegex          = regexp.MustCompile(`<[^>]+>`)
	anyTagRegex       = regexp.MustCompile(`<[^>]*>`)
	jsSchemeRegex     = regexp.MustCompile(`(?i)javascript:`)
	eventHandlerRegex = regexp.MustCompile(`(?i)` + alternation(eventHandlers))
	edgeNewlinesRegex = regexp.MustCompile(`^\n+|\n+$`)

	// Numeric character references
	decimalRefRegex = regexp.MustCompile(`&#(\d+);`)
	hexRefRegex     = regexp.MustCompile(`(?i)&#x([0-9a-f]+);`)

	// Signatures, checked in this order
	signatureRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^--[ \t]*$`),
		regexp.MustCompile(`_{2,}`),
		regexp.MustCompile(`(?mi)^Best regards,`),
		regexp.MustCompile(`(?mi)^Sincerely,`),
		regexp.MustCompile(`(?mi)^Thanks,`),
		regexp.MustCompile(`(?mi)^Sent from my`),
	}

	// Whitespace
	multiSpaceRegex   = regexp.MustCompile(` {2,}`)
	multiNewlineRegex = regexp.MustCompile(`\n{3,}`)

	// Truncation
	sentenceRegex = regexp.MustCompile(`[^.!?]+[.!?]+`)

	// Sender names
	displayNameRegex = regexp.MustCompile(`^(.+?)\s*<.+>$`)
	localPartRegex   = regexp.MustCompile(`^([^@]+)@`)
	nameQuoteRegex   = regexp.MustCompile(`['"]`)
	nameSepRegex     = regexp.MustCompile(`[._-]`)

	// Sanitizing
	embeddedEmailRegex = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	controlCharRegex   = regexp.MustCompile(`[\x00-\x1F\x7F]`)
)

// eventHandlers lists inline event-handler attribute names removed from
// converted HTML.
var eventHandlers = []string{
	"onclick", "ondblclick", "onmousedown", "onmouseup", "onmouseover", "onmousemove", "onmouseout",
	"onload", "onunload", "onchange", "onsubmit", "onreset", "onselect", "onblur", "onfocus",
	"onkeydown", "onkeypress", "onkeyup", "onerror", "onabort", "onbeforeunload", "onhashchange",
	"onmessage", "ononline", "onoffline", "onpopstate", "onresize", "onstorage", "oncontextmenu",
	"oninput", "oninvalid", "onsearch", "ondrag", "ondragend", "ondragenter", "ondragleave",
	"ondragover", "ondragstart", "ondrop", "onscroll", "oncopy", "oncut", "onpaste",
}

// alternation joins words longest first so that "ondragend" wins over "ondrag".
func alternation(words []string) string {
	sorted := append([]string(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, w := range sorted {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}
