package content_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shineum/email2sms-relay/internal/content"
)

func TestHTMLToText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "paragraphs become blank-line separated",
			input:    "<p>Hello</p><p>World</p>",
			expected: "Hello\n\nWorld",
		},
		{
			name:     "line breaks in every spelling",
			input:    "Line1<br>Line2<br/>Line3<BR />",
			expected: "Line1\nLine2\nLine3",
		},
		{
			name:     "script block removed with content",
			input:    "<script>alert('x')</script>Hi",
			expected: "Hi",
		},
		{
			name:     "multi-line uppercase script block removed",
			input:    "<SCRIPT type='text/javascript'>\nvar a = 1;\n</SCRIPT>Hi",
			expected: "Hi",
		},
		{
			name:     "style block removed",
			input:    "<style>p{color:red}</style>Text",
			expected: "Text",
		},
		{
			name:     "named entities decoded",
			input:    "Tom &amp; Jerry &quot;quoted&quot; &lt;3",
			expected: `Tom & Jerry "quoted" <3`,
		},
		{
			name:     "typographic entities decoded",
			input:    "&ldquo;Wait&hellip;&rdquo; &mdash; she said",
			expected: `"Wait..." — she said`,
		},
		{
			name:     "numeric references decoded",
			input:    "&#72;&#x69;",
			expected: "Hi",
		},
		{
			name:     "encoded tags are stripped after decoding",
			input:    "&lt;script&gt;alert(1)&lt;/script&gt;",
			expected: "alert(1)",
		},
		{
			name:     "double-encoded tags stay literal text",
			input:    "&amp;lt;b&amp;gt;bold",
			expected: "&lt;b&gt;bold",
		},
		{
			name:     "numeric-encoded image tag is stripped",
			input:    "&#60;img src=x onerror=alert(1)&#62;",
			expected: "",
		},
		{
			name:     "image with event handler",
			input:    `<img src=x onerror="alert(1)">Caption`,
			expected: "Caption",
		},
		{
			name:     "javascript scheme removed from text",
			input:    "Visit javascript:alert(1) now",
			expected: "Visit alert(1) now",
		},
		{
			name:     "event handler names removed case-insensitively",
			input:    "Click ONCLICK here",
			expected: "Click  here",
		},
		{
			name:     "removal that forms a new scheme is repeated",
			input:    "javaonclickscript:void",
			expected: "void",
		},
		{
			name:     "invalid numeric references dropped",
			input:    "&#0;A&#99999999999;&#xD800;",
			expected: "A",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace-only input",
			input:    "   \n  ",
			expected: "",
		},
		{
			name:     "only non-breaking spaces",
			input:    "<p>&nbsp;&nbsp;</p>",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, content.HTMLToText(tt.input))
		})
	}
}

func TestHTMLToText_NoSurvivingTags(t *testing.T) {
	t.Parallel()

	surviving := regexp.MustCompile(`<[A-Za-z/!?][^>]*>`)
	payloads := []string{
		"<script>alert('xss')</script>",
		"<img src=x onerror=alert(1)>",
		"<svg onload=alert(1)>",
		"<scr<script>ipt>alert(1)</script>",
		"&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;",
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"&#x3C;script&#x3E;alert(1)&#x3C;/script&#x3E;",
		"&amp;#60;script&amp;#62;alert(1)",
		"<a href=\"javascript:alert(1)\">link</a>",
		"<?xml version=\"1.0\"?><!DOCTYPE foo [<!ENTITY xxe SYSTEM \"file:///etc/passwd\">]><foo>&xxe;</foo>",
		"<<b>i</b>mg src=x onerror=alert(1)>",
	}

	for _, p := range payloads {
		got := content.HTMLToText(p)
		assert.False(t, surviving.MatchString(got), "payload %q left a tag: %q", p, got)
		assert.NotRegexp(t, `(?i)javascript:`, got)
		assert.NotRegexp(t, `(?i)onerror|onload`, got)
	}
}
