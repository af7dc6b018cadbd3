// Package phone locates the destination phone number of an inbound email
// and normalizes it to E.164.
package phone

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shineum/email2sms-relay/internal/content"
	"github.com/shineum/email2sms-relay/internal/email"
)

// DefaultCountryCode is prepended to 10-digit numbers.
const DefaultCountryCode = "1"

// bodySearchLimit bounds how much of the body is searched for a number.
const bodySearchLimit = 200

// ErrNoPhoneNumber is returned when no source yields a valid number.
var ErrNoPhoneNumber = errors.New("no valid phone number found in email")

// Source names where a phone number was found.
type Source string

const (
	SourceToAddress   Source = "to-address"
	SourceFromAddress Source = "from-address"
	SourceSubject     Source = "subject"
	SourceHeader      Source = "header"
	SourceBody        Source = "body"
)

// Confidence ranks how reliable a source is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Result is a normalized phone number and where it came from.
type Result struct {
	PhoneNumber string
	Source      Source
	Confidence  Confidence
}

// routingHeaders are checked in this order.
var routingHeaders = []string{"x-sms-to", "x-phone", "x-recipient"}

var (
	addressRegex    = regexp.MustCompile(`^(\+?1?)(\d{10})@`)
	labeledRegex    = regexp.MustCompile(`(?i)(?:to|phone|number|sms):\s*(\+?1?[-.\s]?\d{3}[-.\s]?\d{3}[-.\s]?\d{4})`)
	bareRegex       = regexp.MustCompile(`(\+?1?[-.\s]?\d{3}[-.\s]?\d{3}[-.\s]?\d{4})`)
	separatorRegex  = regexp.MustCompile(`[-.\s]`)
	nonDigitRegex   = regexp.MustCompile(`\D`)
	e164Regex       = regexp.MustCompile(`^\+\d{11,15}$`)
	subjectPatterns = []*regexp.Regexp{labeledRegex, bareRegex}
)

// Extractor finds phone numbers using a configurable default country code.
// The zero value uses DefaultCountryCode.
type Extractor struct {
	CountryCode string
}

func (e Extractor) countryCode() string {
	if e.CountryCode == "" {
		return DefaultCountryCode
	}
	return e.CountryCode
}

// Extract returns the first number found in, by priority, the routing
// headers, the recipient address, the subject and the start of the body.
func (e Extractor) Extract(msg *email.Message) (*Result, error) {
	if msg == nil {
		return nil, ErrNoPhoneNumber
	}

	body := msg.Text
	if body == "" {
		body = content.HTMLToText(msg.HTML)
	}

	if r := e.FromHeaders(msg.Headers); r != nil {
		return r, nil
	}
	if r := e.FromAddress(msg.To); r != nil {
		return r, nil
	}
	if r := e.FromSubject(msg.Subject); r != nil {
		return r, nil
	}
	if r := e.FromBody(body); r != nil {
		return r, nil
	}
	return nil, ErrNoPhoneNumber
}

// FromAddress matches a recipient whose local part is a phone number, such
// as 4155552671@sms.example.com.
func (e Extractor) FromAddress(addr string) *Result {
	m := addressRegex.FindStringSubmatch(strings.TrimSpace(email.BareAddress(addr)))
	if m == nil {
		return nil
	}
	return &Result{
		PhoneNumber: Normalize(m[2], e.countryCode()),
		Source:      SourceToAddress,
		Confidence:  ConfidenceHigh,
	}
}

// FromSubject matches a labeled number ("To: 415-555-2671") and then any
// phone-shaped token.
func (e Extractor) FromSubject(subject string) *Result {
	for _, re := range subjectPatterns {
		m := re.FindStringSubmatch(subject)
		if m == nil {
			continue
		}
		if n := e.normalizeCandidate(m[1]); n != "" {
			return &Result{PhoneNumber: n, Source: SourceSubject, Confidence: ConfidenceHigh}
		}
	}
	return nil
}

// FromHeaders checks the X-SMS-To, X-Phone and X-Recipient headers.
func (e Extractor) FromHeaders(headers email.Headers) *Result {
	for _, name := range routingHeaders {
		value := headers.Get(name)
		if value == "" {
			continue
		}
		if n := e.normalizeCandidate(value); n != "" {
			return &Result{PhoneNumber: n, Source: SourceHeader, Confidence: ConfidenceHigh}
		}
	}
	return nil
}

// FromBody searches the first 200 characters of body.
func (e Extractor) FromBody(body string) *Result {
	m := bareRegex.FindStringSubmatch(firstRunes(body, bodySearchLimit))
	if m == nil {
		return nil
	}
	if n := e.normalizeCandidate(m[1]); n != "" {
		return &Result{PhoneNumber: n, Source: SourceBody, Confidence: ConfidenceLow}
	}
	return nil
}

// normalizeCandidate returns the E.164 form of raw, or "" if it is invalid.
func (e Extractor) normalizeCandidate(raw string) string {
	n := Normalize(separatorRegex.ReplaceAllString(raw, ""), e.countryCode())
	if !IsValid(n) {
		return ""
	}
	return n
}

// Normalize strips everything but digits, prepends countryCode to 10-digit
// numbers and adds the leading "+".
func Normalize(raw, countryCode string) string {
	digits := nonDigitRegex.ReplaceAllString(raw, "")
	if len(digits) == 10 {
		if countryCode == "" {
			countryCode = DefaultCountryCode
		}
		digits = countryCode + digits
	}
	return "+" + digits
}

// IsValid reports whether phone is E.164 with 11 to 15 digits. North
// American numbers must have exactly 10 digits after "+1".
func IsValid(phone string) bool {
	if !e164Regex.MatchString(phone) {
		return false
	}
	if strings.HasPrefix(phone, "+1") {
		return len(phone) == 12
	}
	return true
}

// Format renders a North American number as "+1 (AAA) PPP-NNNN". Other
// numbers are returned unchanged.
func Format(phone string) string {
	if !strings.HasPrefix(phone, "+1") || len(phone) != 12 {
		return phone
	}
	d := phone[2:]
	return "+1 (" + d[:3] + ") " + d[3:6] + "-" + d[6:]
}

// Extract uses the default country code.
func Extract(msg *email.Message) (*Result, error) {
	return Extractor{}.Extract(msg)
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
