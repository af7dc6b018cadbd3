// Package validator rejects unauthorized senders and malformed emails,
// message bodies and phone numbers before any SMS is sent.
package validator

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/shineum/email2sms-relay/internal/email"
)

const (
	MinContentLength = 3
	MaxContentLength = 1600
)

var e164Regex = regexp.MustCompile(`^\+\d{11,15}$`)

var (
	strictAreaCodes     = []string{"000", "555", "911"}
	permissiveAreaCodes = []string{"000", "911"}
)

var spamKeywords = []string{
	"viagra",
	"cialis",
	"lottery",
	"winner",
	"congratulations",
	"click here",
	"buy now",
	"limited time",
	"act now",
}

// Options configures a Validator.
type Options struct {
	// AllowedSenders holds exact addresses and "*@domain" wildcards. Empty
	// means every sender is allowed.
	AllowedSenders []string
	// PermissiveAreaCodes allows the 555 area code used by fictional test
	// numbers. Leave it off in production.
	PermissiveAreaCodes bool
	Logger              *slog.Logger
}

// Validator checks inbound emails. It is safe for concurrent use.
type Validator struct {
	allowed      []string
	blockedAreas []string
	logger       *slog.Logger
}

// New builds a Validator. Allowlist entries are trimmed and lowercased.
func New(opts Options) *Validator {
	v := &Validator{
		blockedAreas: strictAreaCodes,
		logger:       opts.Logger,
	}
	if opts.PermissiveAreaCodes {
		v.blockedAreas = permissiveAreaCodes
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	for _, s := range opts.AllowedSenders {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			v.allowed = append(v.allowed, s)
		}
	}
	return v
}

// ParseAllowlist splits a comma-separated allowlist.
func ParseAllowlist(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidateSender accepts from if it is on the allowlist, either exactly or
// through a "*@domain" entry.
func (v *Validator) ValidateSender(from string) error {
	if len(v.allowed) == 0 {
		v.logger.Warn("no sender allowlist configured, allowing all senders")
		return nil
	}

	addr := email.NormalizeAddress(from)
	if slices.Contains(v.allowed, addr) {
		return nil
	}
	if domain := email.Domain(addr); domain != "" && slices.Contains(v.allowed, "*@"+domain) {
		return nil
	}
	return newError(CodeUnauthorizedSender, "sender not authorized: "+addr)
}

// ValidateEmail checks that msg has well-formed addresses and a body.
func (v *Validator) ValidateEmail(msg *email.Message) error {
	switch {
	case msg == nil || strings.TrimSpace(msg.From) == "":
		return newError(CodeMissingFrom, "missing sender address")
	case strings.TrimSpace(msg.To) == "":
		return newError(CodeMissingTo, "missing recipient address")
	case !email.ValidAddress(msg.From):
		return newError(CodeInvalidFrom, "invalid sender email format")
	case !email.ValidAddress(msg.To):
		return newError(CodeInvalidTo, "invalid recipient email format")
	case msg.Text == "" && msg.HTML == "":
		return newError(CodeEmptyContent, "email has no content")
	}
	return nil
}

// ValidateContent checks the length of an SMS body. Spam keywords are
// logged but never rejected.
func (v *Validator) ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	n := utf8.RuneCountInString(trimmed)

	switch {
	case n == 0:
		return newError(CodeEmptyMessage, "message content is empty")
	case n < MinContentLength:
		return newError(CodeMessageTooShort, "message too short")
	case n > MaxContentLength:
		return newError(CodeMessageTooLong, fmt.Sprintf("message too long (%d characters, max %d)", n, MaxContentLength))
	}

	if kw := spamKeyword(trimmed); kw != "" {
		v.logger.Warn("message contains spam indicators", "keyword", kw, "content", truncate(trimmed, 100))
	}
	return nil
}

// ValidatePhoneNumber checks that phone is E.164 and, for North American
// numbers, has 10 digits and an allowed area code.
func (v *Validator) ValidatePhoneNumber(phone string) error {
	if !e164Regex.MatchString(phone) {
		return newError(CodeInvalidPhoneFormat, "phone number must be in E.164 format (+1XXXXXXXXXX)")
	}
	if !strings.HasPrefix(phone, "+1") {
		return nil
	}
	if len(phone) != 12 {
		return newError(CodeInvalidUSPhone, "US phone numbers must be 10 digits (+1XXXXXXXXXX)")
	}
	if area := phone[2:5]; slices.Contains(v.blockedAreas, area) {
		return newError(CodeInvalidAreaCode, "invalid area code: "+area)
	}
	return nil
}

func spamKeyword(content string) string {
	lower := strings.ToLower(content)
	for _, kw := range spamKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
