// Package email defines the inbound email model consumed by the relay.
package email

import "strings"

// Message is a parsed inbound email. It is treated as immutable once the
// parser returns it; the relay reads it without mutating.
type Message struct {
	// From is the sender, optionally with a display name ("Jane <jane@x.com>").
	From string
	// To is the single envelope recipient this message is being relayed for.
	To          string
	Subject     string
	Text        string
	HTML        string
	Headers     Headers
	Attachments []Attachment
	MessageID   string
}

// Attachment holds metadata about a file attached to an email. The content
// itself is never forwarded over SMS, so only its size is kept.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
}

// Headers maps lowercased header names to their first value.
type Headers map[string]string

// NewHeaders builds a Headers map from a multi-valued header set, keeping
// the first value of every header.
func NewHeaders(raw map[string][]string) Headers {
	h := make(Headers, len(raw))
	for name, values := range raw {
		if len(values) == 0 {
			continue
		}
		key := strings.ToLower(name)
		if _, exists := h[key]; !exists {
			h[key] = values[0]
		}
	}
	return h
}

// Get returns the value for name using a case-insensitive lookup.
func (h Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(name)]
}

// WithRecipient returns a shallow copy of m addressed to rcpt.
func (m *Message) WithRecipient(rcpt string) *Message {
	cp := *m
	cp.To = rcpt
	return &cp
}
