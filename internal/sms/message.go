// Package sms defines the outbound SMS model shared by the relay and the
// messaging providers.
package sms

import (
	"fmt"
	"time"
)

// MaxBodyLength is the absolute ceiling for an SMS body in characters
// (ten concatenated segments).
const MaxBodyLength = 1600

// Message is an SMS ready to be handed to a provider.
type Message struct {
	To       string // E.164 destination
	From     string // E.164 service-owned number
	Body     string
	Metadata *Metadata
}

// Metadata links an SMS back to the email it was built from.
type Metadata struct {
	EmailFrom string
	Subject   string
	Timestamp time.Time
}

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	SID          string
	Status       string
	AccountSID   string
	To           string
	From         string
	Body         string
	DateCreated  string
	Price        string
	URI          string
	ErrorCode    int
	ErrorMessage string
}

// ProviderError is returned when the provider answered with a non-2xx
// response. Such failures are never retried.
type ProviderError struct {
	Provider   string
	StatusCode int
	// Code is the provider-specific error code, zero if none was returned.
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s API error (HTTP %d, code %d): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}
