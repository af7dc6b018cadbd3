// Package provider defines the interface for SMS delivery backends.
package provider

import (
	"context"

	"github.com/shineum/email2sms-relay/internal/sms"
)

// Provider is the interface that SMS delivery backends must implement.
// Each provider hands a composed SMS to the target service (e.g. Twilio,
// or stdout for local development).
type Provider interface {
	// Send delivers an SMS through this provider. A non-2xx answer from the
	// service is reported as *sms.ProviderError; any other error means the
	// service could not be reached.
	Send(ctx context.Context, msg *sms.Message) (*sms.Receipt, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
