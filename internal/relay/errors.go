package relay

import (
	"errors"

	"github.com/shineum/email2sms-relay/internal/phone"
	"github.com/shineum/email2sms-relay/internal/ratelimit"
	"github.com/shineum/email2sms-relay/internal/sms"
	"github.com/shineum/email2sms-relay/internal/validator"
)

// Kind classifies a relay failure for the caller's reply.
type Kind int

const (
	// KindNone means no error.
	KindNone Kind = iota
	// KindRejected covers validation failures and emails without a phone
	// number. Retrying the same email will fail again.
	KindRejected
	// KindRateLimited means a quota was exhausted; retry after it resets.
	KindRateLimited
	// KindProviderRejected means the messaging service refused the SMS.
	KindProviderRejected
	// KindTemporary is anything else, such as an unreachable service.
	KindTemporary
)

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		verr   *validator.Error
		exceed *ratelimit.ExceededError
		perr   *sms.ProviderError
	)
	switch {
	case errors.As(err, &verr), errors.Is(err, phone.ErrNoPhoneNumber):
		return KindRejected
	case errors.As(err, &exceed):
		return KindRateLimited
	case errors.As(err, &perr):
		return KindProviderRejected
	default:
		return KindTemporary
	}
}
