// Package relay turns one inbound email into one SMS: it validates the
// email, finds the destination number, builds the body, enforces rate
// limits and hands the result to the messaging provider.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/email2sms-relay/internal/content"
	"github.com/shineum/email2sms-relay/internal/deliverylog"
	"github.com/shineum/email2sms-relay/internal/email"
	"github.com/shineum/email2sms-relay/internal/notify"
	"github.com/shineum/email2sms-relay/internal/phone"
	"github.com/shineum/email2sms-relay/internal/provider"
	"github.com/shineum/email2sms-relay/internal/ratelimit"
	"github.com/shineum/email2sms-relay/internal/sms"
	"github.com/shineum/email2sms-relay/internal/validator"
)

// noticePolicy bounds rejection notices per sender address.
var noticePolicy = ratelimit.Policy{Window: time.Hour, MaxRequests: 3}

// Journal records the outcome of every handled email.
type Journal interface {
	Record(ctx context.Context, e *deliverylog.Entry) error
}

// Config holds the relay settings.
type Config struct {
	// FromNumber is the E.164 number SMS are sent from. Providers may
	// substitute their own configured number when it is empty.
	FromNumber string
	// MaxSMSLength bounds the composed body. Zero means content.StandardLimit;
	// values above sms.MaxBodyLength are clamped.
	MaxSMSLength int
	// CountryCode is prepended to 10-digit numbers. Empty means "1".
	CountryCode string
	// NoticeSender is the address rejection notices are sent from. Rejected
	// emails from this address never trigger a notice.
	NoticeSender string
}

// Outcome describes a delivered SMS.
type Outcome struct {
	Phone    *phone.Result
	Body     string
	Segments int
	Receipt  *sms.Receipt
}

// Relay processes inbound emails. It is safe for concurrent use.
type Relay struct {
	cfg       Config
	validator *validator.Validator
	extractor phone.Extractor
	provider  provider.Provider
	limiter   *ratelimit.Limiter
	notifier  notify.Notifier
	journal   Journal
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures optional collaborators.
type Option func(*Relay)

// WithLimiter enables rate limiting.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(r *Relay) { r.limiter = l }
}

// WithNotifier reports rejections back to the sender.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Relay) { r.notifier = n }
}

// WithJournal records every outcome.
func WithJournal(j Journal) Option {
	return func(r *Relay) { r.journal = j }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a Relay.
func New(cfg Config, v *validator.Validator, p provider.Provider, opts ...Option) *Relay {
	switch {
	case cfg.MaxSMSLength <= 0:
		cfg.MaxSMSLength = content.StandardLimit
	case cfg.MaxSMSLength > sms.MaxBodyLength:
		cfg.MaxSMSLength = sms.MaxBodyLength
	}

	r := &Relay{
		cfg:       cfg,
		validator: v,
		extractor: phone.Extractor{CountryCode: cfg.CountryCode},
		provider:  p,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle relays msg. The returned error can be classified with KindOf.
func (r *Relay) Handle(ctx context.Context, msg *email.Message) (*Outcome, error) {
	start := r.now()
	entry := &deliverylog.Entry{Timestamp: start}
	if msg != nil {
		entry.EmailFrom = email.NormalizeAddress(msg.From)
		entry.EmailTo = email.NormalizeAddress(msg.To)
	}

	out, err := r.handle(ctx, msg, entry)

	entry.ProcessingTime = r.now().Sub(start)
	switch KindOf(err) {
	case KindNone:
		entry.Status = deliverylog.StatusSuccess
	case KindRejected, KindRateLimited:
		entry.Status = deliverylog.StatusRejected
		r.reject(ctx, msg, err)
	default:
		entry.Status = deliverylog.StatusFailed
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.record(ctx, entry)

	return out, err
}

func (r *Relay) handle(ctx context.Context, msg *email.Message, entry *deliverylog.Entry) (*Outcome, error) {
	if err := r.validator.ValidateEmail(msg); err != nil {
		return nil, err
	}
	if err := r.validator.ValidateSender(msg.From); err != nil {
		return nil, err
	}

	dest, err := r.extractor.Extract(msg)
	if err != nil {
		return nil, err
	}
	entry.SMSTo = dest.PhoneNumber
	if err := r.validator.ValidatePhoneNumber(dest.PhoneNumber); err != nil {
		return nil, err
	}

	text := msg.Text
	if text == "" {
		text = content.HTMLToText(msg.HTML)
	}
	text = content.CleanText(content.SanitizeLines(text))
	if err := r.validator.ValidateContent(text); err != nil {
		return nil, err
	}

	body := content.Compose(msg.From, msg.Subject, text, r.cfg.MaxSMSLength)
	segments := content.CalculateSMSSegments(body)
	entry.MessageLength = len([]rune(body))
	entry.Segments = segments

	if r.limiter != nil {
		if err := r.limiter.CheckAll(ctx, msg.From, dest.PhoneNumber); err != nil {
			return nil, err
		}
	}

	receipt, err := r.provider.Send(ctx, &sms.Message{
		To:   dest.PhoneNumber,
		From: r.cfg.FromNumber,
		Body: body,
		Metadata: &sms.Metadata{
			EmailFrom: msg.From,
			Subject:   msg.Subject,
			Timestamp: r.now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.provider.Name(), err)
	}
	entry.SMSFrom = receipt.From
	entry.ProviderSID = receipt.SID

	r.logger.Info("SMS sent",
		"email_from", entry.EmailFrom,
		"sms_to", dest.PhoneNumber,
		"phone_source", string(dest.Source),
		"provider", r.provider.Name(),
		"sid", receipt.SID,
		"length", entry.MessageLength,
		"segments", segments,
	)

	return &Outcome{
		Phone:    dest,
		Body:     body,
		Segments: segments,
		Receipt:  receipt,
	}, nil
}

// reject logs a refused email and reports it to the sender when a notifier
// is configured. Unauthorized and rate-limited senders get no notice: the
// From header is unverified and the SMTP reply already tells the client.
// Other notices are limited per address when a limiter is configured.
func (r *Relay) reject(ctx context.Context, msg *email.Message, err error) {
	code := string(validator.CodeOf(err))
	var exceeded *ratelimit.ExceededError
	switch {
	case errors.Is(err, phone.ErrNoPhoneNumber):
		code = "NO_PHONE_NUMBER"
	case errors.As(err, &exceeded):
		code = "RATE_LIMITED"
	}

	from := ""
	if msg != nil {
		from = email.NormalizeAddress(msg.From)
	}
	r.logger.Warn("email rejected",
		"email_from", from,
		"code", code,
		"error", err,
	)

	if r.notifier == nil || from == "" || !email.ValidAddress(from) {
		return
	}
	if code == string(validator.CodeUnauthorizedSender) || code == "RATE_LIMITED" {
		return
	}
	if r.cfg.NoticeSender != "" && from == email.NormalizeAddress(r.cfg.NoticeSender) {
		return
	}
	if r.limiter != nil {
		if res := r.limiter.Check(ctx, NoticeKey(from), noticePolicy); !res.Allowed {
			r.logger.Info("rejection notice suppressed", "email_from", from, "code", code)
			return
		}
	}

	rej := &notify.Rejection{
		Recipient: from,
		Subject:   msg.Subject,
		Code:      code,
		Reason:    reason(err),
		MessageID: msg.MessageID,
		At:        r.now(),
	}
	if nerr := r.notifier.Notify(ctx, rej); nerr != nil {
		r.logger.Error("failed to send rejection notice",
			"notifier", r.notifier.Name(),
			"email_from", from,
			"error", nerr,
		)
	}
}

// NoticeKey is the limiter key counting rejection notices to addr.
func NoticeKey(addr string) string {
	return "notice:" + email.NormalizeAddress(addr)
}

func reason(err error) string {
	var verr *validator.Error
	if errors.As(err, &verr) {
		return verr.Message
	}
	return err.Error()
}

func (r *Relay) record(ctx context.Context, e *deliverylog.Entry) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(ctx, e); err != nil {
		r.logger.Error("failed to record delivery",
			"email_from", e.EmailFrom,
			"status", string(e.Status),
			"error", err,
		)
	}
}
