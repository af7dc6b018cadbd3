// Package twilio implements a Provider that sends SMS via the Twilio
// Programmable Messaging REST API.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/shineum/email2sms-relay/internal/sms"
)

// DefaultBaseURL is the Twilio REST API root.
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// maxAttempts is the number of tries for a request that fails in transport.
const maxAttempts = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// requestTimeout bounds a single HTTP attempt.
const requestTimeout = 10 * time.Second

// defaultRetryAfter is assumed when a 429 carries no usable Retry-After.
const defaultRetryAfter = 60 * time.Second

var (
	ErrMissingCredentials = errors.New("missing required Twilio credentials")
	ErrInvalidAccountSID  = errors.New("invalid Twilio account SID format")
	ErrInvalidFromNumber  = errors.New("Twilio phone number must be in E.164 format (+1XXXXXXXXXX)")
)

// Config holds the configuration for creating a Provider.
type Config struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string // default sender, E.164
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
	// RequestsPerSecond paces outgoing requests. Zero or less disables
	// pacing.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *slog.Logger
	// RetryDelay overrides the first backoff delay.
	RetryDelay time.Duration
}

// Validate checks that credentials are present and well-formed.
func (c Config) Validate() error {
	if c.AccountSID == "" || c.AuthToken == "" || c.PhoneNumber == "" {
		return ErrMissingCredentials
	}
	if !strings.HasPrefix(c.AccountSID, "AC") {
		return ErrInvalidAccountSID
	}
	if !strings.HasPrefix(c.PhoneNumber, "+") {
		return ErrInvalidFromNumber
	}
	return nil
}

// Provider sends SMS through Twilio.
type Provider struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	retryDelay time.Duration
}

// New creates a Provider after validating cfg.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.PhoneNumber,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     cfg.Logger,
		retryDelay: cfg.RetryDelay,
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{}
	}
	if cfg.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.retryDelay <= 0 {
		p.retryDelay = baseRetryDelay
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "twilio"
}

// Send posts msg to the Messages resource. Transport failures are retried
// up to three attempts with exponential backoff; any HTTP answer other
// than 2xx is returned at once as *sms.ProviderError.
func (p *Provider) Send(ctx context.Context, msg *sms.Message) (*sms.Receipt, error) {
	from := msg.From
	if from == "" {
		from = p.from
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for Twilio send slot: %w", err)
	}

	endpoint := p.baseURL + "/Accounts/" + url.PathEscape(p.accountSID) + "/Messages.json"
	form := url.Values{
		"To":   {msg.To},
		"From": {from},
		"Body": {msg.Body},
	}

	p.logger.Info("sending SMS via Twilio",
		"sms_to", msg.To,
		"sms_from", from,
		"body_length", utf8.RuneCountInString(msg.Body),
	)

	resp, err := p.postWithRetry(ctx, endpoint, form)
	if err != nil {
		p.logger.Error("failed to send SMS", "sms_to", msg.To, "error", err)
		return nil, err
	}

	if resp.statusCode < 200 || resp.statusCode > 299 {
		perr := parseError(resp)
		if resp.statusCode == http.StatusTooManyRequests {
			p.logger.Warn("Twilio rate limit reached",
				"status", resp.statusCode,
				"retry_after", retryAfter(resp.header.Get("Retry-After")),
				"message", perr.Message,
			)
		}
		p.logger.Error("Twilio API request failed",
			"status", perr.StatusCode,
			"twilio_code", perr.Code,
			"message", perr.Message,
		)
		return nil, perr
	}

	var out messageResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode Twilio response: %w", err)
	}

	p.logger.Info("SMS sent successfully", "sid", out.SID, "status", out.Status, "sms_to", out.To)
	return out.receipt(), nil
}

// response is a fully read HTTP answer.
type response struct {
	statusCode int
	header     http.Header
	body       []byte
}

func (p *Provider) postWithRetry(ctx context.Context, endpoint string, form url.Values) (*response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := p.post(ctx, endpoint, form)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		p.logger.Warn("Twilio request attempt failed",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)

		if attempt < maxAttempts {
			if err := sleepWithContext(ctx, p.backoffDelay(attempt)); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}
	}
	return nil, fmt.Errorf("Twilio request failed after %d attempts: %w", maxAttempts, lastErr)
}

// post performs a single attempt bounded by requestTimeout.
func (p *Provider) post(ctx context.Context, endpoint string, form url.Values) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &response{statusCode: resp.StatusCode, header: resp.Header, body: body}, nil
}

// parseError builds a ProviderError from a non-2xx answer, falling back to
// the raw body when it is not a Twilio JSON error.
func parseError(resp *response) *sms.ProviderError {
	perr := &sms.ProviderError{Provider: "Twilio", StatusCode: resp.statusCode}

	var body errorResponse
	if err := json.Unmarshal(resp.body, &body); err == nil && body.Message != "" {
		perr.Code = body.Code
		perr.Message = body.Message
		return perr
	}

	perr.Message = strings.TrimSpace(string(resp.body))
	if perr.Message == "" {
		perr.Message = "HTTP " + strconv.Itoa(resp.statusCode)
	}
	return perr
}

// retryAfter parses a Retry-After value in seconds.
func retryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

// backoffDelay returns the delay after the given failed attempt.
// Delays are: 1s, 2s
func (p *Provider) backoffDelay(attempt int) time.Duration {
	delay := p.retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
