// Package graph implements a Notifier that sends rejection notices via the
// Microsoft Graph API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/email2sms-relay/internal/notify"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

const defaultScope = "https://graph.microsoft.com/.default"

// Config holds the configuration for creating a Notifier.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Notifier sends notices via the Graph sendMail endpoint using OAuth2
// client credentials.
type Notifier struct {
	graphURL   string
	httpClient *http.Client
	oauth      *clientcredentials.Config
	retryDelay time.Duration

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// New creates a Notifier for the given tenant and mailbox.
func New(cfg Config) *Notifier {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a Notifier with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Notifier {
	n := &Notifier{
		graphURL:   graphURL,
		httpClient: client,
		retryDelay: baseRetryDelay,
		oauth: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{defaultScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
	n.tokens = n.newTokenSource()
	return n
}

// newTokenSource returns a caching token source that fetches tokens with
// the notifier's HTTP client.
func (n *Notifier) newTokenSource() oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, n.httpClient)
	return n.oauth.TokenSource(ctx)
}

func (n *Notifier) token() (*oauth2.Token, error) {
	n.mu.Lock()
	ts := n.tokens
	n.mu.Unlock()
	return ts.Token()
}

// refreshToken drops the cached token so the next request fetches a new one.
func (n *Notifier) refreshToken() error {
	n.mu.Lock()
	n.tokens = n.newTokenSource()
	n.mu.Unlock()
	_, err := n.token()
	return err
}

// Notify sends the notice with retry on transient failures, Retry-After on
// HTTP 429 and one token refresh on HTTP 401.
func (n *Notifier) Notify(ctx context.Context, r *notify.Rejection) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(r))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := n.doSendRequest(ctx, bodyJSON)
		if err == nil {
			return nil
		}

		lastErr = err

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return err
		}

		switch {
		case graphErr.permanent:
			return graphErr
		case graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			if refreshErr := n.refreshToken(); refreshErr != nil {
				return fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
			continue
		case graphErr.statusCode == http.StatusTooManyRequests:
			delay := n.retryAfterDelay(graphErr.retryAfter, attempt)
			slog.Info("rate limited by Graph API",
				"retry_after", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case graphErr.transient:
			delay := n.backoffDelay(attempt)
			slog.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return graphErr
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the notifier name.
func (n *Notifier) Name() string {
	return "msgraph"
}

// doSendRequest performs a single POST to the sendMail endpoint.
func (n *Notifier) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	tok, err := n.token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var errResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error.Message != "" {
		return classifyError(resp.StatusCode, errResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
}

// sendError is a Graph API failure classified for retry decisions.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay parses a Retry-After value in seconds, falling back to
// exponential backoff.
func (n *Notifier) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return n.backoffDelay(attempt)
}

// backoffDelay returns the exponential backoff delay for the given attempt.
// Delays are: 1s, 2s, 4s
func (n *Notifier) backoffDelay(attempt int) time.Duration {
	delay := n.retryDelay
	for i := 0; i < attempt; i++ {
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
