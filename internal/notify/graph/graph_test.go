package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shineum/email2sms-relay/internal/notify"
)

var rejection = &notify.Rejection{
	Recipient: "eve@evil.com",
	Subject:   "Ping",
	Code:      "UNAUTHORIZED_SENDER",
	Reason:    "sender not authorized: eve@evil.com",
}

// newTokenServer serves OAuth2 client-credentials tokens named token-1,
// token-2 and so on.
func newTokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type: got %q, want %q", got, "client_credentials")
		}
		if got := r.PostForm.Get("client_id"); got != "client-id" {
			t.Errorf("client_id: got %q, want %q", got, "client-id")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestNotifier(graphURL, tokenURL string, client *http.Client) *Notifier {
	n := newWithOverrides(Config{
		TenantID:     "tenant",
		ClientID:     "client-id",
		ClientSecret: "secret",
		Sender:       "relay@example.com",
	}, graphURL, tokenURL, client)
	n.retryDelay = time.Millisecond
	return n
}

func TestBuildSendMailRequest(t *testing.T) {
	t.Parallel()

	req := buildSendMailRequest(rejection)

	if req.Message.Subject != "SMS not sent: Ping" {
		t.Errorf("Subject: got %q, want %q", req.Message.Subject, "SMS not sent: Ping")
	}
	if req.Message.Body.ContentType != "text" {
		t.Errorf("Body.ContentType: got %q, want %q", req.Message.Body.ContentType, "text")
	}
	if !strings.Contains(req.Message.Body.Content, "Reason: sender not authorized") {
		t.Errorf("Body.Content: got %q, want it to contain the reason", req.Message.Body.Content)
	}
	if len(req.Message.ToRecipients) != 1 || req.Message.ToRecipients[0].EmailAddress.Address != "eve@evil.com" {
		t.Errorf("ToRecipients: got %+v, want [eve@evil.com]", req.Message.ToRecipients)
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"saveToSentItems":false`) {
		t.Errorf("JSON: got %s, want saveToSentItems false", data)
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	n := New(Config{TenantID: "t", Sender: "relay@example.com"})
	if got := n.Name(); got != "msgraph" {
		t.Errorf("Name(): got %q, want %q", got, "msgraph")
	}
	if want := "https://graph.microsoft.com/v1.0/users/relay@example.com/sendMail"; n.graphURL != want {
		t.Errorf("graphURL: got %q, want %q", n.graphURL, want)
	}
}

func TestNotify_Success(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization header: got %q, want %q", got, "Bearer token-1")
		}
		var body sendMailRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Message.Subject != "SMS not sent: Ping" {
			t.Errorf("Subject: got %q", body.Message.Subject)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	n := newTestNotifier(graphServer.URL, tokenServer.URL, graphServer.Client())

	if err := n.Notify(context.Background(), rejection); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := n.Notify(context.Background(), rejection); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Errorf("token call count: got %d, want 1 (cached)", got)
	}
}

func TestNotify_PermanentError(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	var graphCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCalls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"ErrorAccessDenied","message":"Access is denied"}}`))
	}))
	defer graphServer.Close()

	n := newTestNotifier(graphServer.URL, tokenServer.URL, graphServer.Client())

	err := n.Notify(context.Background(), rejection)
	if err == nil {
		t.Fatal("expected error for 403")
	}
	if !strings.Contains(err.Error(), "Access is denied") {
		t.Errorf("error: got %q, want it to contain the Graph message", err.Error())
	}
	if graphCalls.Load() != 1 {
		t.Errorf("graph call count: got %d, want 1 (no retry)", graphCalls.Load())
	}
}

func TestNotify_RetryOn5xx(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	var graphCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if graphCalls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	n := newTestNotifier(graphServer.URL, tokenServer.URL, graphServer.Client())

	if err := n.Notify(context.Background(), rejection); err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if graphCalls.Load() != 3 {
		t.Errorf("graph call count: got %d, want 3", graphCalls.Load())
	}
}

func TestNotify_AllRetriesExhausted(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	var graphCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer graphServer.Close()

	n := newTestNotifier(graphServer.URL, tokenServer.URL, graphServer.Client())

	err := n.Notify(context.Background(), rejection)
	if err == nil || !strings.Contains(err.Error(), "after 3 retries") {
		t.Fatalf("error: got %v, want it to contain 'after 3 retries'", err)
	}
	if graphCalls.Load() != 4 {
		t.Errorf("graph call count: got %d, want 4", graphCalls.Load())
	}
}

func TestNotify_RetryOn401WithTokenRefresh(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	n := newTestNotifier(graphServer.URL, tokenServer.URL, graphServer.Client())

	if err := n.Notify(context.Background(), rejection); err != nil {
		t.Fatalf("expected success after token refresh, got: %v", err)
	}
	if tokenCalls.Load() != 2 {
		t.Errorf("token call count: got %d, want 2", tokenCalls.Load())
	}
}

func TestNotify_RateLimitWithRetryAfter(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	var graphCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if graphCalls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	n := newTestNotifier(graphServer.URL, tokenServer.URL, graphServer.Client())

	start := time.Now()
	if err := n.Notify(context.Background(), rejection); err != nil {
		t.Fatalf("expected success after rate limit, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("elapsed: got %v, want at least ~1s for Retry-After", elapsed)
	}
}

func TestNotify_ContextCancellation(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer graphServer.Close()

	n := newTestNotifier(graphServer.URL, tokenServer.URL, graphServer.Client())
	n.retryDelay = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := n.Notify(ctx, rejection)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error: got %v, want context.DeadlineExceeded", err)
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		permanent bool
		transient bool
	}{
		{http.StatusBadRequest, true, false},
		{http.StatusUnauthorized, false, true},
		{http.StatusForbidden, true, false},
		{http.StatusNotFound, true, false},
		{http.StatusTooManyRequests, false, true},
		{http.StatusInternalServerError, false, true},
		{http.StatusServiceUnavailable, false, true},
	}

	for _, tt := range tests {
		err := classifyError(tt.status, "msg", "")
		if err.permanent != tt.permanent || err.transient != tt.transient {
			t.Errorf("classifyError(%d): got permanent=%v transient=%v, want %v/%v",
				tt.status, err.permanent, err.transient, tt.permanent, tt.transient)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	n := New(Config{})
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := n.backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d): got %v, want %v", tt.attempt, got, tt.want)
		}
	}

	if got := n.retryAfterDelay("7", 0); got != 7*time.Second {
		t.Errorf("retryAfterDelay(7): got %v, want 7s", got)
	}
	if got := n.retryAfterDelay("soon", 1); got != 2*time.Second {
		t.Errorf("retryAfterDelay(soon): got %v, want 2s", got)
	}
}

func TestSendError_Error(t *testing.T) {
	t.Parallel()

	err := &sendError{message: "Access denied", statusCode: 403}
	if got, want := err.Error(), "Graph API error (HTTP 403): Access denied"; got != want {
		t.Errorf("Error(): got %q, want %q", got, want)
	}
}

func TestNotifierInterface(t *testing.T) {
	t.Parallel()

	var _ notify.Notifier = (*Notifier)(nil)
}
