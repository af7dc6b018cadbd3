// Package ratelimit enforces fixed-window request quotas per sender, per
// recipient and globally. Counters live in a kv.Store so that several relay
// instances can share them.
//
// The limiter fails open: if no store is configured, or a store call
// fails, the request is allowed and the problem is logged. Each check is
// one read followed, on admission, by one write; concurrent callers on the
// same key can race, so enforcement is best-effort.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shineum/email2sms-relay/internal/email"
	"github.com/shineum/email2sms-relay/internal/kv"
)

const keyPrefix = "ratelimit:"

// GlobalKey is the single counter shared by all traffic.
const GlobalKey = "global"

// Scope identifies a counter namespace.
type Scope string

const (
	ScopeSender    Scope = "sender"
	ScopeRecipient Scope = "recipient"
	ScopeGlobal    Scope = "global"
)

// Policy is the quota for one scope.
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// ttl is the window rounded up to whole seconds.
func (p Policy) ttl() time.Duration {
	return time.Duration(math.Ceil(p.Window.Seconds())) * time.Second
}

// Policies holds the quota of every scope.
type Policies struct {
	Sender    Policy
	Recipient Policy
	Global    Policy
}

// DefaultPolicies returns 10 per sender per hour, 20 per recipient per hour
// and 1000 per day overall.
func DefaultPolicies() Policies {
	return Policies{
		Sender:    Policy{Window: time.Hour, MaxRequests: 10},
		Recipient: Policy{Window: time.Hour, MaxRequests: 20},
		Global:    Policy{Window: 24 * time.Hour, MaxRequests: 1000},
	}
}

func (p Policies) forScope(s Scope) Policy {
	switch s {
	case ScopeRecipient:
		return p.Recipient
	case ScopeGlobal:
		return p.Global
	default:
		return p.Sender
	}
}

// Result is the outcome of a check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// Reason is set when the request was denied.
	Reason string
}

// ExceededError is returned by CheckAll when a quota is used up.
type ExceededError struct {
	Scope   Scope
	Key     string
	ResetAt time.Time
	Reason  string
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded for %q: %s", e.Scope, e.Key, e.Reason)
}

// record is the stored counter state.
type record struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"` // unix milliseconds
}

// Limiter checks and updates counters.
type Limiter struct {
	store    kv.Store
	policies Policies
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithPolicies overrides DefaultPolicies.
func WithPolicies(p Policies) Option {
	return func(l *Limiter) {
		l.policies = p
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter. A nil store disables enforcement.
func New(store kv.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		policies: DefaultPolicies(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policies returns the quotas in effect.
func (l *Limiter) Policies() Policies {
	return l.policies
}

// SenderKey derives the counter key for an email sender.
func SenderKey(from string) string {
	return string(ScopeSender) + ":" + email.NormalizeAddress(from)
}

// RecipientKey derives the counter key for a phone number.
func RecipientKey(phone string) string {
	return string(ScopeRecipient) + ":" + normalizePhone(phone)
}

// normalizePhone keeps digits and a leading "+".
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func scopeOf(key string) Scope {
	prefix, _, _ := strings.Cut(key, ":")
	switch Scope(prefix) {
	case ScopeRecipient:
		return ScopeRecipient
	case ScopeGlobal:
		return ScopeGlobal
	default:
		return ScopeSender
	}
}

// Check counts one request against key under policy p.
func (l *Limiter) Check(ctx context.Context, key string, p Policy) Result {
	now := l.now()
	open := Result{Allowed: true, Remaining: p.MaxRequests, ResetAt: now.Add(p.Window)}

	if l.store == nil {
		l.logger.Warn("rate limiting disabled: no store configured", "key", key)
		return open
	}

	storeKey := keyPrefix + key
	rec, err := l.load(ctx, storeKey)
	if err != nil {
		l.logger.Error("rate limit check failed", "key", key, "error", err)
		return open
	}

	var next record
	if rec == nil || now.UnixMilli() >= rec.ResetAt {
		next = record{Count: 1, ResetAt: now.Add(p.Window).UnixMilli()}
	} else {
		next = record{Count: rec.Count + 1, ResetAt: rec.ResetAt}
	}
	resetAt := time.UnixMilli(next.ResetAt)

	if next.Count > p.MaxRequests {
		reason := "rate limit exceeded, try again at " + resetAt.UTC().Format(time.RFC3339)
		l.logger.Warn("rate limit exceeded",
			"key", key,
			"count", next.Count,
			"limit", p.MaxRequests,
			"reset_at", resetAt.UTC().Format(time.RFC3339),
		)
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt, Reason: reason}
	}

	data, err := json.Marshal(next)
	if err != nil {
		l.logger.Error("rate limit check failed", "key", key, "error", err)
		return open
	}
	if err := l.store.Put(ctx, storeKey, data, p.ttl()); err != nil {
		l.logger.Error("rate limit check failed", "key", key, "error", err)
		return open
	}

	return Result{Allowed: true, Remaining: max(0, p.MaxRequests-next.Count), ResetAt: resetAt}
}

// CheckSender counts one email from the sender.
func (l *Limiter) CheckSender(ctx context.Context, from string) Result {
	return l.Check(ctx, SenderKey(from), l.policies.Sender)
}

// CheckRecipient counts one SMS to the phone number.
func (l *Limiter) CheckRecipient(ctx context.Context, phone string) Result {
	return l.Check(ctx, RecipientKey(phone), l.policies.Recipient)
}

// CheckGlobal counts one SMS against the global quota.
func (l *Limiter) CheckGlobal(ctx context.Context) Result {
	return l.Check(ctx, GlobalKey, l.policies.Global)
}

// CheckAll runs the sender, recipient and global checks concurrently. It
// returns an *ExceededError for the first denied scope in that order. All
// three counters are updated independently, so an allowed scope still
// counts the request when another scope denies it.
func (l *Limiter) CheckAll(ctx context.Context, from, phone string) error {
	type check struct {
		scope Scope
		key   string
		run   func(context.Context) Result
	}
	checks := []check{
		{ScopeSender, SenderKey(from), func(ctx context.Context) Result { return l.CheckSender(ctx, from) }},
		{ScopeRecipient, RecipientKey(phone), func(ctx context.Context) Result { return l.CheckRecipient(ctx, phone) }},
		{ScopeGlobal, GlobalKey, l.CheckGlobal},
	}

	results := make([]Result, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = c.run(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, r := range results {
		if !r.Allowed {
			return &ExceededError{
				Scope:   checks[i].scope,
				Key:     checks[i].key,
				ResetAt: r.ResetAt,
				Reason:  r.Reason,
			}
		}
	}
	return nil
}

// Reset deletes the counter for key. Without a store it does nothing.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.Delete(ctx, keyPrefix+key); err != nil {
		return fmt.Errorf("reset rate limit %q: %w", key, err)
	}
	l.logger.Info("rate limit reset", "key", key)
	return nil
}

// Status reports the counter for key without changing it, using the
// policy of the key's scope. Allowed tells whether one more request would
// be admitted. It returns nil when there is no store, no record, or the
// window has passed.
func (l *Limiter) Status(ctx context.Context, key string) (*Result, error) {
	if l.store == nil {
		return nil, nil
	}
	rec, err := l.load(ctx, keyPrefix+key)
	if err != nil {
		return nil, fmt.Errorf("rate limit status %q: %w", key, err)
	}
	if rec == nil || l.now().UnixMilli() >= rec.ResetAt {
		return nil, nil
	}

	p := l.policies.forScope(scopeOf(key))
	return &Result{
		Allowed:   rec.Count < p.MaxRequests,
		Remaining: max(0, p.MaxRequests-rec.Count),
		ResetAt:   time.UnixMilli(rec.ResetAt),
	}, nil
}

func (l *Limiter) load(ctx context.Context, storeKey string) (*record, error) {
	data, err := l.store.Get(ctx, storeKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
