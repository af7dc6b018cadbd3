package relay_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/email2sms-relay/internal/deliverylog"
	"github.com/shineum/email2sms-relay/internal/email"
	"github.com/shineum/email2sms-relay/internal/kv"
	"github.com/shineum/email2sms-relay/internal/notify"
	"github.com/shineum/email2sms-relay/internal/phone"
	"github.com/shineum/email2sms-relay/internal/ratelimit"
	"github.com/shineum/email2sms-relay/internal/relay"
	"github.com/shineum/email2sms-relay/internal/sms"
	"github.com/shineum/email2sms-relay/internal/validator"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeProvider struct {
	mu   sync.Mutex
	sent []*sms.Message
	err  error
}

func (p *fakeProvider) Send(_ context.Context, msg *sms.Message) (*sms.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	if p.err != nil {
		return nil, p.err
	}
	return &sms.Receipt{SID: "SM1", Status: "queued", To: msg.To, From: "+15005550006", Body: msg.Body}, nil
}

func (p *fakeProvider) Name() string { return "fake" }

type fakeNotifier struct {
	mu    sync.Mutex
	notes []*notify.Rejection
}

func (n *fakeNotifier) Notify(_ context.Context, r *notify.Rejection) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, r)
	return nil
}

func (n *fakeNotifier) Name() string { return "fake" }

type fakeJournal struct {
	mu      sync.Mutex
	entries []deliverylog.Entry
}

func (j *fakeJournal) Record(_ context.Context, e *deliverylog.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *e)
	return nil
}

type harness struct {
	relay    *relay.Relay
	provider *fakeProvider
	notifier *fakeNotifier
	journal  *fakeJournal
}

func newHarness(t *testing.T, cfg relay.Config, vopts validator.Options, opts ...relay.Option) *harness {
	t.Helper()
	vopts.Logger = discard
	h := &harness{
		provider: &fakeProvider{},
		notifier: &fakeNotifier{},
		journal:  &fakeJournal{},
	}
	opts = append([]relay.Option{
		relay.WithNotifier(h.notifier),
		relay.WithJournal(h.journal),
		relay.WithLogger(discard),
	}, opts...)
	h.relay = relay.New(cfg, validator.New(vopts), h.provider, opts...)
	return h
}

func sample() *email.Message {
	return &email.Message{
		From:      "Alice <alice@example.com>",
		To:        "4155552671@sms.example.com",
		Subject:   "Hi",
		Text:      "Meeting moved to 3pm.",
		MessageID: "<m1@example.com>",
	}
}

func TestHandle_Success(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{FromNumber: "+15005550006"}, validator.Options{AllowedSenders: []string{"*@example.com"}})

	out, err := h.relay.Handle(context.Background(), sample())
	require.NoError(t, err)

	assert.Equal(t, "From: Alice\nRe: Hi\nMeeting moved to 3pm.", out.Body)
	assert.Equal(t, 1, out.Segments)
	assert.Equal(t, "+14155552671", out.Phone.PhoneNumber)
	assert.Equal(t, phone.SourceToAddress, out.Phone.Source)
	assert.Equal(t, "SM1", out.Receipt.SID)

	require.Len(t, h.provider.sent, 1)
	sent := h.provider.sent[0]
	assert.Equal(t, "+14155552671", sent.To)
	assert.Equal(t, "+15005550006", sent.From)
	require.NotNil(t, sent.Metadata)
	assert.Equal(t, "Alice <alice@example.com>", sent.Metadata.EmailFrom)
	assert.Equal(t, "Hi", sent.Metadata.Subject)

	require.Len(t, h.journal.entries, 1)
	e := h.journal.entries[0]
	assert.Equal(t, deliverylog.StatusSuccess, e.Status)
	assert.Equal(t, "alice@example.com", e.EmailFrom)
	assert.Equal(t, "4155552671@sms.example.com", e.EmailTo)
	assert.Equal(t, "+14155552671", e.SMSTo)
	assert.Equal(t, "+15005550006", e.SMSFrom)
	assert.Equal(t, utf8.RuneCountInString(out.Body), e.MessageLength)
	assert.Equal(t, 1, e.Segments)
	assert.Equal(t, "SM1", e.ProviderSID)
	assert.Empty(t, e.Error)

	assert.Empty(t, h.notifier.notes)
}

func TestHandle_HTMLOnlyAndSanitized(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})

	msg := sample()
	msg.Text = ""
	msg.HTML = "<p>Ask <b>bob@example.com</b> for the keys</p><script>alert(1)</script>"

	out, err := h.relay.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "From: Alice\nRe: Hi\nAsk [email] for the keys", out.Body)
}

func TestHandle_BodyBoundedByMaxLength(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})

	msg := sample()
	msg.Text = strings.Repeat("Status is green. ", 60)

	out, err := h.relay.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.LessOrEqual(t, utf8.RuneCountInString(out.Body), 160)
	assert.True(t, strings.HasSuffix(out.Body, "..."))

	h = newHarness(t, relay.Config{MaxSMSLength: 5000}, validator.Options{})
	out, err = h.relay.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.LessOrEqual(t, utf8.RuneCountInString(out.Body), sms.MaxBodyLength)
	assert.Greater(t, out.Segments, 1)
}

func TestHandle_UnauthorizedSender(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{AllowedSenders: []string{"*@example.com"}})

	msg := sample()
	msg.From = "Eve <eve@evil.com>"
	msg.Subject = "Ping"

	_, err := h.relay.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, relay.KindRejected, relay.KindOf(err))
	assert.Equal(t, validator.CodeUnauthorizedSender, validator.CodeOf(err))
	assert.Empty(t, h.provider.sent)

	assert.Empty(t, h.notifier.notes, "unauthorized senders are not notified")

	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, deliverylog.StatusRejected, h.journal.entries[0].Status)
	assert.Contains(t, h.journal.entries[0].Error, "UNAUTHORIZED_SENDER")
}

func TestHandle_NoPhoneNumber(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})

	msg := sample()
	msg.To = "ops@example.com"
	msg.Subject = "Status"
	msg.Text = "All systems nominal."

	_, err := h.relay.Handle(context.Background(), msg)
	assert.ErrorIs(t, err, phone.ErrNoPhoneNumber)
	assert.Equal(t, relay.KindRejected, relay.KindOf(err))

	require.Len(t, h.notifier.notes, 1)
	note := h.notifier.notes[0]
	assert.Equal(t, "alice@example.com", note.Recipient)
	assert.Equal(t, "Status", note.Subject)
	assert.Equal(t, "NO_PHONE_NUMBER", note.Code)
	assert.Equal(t, "<m1@example.com>", note.MessageID)
}

func TestHandle_BlockedAreaCode(t *testing.T) {
	t.Parallel()

	msg := sample()
	msg.To = "9115551234@sms.example.com"

	strict := newHarness(t, relay.Config{}, validator.Options{})
	_, err := strict.relay.Handle(context.Background(), msg)
	assert.Equal(t, validator.CodeInvalidAreaCode, validator.CodeOf(err))
	assert.Equal(t, "+19115551234", strict.journal.entries[0].SMSTo)

	msg.To = "5555551234@sms.example.com"
	_, err = strict.relay.Handle(context.Background(), msg)
	assert.Equal(t, validator.CodeInvalidAreaCode, validator.CodeOf(err))

	permissive := newHarness(t, relay.Config{}, validator.Options{PermissiveAreaCodes: true})
	_, err = permissive.relay.Handle(context.Background(), msg)
	assert.NoError(t, err)
}

func TestHandle_ContentTooShort(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})

	msg := sample()
	msg.Text = "ok"

	_, err := h.relay.Handle(context.Background(), msg)
	assert.Equal(t, validator.CodeMessageTooShort, validator.CodeOf(err))
	assert.Empty(t, h.provider.sent)
}

func TestHandle_InvalidEmail(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})

	_, err := h.relay.Handle(context.Background(), nil)
	assert.Equal(t, validator.CodeMissingFrom, validator.CodeOf(err))
	assert.Empty(t, h.notifier.notes, "no sender to notify")

	msg := sample()
	msg.From = "not-an-address"
	_, err = h.relay.Handle(context.Background(), msg)
	assert.Equal(t, validator.CodeInvalidFrom, validator.CodeOf(err))
	assert.Empty(t, h.notifier.notes, "invalid sender is not notified")
}

func TestHandle_NoNoticeToSelf(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		relay.Config{NoticeSender: "Relay <relay@example.com>"},
		validator.Options{AllowedSenders: []string{"alice@example.com"}},
	)

	msg := sample()
	msg.From = "relay@example.com"

	_, err := h.relay.Handle(context.Background(), msg)
	assert.Equal(t, validator.CodeUnauthorizedSender, validator.CodeOf(err))
	assert.Empty(t, h.notifier.notes)
}

func TestHandle_RateLimited(t *testing.T) {
	t.Parallel()

	store := kv.NewMemory()
	t.Cleanup(func() { _ = store.Close() })

	policies := ratelimit.DefaultPolicies()
	policies.Sender = ratelimit.Policy{Window: time.Hour, MaxRequests: 1}
	limiter := ratelimit.New(store, ratelimit.WithPolicies(policies), ratelimit.WithLogger(discard))

	h := newHarness(t, relay.Config{}, validator.Options{}, relay.WithLimiter(limiter))

	_, err := h.relay.Handle(context.Background(), sample())
	require.NoError(t, err)

	_, err = h.relay.Handle(context.Background(), sample())
	require.Error(t, err)
	assert.Equal(t, relay.KindRateLimited, relay.KindOf(err))

	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, ratelimit.ScopeSender, exceeded.Scope)
	assert.Equal(t, "sender:alice@example.com", exceeded.Key)

	assert.Len(t, h.provider.sent, 1)
	assert.Empty(t, h.notifier.notes, "rate-limited senders are not notified")
	assert.Equal(t, deliverylog.StatusRejected, h.journal.entries[1].Status)
}

func TestHandle_SpoofedSenderGetsNoNotices(t *testing.T) {
	t.Parallel()

	store := kv.NewMemory()
	t.Cleanup(func() { _ = store.Close() })

	policies := ratelimit.DefaultPolicies()
	policies.Sender = ratelimit.Policy{Window: time.Hour, MaxRequests: 1}
	limiter := ratelimit.New(store, ratelimit.WithPolicies(policies), ratelimit.WithLogger(discard))

	allowlisted := newHarness(t, relay.Config{}, validator.Options{AllowedSenders: []string{"*@trusted.com"}})
	open := newHarness(t, relay.Config{}, validator.Options{}, relay.WithLimiter(limiter))

	msg := sample()
	msg.From = "victim@example.org"
	for range 50 {
		_, _ = allowlisted.relay.Handle(context.Background(), msg)
		_, _ = open.relay.Handle(context.Background(), msg)
	}

	assert.Empty(t, allowlisted.notifier.notes)
	assert.Empty(t, open.notifier.notes)
	assert.Len(t, open.provider.sent, 1)
}

func TestHandle_NoticesLimitedPerSender(t *testing.T) {
	t.Parallel()

	store := kv.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	limiter := ratelimit.New(store, ratelimit.WithLogger(discard))

	h := newHarness(t, relay.Config{}, validator.Options{}, relay.WithLimiter(limiter))

	msg := sample()
	msg.To = "ops@example.com"
	msg.Subject = "Status"
	msg.Text = "All systems nominal."
	for range 10 {
		_, err := h.relay.Handle(context.Background(), msg)
		assert.ErrorIs(t, err, phone.ErrNoPhoneNumber)
	}
	assert.Len(t, h.notifier.notes, 3)
	assert.Len(t, h.journal.entries, 10)

	other := sample()
	other.From = "bob@example.com"
	other.To = "ops@example.com"
	other.Subject = "Status"
	other.Text = "All systems nominal."
	_, _ = h.relay.Handle(context.Background(), other)
	assert.Len(t, h.notifier.notes, 4)

	require.NoError(t, limiter.Reset(context.Background(), relay.NoticeKey("Alice <alice@example.com>")))
	_, _ = h.relay.Handle(context.Background(), msg)
	assert.Len(t, h.notifier.notes, 5)
}

func TestHandle_SignatureRemovedBeforeValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})

	msg := sample()
	msg.Text = "Call me back please.\n--\n" + strings.Repeat("Legal disclaimer text. ", 80)

	out, err := h.relay.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "From: Alice\nRe: Hi\nCall me back please.", out.Body)
}

func TestHandle_SignatureOnlyBodyIsEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})

	msg := sample()
	msg.Text = "Thanks,\nBob Smith"

	_, err := h.relay.Handle(context.Background(), msg)
	assert.Equal(t, validator.CodeEmptyMessage, validator.CodeOf(err))
	assert.Equal(t, relay.KindRejected, relay.KindOf(err))
	assert.Empty(t, h.provider.sent)
	assert.Equal(t, deliverylog.StatusRejected, h.journal.entries[0].Status)
}

func TestHandle_SignatureRemovedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})

	msg := sample()
	msg.Text = "Running late.\nThanks, see you soon\n--\nAlice"

	out, err := h.relay.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "From: Alice\nRe: Hi\nRunning late.\nThanks, see you soon", out.Body)
}

func TestHandle_ProviderErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, relay.Config{}, validator.Options{})
	h.provider.err = &sms.ProviderError{Provider: "Twilio", StatusCode: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}

	_, err := h.relay.Handle(context.Background(), sample())
	assert.Equal(t, relay.KindProviderRejected, relay.KindOf(err))
	var perr *sms.ProviderError
	assert.ErrorAs(t, err, &perr)
	assert.Equal(t, deliverylog.StatusFailed, h.journal.entries[0].Status)
	assert.Empty(t, h.notifier.notes)

	h.provider.err = errors.New("connection refused")
	_, err = h.relay.Handle(context.Background(), sample())
	assert.Equal(t, relay.KindTemporary, relay.KindOf(err))
	assert.Equal(t, deliverylog.StatusFailed, h.journal.entries[1].Status)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, relay.KindNone, relay.KindOf(nil))
	assert.Equal(t, relay.KindRejected, relay.KindOf(&validator.Error{Code: validator.CodeEmptyMessage}))
	assert.Equal(t, relay.KindRejected, relay.KindOf(phone.ErrNoPhoneNumber))
	assert.Equal(t, relay.KindRateLimited, relay.KindOf(&ratelimit.ExceededError{Scope: ratelimit.ScopeGlobal}))
	assert.Equal(t, relay.KindProviderRejected, relay.KindOf(&sms.ProviderError{StatusCode: 400}))
	assert.Equal(t, relay.KindTemporary, relay.KindOf(context.DeadlineExceeded))
}
