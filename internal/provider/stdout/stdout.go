// Package stdout implements a Provider that prints SMS messages to standard
// output instead of sending them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/shineum/email2sms-relay/internal/content"
	"github.com/shineum/email2sms-relay/internal/sms"
)

// Provider prints SMS messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	now    func() time.Time
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w, now: time.Now}
}

// Send prints the SMS and returns a receipt with a generated SID. It fails
// only if the writer does.
func (p *Provider) Send(_ context.Context, msg *sms.Message) (*sms.Receipt, error) {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "SMS To: %s\n", msg.To)
	if msg.From != "" {
		fmt.Fprintf(&b, "SMS From: %s\n", msg.From)
	}
	if md := msg.Metadata; md != nil {
		fmt.Fprintf(&b, "Email From: %s\n", md.EmailFrom)
		if md.Subject != "" {
			fmt.Fprintf(&b, "Subject: %s\n", md.Subject)
		}
	}
	fmt.Fprintf(&b, "Length: %d chars, %s\n", utf8.RuneCountInString(msg.Body), formatSegments(content.CalculateSMSSegments(msg.Body)))
	b.WriteString("Body:\n")
	b.WriteString(msg.Body + "\n")
	b.WriteString("========================================\n")

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return nil, fmt.Errorf("failed to write SMS: %w", err)
	}

	return &sms.Receipt{
		SID:         newSID(),
		Status:      "delivered",
		To:          msg.To,
		From:        msg.From,
		Body:        msg.Body,
		DateCreated: p.now().UTC().Format(time.RFC1123Z),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// newSID returns a Twilio-shaped message SID: "SM" and 32 hex digits.
func newSID() string {
	return "SM" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func formatSegments(n int) string {
	if n == 1 {
		return "1 segment"
	}
	return fmt.Sprintf("%d segments", n)
}
