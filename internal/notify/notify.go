// Package notify sends a short email back to the sender of a message that
// could not be relayed as SMS.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Rejection describes an email the relay refused or failed to deliver.
type Rejection struct {
	// Recipient is the bare address of the original sender.
	Recipient string
	// Subject is the subject of the original email.
	Subject   string
	Code      string
	Reason    string
	MessageID string
	At        time.Time
}

// Notifier is the interface that rejection-notice backends must implement.
type Notifier interface {
	// Notify sends the notice for r.
	Notify(ctx context.Context, r *Rejection) error

	// Name returns the human-readable name of this notifier.
	Name() string
}

// Subject returns the notice subject line.
func Subject(r *Rejection) string {
	if r.Subject == "" {
		return "SMS not sent"
	}
	return "SMS not sent: " + r.Subject
}

// Body returns the plain-text notice.
func Body(r *Rejection) string {
	var b strings.Builder
	b.WriteString("Your email was not delivered as a text message.\n\n")
	fmt.Fprintf(&b, "Reason: %s\n", r.Reason)
	if r.Code != "" {
		fmt.Fprintf(&b, "Code: %s\n", r.Code)
	}
	if r.Subject != "" {
		fmt.Fprintf(&b, "Original subject: %s\n", r.Subject)
	}
	if r.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", r.MessageID)
	}
	if !r.At.IsZero() {
		fmt.Fprintf(&b, "Time: %s\n", r.At.UTC().Format(time.RFC3339))
	}
	b.WriteString("\nThis is an automated message. Do not reply.\n")
	return b.String()
}
