// Package parser turns raw RFC 5322 messages into email.Message values.
package parser

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/jhillyerd/enmime"

	"github.com/shineum/email2sms-relay/internal/email"
)

// Parse decodes raw with enmime. Headers are RFC 2047 decoded, the first To
// address becomes Message.To and attachments keep only their metadata.
// Text stays empty for HTML-only messages.
func Parse(raw []byte) (*email.Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	for _, perr := range env.Errors {
		slog.Warn("MIME parse problem",
			"name", perr.Name,
			"detail", perr.Detail,
			"severe", perr.Severe,
		)
	}

	msg := &email.Message{
		From:      env.GetHeader("From"),
		Subject:   env.GetHeader("Subject"),
		MessageID: env.GetHeader("Message-Id"),
		HTML:      env.HTML,
	}

	if env.Root != nil {
		msg.Headers = email.NewHeaders(env.Root.Header)
	}

	if to, err := env.AddressList("To"); err == nil && len(to) > 0 {
		msg.To = to[0].Address
	} else {
		msg.To = env.GetHeader("To")
	}

	// enmime fills Text from the HTML part when no text part exists; the
	// relay runs its own HTML conversion instead.
	if env.HTML == "" || hasTextPart(env.Root) {
		msg.Text = env.Text
	}

	for _, part := range append(env.Attachments, env.Inlines...) {
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Size:        len(part.Content),
		})
	}

	return msg, nil
}

func hasTextPart(root *enmime.Part) bool {
	if root == nil {
		return false
	}
	return root.BreadthMatchFirst(func(p *enmime.Part) bool {
		return p.ContentType == "text/plain" && p.Disposition != "attachment"
	}) != nil
}
