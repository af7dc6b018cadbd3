package graph

import "github.com/shineum/email2sms-relay/internal/notify"

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject      string      `json:"subject"`
	Body         messageBody `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a rejection into a plain-text sendMail body.
func buildSendMailRequest(r *notify.Rejection) *sendMailRequest {
	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: notify.Subject(r),
			Body: messageBody{
				ContentType: "text",
				Content:     notify.Body(r),
			},
			ToRecipients: []recipient{
				{EmailAddress: emailAddress{Address: r.Recipient}},
			},
		},
	}
}
