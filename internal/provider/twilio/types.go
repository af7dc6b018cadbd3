package twilio

import "github.com/shineum/email2sms-relay/internal/sms"

// messageResponse is the Messages resource returned on success.
type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	AccountSID   string `json:"account_sid"`
	From         string `json:"from"`
	To           string `json:"to"`
	Body         string `json:"body"`
	DateCreated  string `json:"date_created"`
	Price        string `json:"price"`
	URI          string `json:"uri"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (m *messageResponse) receipt() *sms.Receipt {
	return &sms.Receipt{
		SID:          m.SID,
		Status:       m.Status,
		AccountSID:   m.AccountSID,
		To:           m.To,
		From:         m.From,
		Body:         m.Body,
		DateCreated:  m.DateCreated,
		Price:        m.Price,
		URI:          m.URI,
		ErrorCode:    m.ErrorCode,
		ErrorMessage: m.ErrorMessage,
	}
}

// errorResponse is the JSON body of a Twilio API error.
type errorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}
