package validator

import "errors"

// Code is a stable, machine-readable validation failure code.
type Code string

const (
	CodeUnauthorizedSender Code = "UNAUTHORIZED_SENDER"
	CodeMissingFrom        Code = "MISSING_FROM"
	CodeMissingTo          Code = "MISSING_TO"
	CodeInvalidFrom        Code = "INVALID_FROM"
	CodeInvalidTo          Code = "INVALID_TO"
	CodeEmptyContent       Code = "EMPTY_CONTENT"
	CodeEmptyMessage       Code = "EMPTY_MESSAGE"
	CodeMessageTooShort    Code = "MESSAGE_TOO_SHORT"
	CodeMessageTooLong     Code = "MESSAGE_TOO_LONG"
	CodeInvalidPhoneFormat Code = "INVALID_PHONE_FORMAT"
	CodeInvalidUSPhone     Code = "INVALID_US_PHONE"
	CodeInvalidAreaCode    Code = "INVALID_AREA_CODE"
)

// Error is a rejected email, sender, message or phone number.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ""
}
