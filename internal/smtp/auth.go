// Package smtp implements the SMTP listener that receives the emails to be
// relayed as SMS.
package smtp

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrInvalidEncoding = errors.New("invalid base64 encoding")
	ErrInvalidPlain    = errors.New("invalid AUTH PLAIN format")
	ErrAuthFailed      = errors.New("authentication failed")
)

// Authenticator checks SMTP AUTH credentials against a single configured
// account.
type Authenticator struct {
	username []byte
	password []byte
}

// NewAuthenticator creates an Authenticator. Authentication is disabled
// unless both username and password are set.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: []byte(username),
		password: []byte(password),
	}
}

// Enabled reports whether credentials are configured.
func (a *Authenticator) Enabled() bool {
	return len(a.username) > 0 && len(a.password) > 0
}

// VerifyPlain checks an AUTH PLAIN response, base64("authzid\0user\0pass").
// The authorization identity is ignored.
func (a *Authenticator) VerifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrInvalidEncoding
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return ErrInvalidPlain
	}
	return a.verify([]byte(parts[1]), []byte(parts[2]))
}

// VerifyLogin checks the base64 username and password collected by the
// AUTH LOGIN challenge-response exchange.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return ErrInvalidEncoding
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return ErrInvalidEncoding
	}
	return a.verify(user, pass)
}

// verify compares both fields in constant time and evaluates both before
// deciding.
func (a *Authenticator) verify(user, pass []byte) error {
	userOK := subtle.ConstantTimeCompare(user, a.username)
	passOK := subtle.ConstantTimeCompare(pass, a.password)
	if userOK&passOK != 1 || !a.Enabled() {
		return ErrAuthFailed
	}
	return nil
}
