// Package errs provides types and support related to web v1 functionality.
package errs

import "errors"

// Response is the form used for API responses from failures in the API.
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Trusted is used to pass an error during the request through the
// application with web specific context. Message is what the caller sees;
// the wrapped error is only logged.
type Trusted struct {
	Err     error
	Status  int
	Message string
}

// NewTrusted wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors. The
// error text is shown to the caller.
func NewTrusted(err error, status int) error {
	return &Trusted{Err: err, Status: status, Message: err.Error()}
}

// NewTrustedMessage wraps a provided error with an HTTP status code and
// the message shown to the caller.
func NewTrustedMessage(err error, status int, message string) error {
	return &Trusted{Err: err, Status: status, Message: message}
}

// Error implements the error interface. It uses the default message of the
// wrapped error. This is what will be shown in the services' logs.
func (re *Trusted) Error() string {
	return re.Err.Error()
}

// Unwrap provides support for errors.Is and errors.As.
func (re *Trusted) Unwrap() error {
	return re.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var re *Trusted
	return errors.As(err, &re)
}

// GetTrusted returns a copy of the Trusted pointer.
func GetTrusted(err error) *Trusted {
	var re *Trusted
	if !errors.As(err, &re) {
		return nil
	}
	return re
}
