package errs

import (
	"encoding/json"
	"fmt"
)

// Error codes
const (
	CodeUnsupportedRadix      = "UNSUPPORTED_RADIX"
	CodeDecode                = "DECODE_ERROR"
	CodeNotPacked             = "NOT_PACKED"
	CodeMalformedPackerHeader = "MALFORMED_PACKER_HEADER"
	CodeMalformedSymtab       = "MALFORMED_SYMTAB"
	CodeCipherDecode          = "CIPHER_DECODE_ERROR"
)

var codeSentinels = map[string]error{
	CodeUnsupportedRadix:      ErrUnsupportedRadix,
	CodeDecode:                ErrDecode,
	CodeNotPacked:             ErrNotPacked,
	CodeMalformedPackerHeader: ErrMalformedPackerHeader,
	CodeMalformedSymtab:       ErrMalformedSymtab,
	CodeCipherDecode:          ErrCipherDecode,
}

// Error represents a structured decode error with code and details
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches the sentinel registered for the error code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// MarshalJSON implements json.Marshaler
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Error string `json:"error"`
	}{
		Alias: (*Alias)(e),
		Error: e.Error(),
	})
}

// NewError creates a new Error with the given code and message
func NewError(code string, message string, details ...any) *Error {
	e := &Error{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}
