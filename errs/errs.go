package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedRadix indicates a base-N radix outside the supported set.
	ErrUnsupportedRadix = errors.New("unsupported radix")
	// ErrDecode indicates malformed encoded input, such as a digit missing from the alphabet.
	ErrDecode = errors.New("decode error")
	// ErrNotPacked indicates the source is not a packed script.
	ErrNotPacked = errors.New("not packed")
	// ErrMalformedPackerHeader indicates the packer arguments could not be extracted.
	ErrMalformedPackerHeader = errors.New("malformed packer header")
	// ErrMalformedSymtab indicates the packer symbol table length disagrees with its count.
	ErrMalformedSymtab = errors.New("malformed packer symtab")
	// ErrCipherDecode indicates the envelope decrypted to garbage or nothing.
	ErrCipherDecode = errors.New("cipher decode failed")
	// ErrCanceled indicates the caller aborted the resolution.
	ErrCanceled = errors.New("canceled")
	// ErrFailed indicates a resolver could not produce a URL.
	ErrFailed = errors.New("resolution failed")
	// ErrRawUnsupported indicates the provider kind has no raw decode support.
	ErrRawUnsupported = errors.New("raw decode unsupported")
	// ErrNotDownloadable indicates the result only plays through an embed page.
	ErrNotDownloadable = errors.New("format not downloadable")
)

// Reason classifies a failed resolution.
type Reason string

const (
	ReasonNetwork          Reason = "network"
	ReasonShapeMismatch    Reason = "shape-mismatch"
	ReasonExhaustedRetries Reason = "exhausted-retries"
)

// FailedError carries the reason a resolver gave up.
type FailedError struct {
	Reason   Reason
	Provider string
	Err      error
}

func (e *FailedError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrFailed.Error(), e.Reason)
	if e.Provider != "" {
		msg += " provider=" + e.Provider
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FailedError) Unwrap() error { return e.Err }

// Is reports ErrFailed as a match so callers need not know the concrete type.
func (e *FailedError) Is(target error) bool { return target == ErrFailed }

// Failed builds a FailedError.
func Failed(reason Reason, provider string, err error) error {
	return &FailedError{Reason: reason, Provider: provider, Err: err}
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status=%d url=%s", e.StatusCode, e.URL)
}

// Canceled wraps a context error so that errors.Is(err, ErrCanceled) holds.
func Canceled(cause error) error {
	if cause == nil {
		return ErrCanceled
	}
	return fmt.Errorf("%w: %v", ErrCanceled, cause)
}

// IsCanceled reports whether err stems from caller cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// IsFailed reports whether err is a resolver failure.
func IsFailed(err error) bool {
	return errors.Is(err, ErrFailed)
}

// IsFatal reports decode errors that signal a provider format change.
// They are never retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnsupportedRadix) ||
		errors.Is(err, ErrMalformedSymtab) ||
		errors.Is(err, ErrMalformedPackerHeader)
}

// ReasonOf extracts the failure reason, defaulting to network.
func ReasonOf(err error) Reason {
	var fe *FailedError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ReasonNetwork
}
