// Package asrerr implements the error taxonomy shared by the ASR session
// core: configuration, transport, vendor, and local I/O failures each carry
// a Kind so the session orchestrator can decide whether to retry, surface,
// or ignore them without inspecting error strings.
package asrerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the session orchestrator must react to it.
type Kind int

const (
	// KindConfig is a missing or malformed configuration value. Fatal.
	KindConfig Kind = iota
	// KindTransientConnection is a dial timeout, closed socket, or bad framing.
	// Reconnectable.
	KindTransientConnection
	// KindVendorRecoverable is a vendor-reported error whose code is on the
	// extension's reconnectable list.
	KindVendorRecoverable
	// KindVendorFatal is an unrecoverable vendor-reported error (e.g. bad request).
	KindVendorFatal
	// KindLocalIO is a dump write or rename failure. Never fatal.
	KindLocalIO
	// KindProtocol is an invalid utterance or unknown message type. Dropped
	// with a warning; the session continues.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransientConnection:
		return "transient_connection"
	case KindVendorRecoverable:
		return "vendor_recoverable"
	case KindVendorFatal:
		return "vendor_fatal"
	case KindLocalIO:
		return "local_io"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Classified wraps an underlying error with its Kind and vendor detail.
type Classified struct {
	Kind       Kind
	VendorCode int
	Err        error
}

func (c *Classified) Error() string {
	if c.VendorCode != 0 {
		return fmt.Sprintf("%s (code=%d): %v", c.Kind, c.VendorCode, c.Err)
	}
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// Reconnectable reports whether the session's reconnect supervisor should
// be invoked for this error.
func (c *Classified) Reconnectable() bool {
	return c.Kind == KindTransientConnection || c.Kind == KindVendorRecoverable
}

// Fatal reports whether the session must transition to Closed.
func (c *Classified) Fatal() bool {
	return c.Kind == KindConfig || c.Kind == KindVendorFatal
}

// New wraps err as a Classified error of the given kind.
func New(kind Kind, err error) *Classified {
	return &Classified{Kind: kind, Err: err}
}

// Newf is New with a formatted message instead of a wrapped error.
func Newf(kind Kind, format string, args ...interface{}) *Classified {
	return &Classified{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// VendorError builds a Classified error for a vendor-reported code/message,
// classifying it Reconnectable if code is in reconnectableCodes, else Fatal.
func VendorError(code int, msg string, reconnectableCodes map[int]bool) *Classified {
	kind := KindVendorFatal
	if reconnectableCodes[code] {
		kind = KindVendorRecoverable
	}
	return &Classified{Kind: kind, VendorCode: code, Err: errors.New(msg)}
}

// As is a thin wrapper over errors.As for *Classified, for callers that
// only have an error and want to inspect its Kind.
func As(err error) (*Classified, bool) {
	var c *Classified
	ok := errors.As(err, &c)
	return c, ok
}
