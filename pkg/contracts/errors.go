package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind tags a domain error with its failure class so callers can map it
// to transport semantics without string matching.
type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindDuplicate        ErrorKind = "DUPLICATE"
	KindInvalidState     ErrorKind = "INVALID_STATE"
	KindNotEligible      ErrorKind = "NOT_ELIGIBLE"
	KindSignatureInvalid ErrorKind = "SIGNATURE_INVALID"
	KindChainLink        ErrorKind = "CHAIN_LINK"
)

// Error is a kinded domain error. All failures surfaced by the core carry a
// distinguishable kind plus a human-readable reason.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// NewValidation builds a ValidationError.
func NewValidation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// NewNotFound builds a NotFoundError.
func NewNotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

// NewDuplicate builds a DuplicateError.
func NewDuplicate(format string, args ...any) error {
	return &Error{Kind: KindDuplicate, Reason: fmt.Sprintf(format, args...)}
}

// NewInvalidState builds an InvalidStateError.
func NewInvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Reason: fmt.Sprintf(format, args...)}
}

// NewNotEligible builds a NotEligibleError.
func NewNotEligible(format string, args ...any) error {
	return &Error{Kind: KindNotEligible, Reason: fmt.Sprintf(format, args...)}
}

// NewSignatureInvalid builds a SignatureInvalidError.
func NewSignatureInvalid(format string, args ...any) error {
	return &Error{Kind: KindSignatureInvalid, Reason: fmt.Sprintf(format, args...)}
}

// NewChainLink builds a ChainLinkError.
func NewChainLink(format string, args ...any) error {
	return &Error{Kind: KindChainLink, Reason: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, or "" for non-domain errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }

func IsValidation(err error) bool       { return IsKind(err, KindValidation) }
func IsNotFound(err error) bool         { return IsKind(err, KindNotFound) }
func IsDuplicate(err error) bool        { return IsKind(err, KindDuplicate) }
func IsInvalidState(err error) bool     { return IsKind(err, KindInvalidState) }
func IsNotEligible(err error) bool      { return IsKind(err, KindNotEligible) }
func IsSignatureInvalid(err error) bool { return IsKind(err, KindSignatureInvalid) }
func IsChainLink(err error) bool        { return IsKind(err, KindChainLink) }
