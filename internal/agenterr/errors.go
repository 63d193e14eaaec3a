// Package agenterr defines the error taxonomy shared by the protocol core and
// its boundaries. Every per-request failure is one of these values; the HTTP
// and websocket layers translate them into structured responses.
package agenterr

import (
	"errors"
	"fmt"
)

// Class groups error kinds by how a client is expected to react.
type Class string

const (
	ClassValidation     Class = "validation"
	ClassAuthentication Class = "authentication"
	ClassPayment        Class = "payment"
	ClassSignature      Class = "signature"
	ClassInternal       Class = "internal"
)

// Kind is the machine-readable reason within a class.
type Kind string

const (
	KindMissingField         Kind = "MISSING_FIELD"
	KindInvalidField         Kind = "INVALID_FIELD"
	KindEmptyIntersection    Kind = "EMPTY_INTERSECTION"
	KindCapabilityNotGranted Kind = "CAPABILITY_NOT_GRANTED"
	KindSessionNotFound      Kind = "SESSION_NOT_FOUND"
	KindPaymentRequired      Kind = "PAYMENT_REQUIRED"
	KindPaymentInvalid       Kind = "PAYMENT_INVALID"
	KindExpired              Kind = "EXPIRED"
	KindBadSignature         Kind = "BAD_SIGNATURE"
	KindMalformed            Kind = "MALFORMED"
	KindCatalogMisconfigured Kind = "CATALOG_MISCONFIGURED"
	KindInternal             Kind = "INTERNAL"
)

// PaymentDetails tells an automated payer what to attach on retry.
type PaymentDetails struct {
	Capability string `json:"capability"`
	Protocol   string `json:"protocol"`
	Price      string `json:"price"`
	PayTo      string `json:"pay_to"`
}

// Error is a classified protocol error.
type Error struct {
	Class   Class
	Kind    Kind
	Message string

	// Available lists capabilities the caller may use instead: the advertised
	// set for handshake failures, the session grant for authorization failures.
	Available []string
	Payment   *PaymentDetails
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Code is the lower-case form of Kind used on the wire.
func (e *Error) Code() string {
	return toSnake(e.Kind)
}

func Validation(kind Kind, format string, args ...any) *Error {
	return &Error{Class: ClassValidation, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Authentication(kind Kind, format string, args ...any) *Error {
	return &Error{Class: ClassAuthentication, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Payment(kind Kind, details PaymentDetails, format string, args ...any) *Error {
	d := details
	return &Error{Class: ClassPayment, Kind: kind, Message: fmt.Sprintf(format, args...), Payment: &d}
}

func Signature(kind Kind, format string, args ...any) *Error {
	return &Error{Class: ClassSignature, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Internal(kind Kind, format string, args ...any) *Error {
	return &Error{Class: ClassInternal, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithAvailable returns a copy of e listing names as the usable alternatives.
func (e *Error) WithAvailable(names []string) *Error {
	c := *e
	c.Available = append([]string(nil), names...)
	return &c
}

// As unwraps err into an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a protocol error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

func toSnake(k Kind) string {
	b := []byte(k)
	for i, c := range b {
		switch {
		case c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A')
		case c == '-':
			b[i] = '_'
		}
	}
	return string(b)
}
