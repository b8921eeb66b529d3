package kraken

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies client failures for callers that need to branch
// on recoverability.
type ErrorKind int

const (
	// KindTransient covers transport resets, timeouts, HTTP 5xx and the
	// exchange's invalid-nonce race. Safe to retry.
	KindTransient ErrorKind = iota
	// KindAuth means the exchange rejected the key or signature.
	KindAuth
	// KindBadInput means the request itself was malformed.
	KindBadInput
	// KindInsufficientFunds is the exchange's business rejection of an
	// order whose volume exceeds the available balance.
	KindInsufficientFunds
	// KindUnknownPair means the pair symbol is not listed.
	KindUnknownPair
	// KindAmbiguous marks an order submission whose request was written
	// to the wire but whose response never arrived. Never retried here;
	// the engine reconciles against a later snapshot.
	KindAmbiguous
	// KindNotFound covers unknown order/trade ids on query endpoints.
	KindNotFound
	// KindOther is everything else.
	KindOther
)

// Error is the typed failure returned by all client operations.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("kraken %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("kraken %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, defaulting to KindOther for foreign
// errors.
func KindOf(err error) ErrorKind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindOther
}

// IsAmbiguous reports whether err is an ambiguous order submission.
func IsAmbiguous(err error) bool { return KindOf(err) == KindAmbiguous }

// Retryable reports whether the operation that produced err may be
// repeated safely.
func Retryable(err error) bool { return KindOf(err) == KindTransient }

// classifyAPIError maps the exchange's EFOO:Bar error strings onto
// kinds. The invalid-nonce case is transient: two signed requests can
// reach the server out of order.
func classifyAPIError(op, msg string) *Error {
	kind := KindOther
	switch {
	case strings.Contains(msg, "Invalid nonce"):
		kind = KindTransient
	case strings.HasPrefix(msg, "EService:"), strings.Contains(msg, "Temporary lockout"), strings.Contains(msg, "Rate limit exceeded"):
		kind = KindTransient
	case strings.HasPrefix(msg, "EAPI:"), strings.Contains(msg, "Invalid signature"), strings.Contains(msg, "Invalid key"), strings.Contains(msg, "Permission denied"):
		kind = KindAuth
	case strings.Contains(msg, "Insufficient funds"):
		kind = KindInsufficientFunds
	case strings.Contains(msg, "Unknown asset pair"):
		kind = KindUnknownPair
	case strings.Contains(msg, "Unknown order"), strings.Contains(msg, "Invalid order"):
		kind = KindNotFound
	case strings.HasPrefix(msg, "EGeneral:Invalid arguments"), strings.HasPrefix(msg, "EOrder:Invalid"):
		kind = KindBadInput
	}
	return &Error{Kind: kind, Op: op, Message: msg}
}
