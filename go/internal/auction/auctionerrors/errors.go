package auctionerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Store-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrTransientStore  = errors.New("store temporarily unavailable")
	ErrStateChanged    = errors.New("auction state changed concurrently")
)

// business logic errors
var (
	ErrValidation        = errors.New("validation error")
	ErrBidTooLow         = errors.New("bid amount too low")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrAuctionNotOpen    = errors.New("auction is not open for bidding")
	ErrInvalidTransition = errors.New("invalid auction status transition")
)

// transport errors
var (
	ErrConnection = errors.New("connection error")
	ErrAckTimeout = errors.New("acknowledgment timed out")
)

// Reason codes sent to clients with every rejection.
const (
	ReasonValidation   = "validation_error"
	ReasonBidTooLow    = "bid_too_low"
	ReasonAuctionEnded = "auction_ended"
	ReasonNotOpen      = "auction_not_open"
	ReasonNotFound     = "auction_not_found"
	ReasonStateChanged = "state_changed"
	ReasonStoreDown    = "store_unavailable"
	ReasonTransition   = "invalid_transition"
	ReasonInternal     = "internal_error"
)

// RejectionError is a business-rule rejection carrying the current minimum qualifying bid.
type RejectionError struct {
	Reason     string
	MinimumBid *decimal.Decimal
	Err        error
}

func (e *RejectionError) Error() string {
	if e.MinimumBid != nil {
		return fmt.Sprintf("%s: %v (minimum bid %s)", e.Reason, e.Err, e.MinimumBid.StringFixed(2))
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Reject builds a RejectionError for the given sentinel.
func Reject(err error, minimum *decimal.Decimal) *RejectionError {
	return &RejectionError{Reason: ReasonFor(err), MinimumBid: minimum, Err: err}
}

// Validation wraps a validation failure message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w - %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ReasonFor maps an error chain to the reason code sent over the wire.
func ReasonFor(err error) string {
	var rej *RejectionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rej) && rej.Reason != "":
		return rej.Reason
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrBidTooLow):
		return ReasonBidTooLow
	case errors.Is(err, ErrAuctionEnded):
		return ReasonAuctionEnded
	case errors.Is(err, ErrAuctionNotOpen):
		return ReasonNotOpen
	case errors.Is(err, ErrAuctionNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrStateChanged):
		return ReasonStateChanged
	case errors.Is(err, ErrInvalidTransition):
		return ReasonTransition
	case errors.Is(err, ErrTransientStore):
		return ReasonStoreDown
	default:
		return ReasonInternal
	}
}

// IsBusinessRejection reports whether err is a terminal, user-facing rule violation.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrBidTooLow) ||
		errors.Is(err, ErrAuctionEnded) ||
		errors.Is(err, ErrAuctionNotOpen) ||
		errors.Is(err, ErrAuctionNotFound)
}
