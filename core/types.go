package core

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrTokenSpaceExhausted is returned when the token issuer cannot
	// encode a drawn value into a fixed-width token.
	ErrTokenSpaceExhausted = errors.New("bidder token space exhausted")

	// ErrUnknownBidder is returned for operations referencing a token
	// that never joined the auction.
	ErrUnknownBidder = errors.New("unknown bidder")
)

// Bid is a single sealed bid: a quantity of shares and a total price
// offered for them. A later bid from the same bidder fully replaces the
// earlier one; quantities are never accumulated.
type Bid struct {
	Bidder      string
	Quantity    uint64
	Price       decimal.Decimal
	SubmittedAt time.Time
}

// UnitPrice returns price divided by quantity, the ranking and settlement
// key. Every comparison and every payment computation goes through this
// method so the division rounding is applied identically everywhere.
func (b Bid) UnitPrice() decimal.Decimal {
	return b.Price.Div(decimal.NewFromUint64(b.Quantity))
}

// Compare reports the settlement ordering of b against other: positive if
// b ranks ahead, negative if behind, zero only when both unit price and
// submission time are identical. Higher unit price ranks first; at an
// exact price tie the earlier submission ranks first.
func (b Bid) Compare(other Bid) int {
	if c := b.UnitPrice().Cmp(other.UnitPrice()); c != 0 {
		return c
	}
	if b.SubmittedAt.Before(other.SubmittedAt) {
		return 1
	}
	if b.SubmittedAt.After(other.SubmittedAt) {
		return -1
	}
	return 0
}

// ResultState is the lifecycle state of a bidder's outcome.
type ResultState int

const (
	// ResultInProgress means the bidder joined and the auction has not
	// settled yet.
	ResultInProgress ResultState = iota

	// ResultSuccess means the bidder was allocated shares at the
	// clearing price.
	ResultSuccess

	// ResultFailure means the bidder received zero shares.
	ResultFailure
)

// String returns the wire name of the state.
func (s ResultState) String() string {
	switch s {
	case ResultInProgress:
		return "in_progress"
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// AuctionResult is one bidder's outcome. Quantity and Price are meaningful
// only when State is ResultSuccess: the allocated share count and the
// total payment for it at the clearing price. A result starts in progress
// and transitions exactly once, at tabulation; it is terminal after that.
type AuctionResult struct {
	State    ResultState
	Quantity uint64
	Price    decimal.Decimal
}

// BidStatus reports what happened to a submitted bid.
type BidStatus int

const (
	// BidSubmitted means the bid was stored and replaces any earlier bid
	// from the same bidder.
	BidSubmitted BidStatus = iota

	// BidPastDeadline means the bid arrived at or after the deadline, or
	// after settlement, and was not admitted.
	BidPastDeadline
)

// String returns the wire name of the status.
func (s BidStatus) String() string {
	switch s {
	case BidSubmitted:
		return "submitted"
	case BidPastDeadline:
		return "past_deadline"
	default:
		return "unknown"
	}
}
