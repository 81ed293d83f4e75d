package core

import (
	"time"
)

// LatePolicy controls what submitting a bid at or after the deadline does
// besides being refused.
type LatePolicy int

const (
	// TabulateOnLateBid settles the auction as a side effect of the
	// first late submission.
	TabulateOnLateBid LatePolicy = iota

	// RejectLateBidOnly refuses the bid and leaves settlement to an
	// explicit Tabulate call.
	RejectLateBidOnly
)

// Option configures an Auction at construction.
type Option func(*Auction)

// WithLatePolicy selects the late-bid behavior. The default is
// TabulateOnLateBid.
func WithLatePolicy(p LatePolicy) Option {
	return func(a *Auction) { a.latePolicy = p }
}

// WithRandSource injects the randomness used for bidder tokens.
func WithRandSource(src RandSource) Option {
	return func(a *Auction) { a.randSource = src }
}

// WithCurrency sets the currency code attached to the auction. The core
// never converts currencies; the code is carried as-is.
func WithCurrency(code string) Option {
	return func(a *Auction) { a.currency = code }
}

// Auction is the ledger for one sealed-bid uniform-clearing-price share
// auction: the offer (deadline and share count), the admitted bidders,
// their live bids and each bidder's result.
//
// An Auction is not safe for concurrent use. Callers exposing it to many
// simultaneous bidders must serialize Join, SubmitBid and Tabulate against
// one instance; reads may run concurrently only when synchronized against
// writers.
type Auction struct {
	deadline   time.Time
	shares     uint64
	currency   string
	bids       map[string]Bid
	results    map[string]AuctionResult
	tokens     *TokenIssuer
	randSource RandSource
	latePolicy LatePolicy
	settled    bool
}

// New creates an auction offering the given share count with bidding open
// until deadline.
func New(deadline time.Time, shares uint64, opts ...Option) *Auction {
	a := &Auction{
		deadline: deadline,
		shares:   shares,
		currency: "USD",
		bids:     make(map[string]Bid),
		results:  make(map[string]AuctionResult),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.tokens = NewTokenIssuer(a.randSource)
	return a
}

// Deadline returns the submission deadline.
func (a *Auction) Deadline() time.Time { return a.deadline }

// Shares returns the offered share count.
func (a *Auction) Shares() uint64 { return a.shares }

// Currency returns the auction's currency code.
func (a *Auction) Currency() string { return a.currency }

// Settled reports whether tabulation has run.
func (a *Auction) Settled() bool { return a.settled }

// Join admits a new bidder: it issues a fresh token and opens an
// in-progress result slot for it. It fails only when the token issuer is
// exhausted.
func (a *Auction) Join() (string, error) {
	token, err := a.tokens.Issue()
	if err != nil {
		return "", err
	}
	a.results[token] = AuctionResult{State: ResultInProgress}
	return token, nil
}

// SubmitBid stores the bid for its bidder, replacing any earlier bid from
// the same token. Bids from tokens that never joined fail with
// ErrUnknownBidder; the returned status is meaningful only when the error
// is nil. Bids after settlement, or at or past the deadline, report
// BidPastDeadline without being admitted; with the default late policy a
// late bid additionally triggers tabulation.
func (a *Auction) SubmitBid(bid Bid) (BidStatus, error) {
	res, ok := a.results[bid.Bidder]
	if !ok {
		return 0, ErrUnknownBidder
	}
	if res.State != ResultInProgress {
		return BidPastDeadline, nil
	}
	if !bid.SubmittedAt.Before(a.deadline) {
		if a.latePolicy == TabulateOnLateBid {
			a.Tabulate()
		}
		return BidPastDeadline, nil
	}
	a.bids[bid.Bidder] = bid
	return BidSubmitted, nil
}

// LookupBid returns the live bid stored for token, if any. Read-only.
func (a *Auction) LookupBid(token string) (Bid, bool) {
	bid, ok := a.bids[token]
	return bid, ok
}

// Result returns the current result for token, if the token joined.
// Read-only.
func (a *Auction) Result(token string) (AuctionResult, bool) {
	res, ok := a.results[token]
	return res, ok
}

// Results returns a snapshot of every admitted bidder's result. Iteration
// order over the snapshot is unspecified.
func (a *Auction) Results() map[string]AuctionResult {
	snapshot := make(map[string]AuctionResult, len(a.results))
	for token, res := range a.results {
		snapshot[token] = res
	}
	return snapshot
}
