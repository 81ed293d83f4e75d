package core

import "github.com/shopspring/decimal"

// Tabulate settles the auction and returns the settled flag. It is
// idempotent: once settled, further calls return true without
// recomputation.
//
// Bids are walked in ranking order, accumulating filled quantity. The
// clearing price is overwritten on every accepted bid, so after the walk
// it equals the marginal bid's unit price and every winner pays that
// uniform rate rather than their own. The marginal bid is clamped to the
// remaining supply. If the walk exhausts all bids without reaching the
// offered share count, the auction fails entirely; no partial clearing is
// performed at lower supply.
func (a *Auction) Tabulate() bool {
	if a.settled {
		return a.settled
	}
	a.settled = true

	var (
		clearingPrice decimal.Decimal
		filled        uint64
		winners       = make(map[string]uint64)
	)
	for _, bid := range rankBids(a.bids) {
		if filled >= a.shares {
			break
		}
		clearingPrice = bid.UnitPrice()
		allocated := bid.Quantity
		if filled+allocated > a.shares {
			allocated = a.shares - filled
		}
		filled += bid.Quantity
		winners[bid.Bidder] = allocated
	}

	if filled < a.shares {
		for token := range a.results {
			a.results[token] = AuctionResult{State: ResultFailure}
		}
		return a.settled
	}

	for token := range a.results {
		allocated, won := winners[token]
		if !won {
			a.results[token] = AuctionResult{State: ResultFailure}
			continue
		}
		a.results[token] = AuctionResult{
			State:    ResultSuccess,
			Quantity: allocated,
			Price:    clearingPrice.Mul(decimal.NewFromUint64(allocated)),
		}
	}
	return a.settled
}
