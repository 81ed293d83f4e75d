package core

import "sort"

// rankBids collects the live bids into settlement order: unit price
// descending, earlier submission first on an exact price tie.
func rankBids(bids map[string]Bid) []Bid {
	ranked := make([]Bid, 0, len(bids))
	for _, bid := range bids {
		ranked = append(ranked, bid)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Compare(ranked[j]) > 0
	})
	return ranked
}
