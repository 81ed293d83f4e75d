package server

import "time"

// CreateRoomRequest opens a new auction room. HostToken must match the
// server's seller credential.
type CreateRoomRequest struct {
	Asset     string    `json:"asset"`
	Shares    uint64    `json:"shares"`
	Deadline  time.Time `json:"deadline"`
	Currency  string    `json:"currency,omitempty"`
	HostToken string    `json:"host_token"`
}

// CreateRoomResponse carries the identifier of a freshly opened room.
type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

// RoomDetails mirrors the offer terms of a room's auction.
type RoomDetails struct {
	RoomID   string    `json:"room_id"`
	Asset    string    `json:"asset"`
	Shares   uint64    `json:"shares"`
	Deadline time.Time `json:"deadline"`
	Currency string    `json:"currency"`
	Settled  bool      `json:"settled"`
}

// JoinResponse carries the bidder token issued on joining a room.
type JoinResponse struct {
	BidderToken string `json:"bidder_token"`
}

// BidView is the bidder's own live bid as stored by the ledger.
type BidView struct {
	Quantity    uint64    `json:"quantity"`
	Price       string    `json:"price"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// BidderOutcome is one bidder's entry in a settlement report. Quantity and
// Payment are present only for successful bidders.
type BidderOutcome struct {
	BidderToken string `json:"bidder_token"`
	State       string `json:"state"`
	Quantity    uint64 `json:"quantity,omitempty"`
	Payment     string `json:"payment,omitempty"`
}

// BidderStatus is the per-bidder inspection response: the current result
// and, if one is stored, the live bid.
type BidderStatus struct {
	BidderToken string        `json:"bidder_token"`
	Outcome     BidderOutcome `json:"outcome"`
	Bid         *BidView      `json:"bid,omitempty"`
}

// SettlementReport is the full outcome of a room's auction. Outcomes are
// sorted by token for stable output; consumers must not read meaning into
// the order.
type SettlementReport struct {
	RoomID   string          `json:"room_id"`
	Asset    string          `json:"asset"`
	Currency string          `json:"currency"`
	Settled  bool            `json:"settled"`
	Outcomes []BidderOutcome `json:"outcomes"`
}

// bidFrame is sent by a bidder over its websocket connection.
type bidFrame struct {
	Type     string `json:"type"`
	Quantity uint64 `json:"quantity"`
	Price    string `json:"price"`
}

// detailsFrame is pushed to a peer right after it connects.
type detailsFrame struct {
	Type string      `json:"type"`
	Room RoomDetails `json:"room"`
}

// bidResultFrame acknowledges one bid submission to its sender.
type bidResultFrame struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// bidAcceptedFrame announces an admitted bid to the seller's watch
// connections. Bids stay sealed from other bidders until settlement.
type bidAcceptedFrame struct {
	Type        string `json:"type"`
	BidderToken string `json:"bidder_token"`
	Quantity    uint64 `json:"quantity"`
	Price       string `json:"price"`
}

// settledFrame announces settlement to every connected peer.
type settledFrame struct {
	Type   string           `json:"type"`
	Report SettlementReport `json:"report"`
}

// errorFrame reports a connection-level problem before closing.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

const (
	frameTypeBid            = "bid"
	frameTypeRoomDetails    = "room_details"
	frameTypeBidResult      = "bid_result"
	frameTypeBidAccepted    = "bid_accepted"
	frameTypeAuctionSettled = "auction_settled"
	frameTypeError          = "error"
)
