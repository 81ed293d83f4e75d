package server

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/windmill-trade/windmill/core"
)

// ErrRoomLimit is returned when the hub's room cap is reached.
var ErrRoomLimit = errors.New("room limit reached")

// peer is one live websocket connection. Sends are serialized so
// broadcasts from different goroutines do not interleave frames.
type peer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPeer(w io.Writer) *peer {
	return &peer{enc: json.NewEncoder(w)}
}

func (p *peer) send(frame any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(frame)
}

// Hub tracks live auction rooms by id.
type Hub struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	maxRooms int
}

// NewHub returns an empty hub capped at maxRooms open rooms (zero for no
// cap).
func NewHub(maxRooms int) *Hub {
	return &Hub{rooms: make(map[string]*Room), maxRooms: maxRooms}
}

// CreateRoom opens a room around a fresh auction ledger and schedules its
// deadline settlement.
func (h *Hub) CreateRoom(asset string, shares uint64, deadline time.Time, currency string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxRooms > 0 && len(h.rooms) >= h.maxRooms {
		return nil, ErrRoomLimit
	}

	room := newRoom(asset, shares, deadline, currency)
	h.rooms[room.ID] = room
	room.scheduleSettlement()

	logrus.Infof("room %s opened: asset=%s shares=%d deadline=%s", room.ID, asset, shares, deadline.Format(time.RFC3339))
	return room, nil
}

// Room returns the room with the given id, if open.
func (h *Hub) Room(id string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[id]
	return room, ok
}

// Room pairs one auction ledger with its live connections: many bidder
// sockets and the seller's watch sockets. Every mutating call into the
// ledger happens under mu, since the ledger itself is single-writer.
type Room struct {
	ID    string
	Asset string

	mu        sync.Mutex
	auction   *core.Auction
	bidders   map[*peer]string
	watchers  map[*peer]struct{}
	announced bool
	timer     *time.Timer
}

func newRoom(asset string, shares uint64, deadline time.Time, currency string) *Room {
	var opts []core.Option
	if currency != "" {
		opts = append(opts, core.WithCurrency(currency))
	}
	return &Room{
		ID:       uuid.NewString(),
		Asset:    asset,
		auction:  core.New(deadline, shares, opts...),
		bidders:  make(map[*peer]string),
		watchers: make(map[*peer]struct{}),
	}
}

// scheduleSettlement arms the deadline timer. The ledger only settles on
// its own when a late bid arrives, so the room drives tabulation even if
// every bidder goes quiet.
func (r *Room) scheduleSettlement() {
	r.timer = time.AfterFunc(time.Until(r.auction.Deadline()), r.Settle)
}

// Details returns a snapshot of the room's offer terms.
func (r *Room) Details() RoomDetails {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detailsLocked()
}

func (r *Room) detailsLocked() RoomDetails {
	return RoomDetails{
		RoomID:   r.ID,
		Asset:    r.Asset,
		Shares:   r.auction.Shares(),
		Deadline: r.auction.Deadline(),
		Currency: r.auction.Currency(),
		Settled:  r.auction.Settled(),
	}
}

// Join admits a bidder through the ledger and returns its token.
func (r *Room) Join() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.auction.Join()
}

// KnownBidder reports whether token has joined this room.
func (r *Room) KnownBidder(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.auction.Result(token)
	return ok
}

// BidderStatus returns the bidder's current result and live bid.
func (r *Room) BidderStatus(token string) (BidderStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.auction.Result(token)
	if !ok {
		return BidderStatus{}, false
	}
	status := BidderStatus{
		BidderToken: token,
		Outcome:     outcomeFor(token, res),
	}
	if bid, ok := r.auction.LookupBid(token); ok {
		status.Bid = &BidView{
			Quantity:    bid.Quantity,
			Price:       bid.Price.String(),
			SubmittedAt: bid.SubmittedAt,
		}
	}
	return status, true
}

// SubmitBid drives the ledger and fans out events: an admitted bid is
// announced to the watch connections, and a settlement triggered by a
// late bid is announced to everyone.
func (r *Room) SubmitBid(token string, quantity uint64, price decimal.Decimal, at time.Time) (core.BidStatus, error) {
	r.mu.Lock()
	status, err := r.auction.SubmitBid(core.Bid{
		Bidder:      token,
		Quantity:    quantity,
		Price:       price,
		SubmittedAt: at,
	})

	var watchers []*peer
	if err == nil && status == core.BidSubmitted {
		watchers = r.watchersLocked()
	}
	everyone, report, announce := r.settlementAnnouncementLocked()
	r.mu.Unlock()

	if watchers != nil {
		broadcast(watchers, bidAcceptedFrame{
			Type:        frameTypeBidAccepted,
			BidderToken: token,
			Quantity:    quantity,
			Price:       price.String(),
		})
	}
	if announce {
		logrus.Infof("room %s settled by late bid", r.ID)
		broadcast(everyone, settledFrame{Type: frameTypeAuctionSettled, Report: report})
	}
	return status, err
}

// Settle tabulates the auction and announces the outcome exactly once.
// Safe to call repeatedly; the ledger's tabulation is idempotent.
func (r *Room) Settle() {
	r.mu.Lock()
	r.auction.Tabulate()
	everyone, report, announce := r.settlementAnnouncementLocked()
	r.mu.Unlock()

	if announce {
		logrus.Infof("room %s settled at deadline", r.ID)
		broadcast(everyone, settledFrame{Type: frameTypeAuctionSettled, Report: report})
	}
}

// settlementAnnouncementLocked claims the one-time settlement broadcast.
func (r *Room) settlementAnnouncementLocked() ([]*peer, SettlementReport, bool) {
	if !r.auction.Settled() || r.announced {
		return nil, SettlementReport{}, false
	}
	r.announced = true
	return r.allPeersLocked(), r.reportLocked(), true
}

// Report builds a settlement report snapshot. Before settlement every
// outcome is still in progress.
func (r *Room) Report() SettlementReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportLocked()
}

func (r *Room) reportLocked() SettlementReport {
	results := r.auction.Results()
	outcomes := make([]BidderOutcome, 0, len(results))
	for token, res := range results {
		outcomes = append(outcomes, outcomeFor(token, res))
	}
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].BidderToken < outcomes[j].BidderToken
	})
	return SettlementReport{
		RoomID:   r.ID,
		Asset:    r.Asset,
		Currency: r.auction.Currency(),
		Settled:  r.auction.Settled(),
		Outcomes: outcomes,
	}
}

func outcomeFor(token string, res core.AuctionResult) BidderOutcome {
	out := BidderOutcome{BidderToken: token, State: res.State.String()}
	if res.State == core.ResultSuccess {
		out.Quantity = res.Quantity
		out.Payment = res.Price.String()
	}
	return out
}

func (r *Room) attachBidder(p *peer, token string) {
	r.mu.Lock()
	r.bidders[p] = token
	r.mu.Unlock()
}

func (r *Room) attachWatcher(p *peer) {
	r.mu.Lock()
	r.watchers[p] = struct{}{}
	r.mu.Unlock()
}

func (r *Room) detach(p *peer) {
	r.mu.Lock()
	delete(r.bidders, p)
	delete(r.watchers, p)
	r.mu.Unlock()
}

func (r *Room) watchersLocked() []*peer {
	peers := make([]*peer, 0, len(r.watchers))
	for p := range r.watchers {
		peers = append(peers, p)
	}
	return peers
}

func (r *Room) allPeersLocked() []*peer {
	peers := make([]*peer, 0, len(r.bidders)+len(r.watchers))
	for p := range r.bidders {
		peers = append(peers, p)
	}
	for p := range r.watchers {
		peers = append(peers, p)
	}
	return peers
}

func broadcast(peers []*peer, frame any) {
	for _, p := range peers {
		if err := p.send(frame); err != nil {
			logrus.Warnf("dropping frame to peer: %v", err)
		}
	}
}
