// Package server exposes auction rooms over HTTP and websockets: sellers
// open rooms and watch bids arrive, bidders join and submit sealed bids
// over a live connection, and every peer hears the settlement. The auction
// semantics live entirely in the core package; this layer only routes,
// serializes and broadcasts.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"github.com/windmill-trade/windmill/core"
)

const contentTypeCBOR = "application/cbor"

// Server serves the room API and live auction connections.
type Server struct {
	cfg       Config
	hub       *Hub
	hostToken string
}

// New builds a server from cfg. Unless overridden by configuration, the
// seller credential is three concatenated bidder-sized tokens, logged at
// startup for the operator.
func New(cfg Config) (*Server, error) {
	hostToken := cfg.HostToken
	if hostToken == "" {
		var err error
		hostToken, err = newHostToken()
		if err != nil {
			return nil, fmt.Errorf("generate host token: %w", err)
		}
	}
	logrus.Infof("host token: %s", hostToken)

	return &Server{
		cfg:       cfg,
		hub:       NewHub(cfg.MaxRooms),
		hostToken: hostToken,
	}, nil
}

func newHostToken() (string, error) {
	issuer := core.NewTokenIssuer(nil)
	var b strings.Builder
	for i := 0; i < 3; i++ {
		token, err := issuer.Issue()
		if err != nil {
			return "", err
		}
		b.WriteString(token)
	}
	return b.String(), nil
}

// Handler returns the HTTP handler for the room API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /rooms/{id}", s.handleRoomDetails)
	mux.HandleFunc("POST /rooms/{id}/join", s.handleJoin)
	mux.HandleFunc("GET /rooms/{id}/bidders/{token}", s.handleBidderStatus)
	mux.HandleFunc("GET /rooms/{id}/report", s.handleReport)
	mux.Handle("GET /rooms/{id}/bid/{token}", websocket.Handler(s.handleBidderSocket))
	mux.Handle("GET /rooms/{id}/watch", websocket.Handler(s.handleWatchSocket))
	return mux
}

// ListenAndServe blocks serving the configured address.
func (s *Server) ListenAndServe() error {
	logrus.Infof("windmill server listening on %s", s.cfg.Addr)
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HostToken != s.hostToken {
		logrus.Warnf("room creation refused: bad host token from %s", r.RemoteAddr)
		httpError(w, http.StatusForbidden, "invalid host token")
		return
	}
	if req.Asset == "" {
		httpError(w, http.StatusBadRequest, "asset is required")
		return
	}
	if req.Shares == 0 {
		httpError(w, http.StatusBadRequest, "shares must be positive")
		return
	}
	if req.Deadline.IsZero() {
		httpError(w, http.StatusBadRequest, "deadline is required")
		return
	}

	room, err := s.hub.CreateRoom(req.Asset, req.Shares, req.Deadline, req.Currency)
	if err != nil {
		httpError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, CreateRoomResponse{RoomID: room.ID})
}

func (s *Server) handleRoomDetails(w http.ResponseWriter, r *http.Request) {
	room, ok := s.hub.Room(r.PathValue("id"))
	if !ok {
		httpError(w, http.StatusNotFound, "unknown room")
		return
	}
	writeJSON(w, http.StatusOK, room.Details())
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	room, ok := s.hub.Room(r.PathValue("id"))
	if !ok {
		httpError(w, http.StatusNotFound, "unknown room")
		return
	}
	token, err := room.Join()
	if err != nil {
		logrus.Errorf("room %s join failed: %v", room.ID, err)
		httpError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{BidderToken: token})
}

func (s *Server) handleBidderStatus(w http.ResponseWriter, r *http.Request) {
	room, ok := s.hub.Room(r.PathValue("id"))
	if !ok {
		httpError(w, http.StatusNotFound, "unknown room")
		return
	}
	status, ok := room.BidderStatus(r.PathValue("token"))
	if !ok {
		httpError(w, http.StatusNotFound, "unknown bidder")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleReport serves the settlement report as JSON, or CBOR when the
// client asks for it.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	room, ok := s.hub.Room(r.PathValue("id"))
	if !ok {
		httpError(w, http.StatusNotFound, "unknown room")
		return
	}
	report := room.Report()

	if strings.Contains(r.Header.Get("Accept"), contentTypeCBOR) {
		data, err := cbor.Marshal(report)
		if err != nil {
			logrus.Errorf("room %s report encoding failed: %v", room.ID, err)
			httpError(w, http.StatusInternalServerError, "encoding failed")
			return
		}
		w.Header().Set("Content-Type", contentTypeCBOR)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleBidderSocket runs one bidder's live connection: it streams bid
// frames in and acks, watch events and the settlement broadcast out.
func (s *Server) handleBidderSocket(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	p := newPeer(conn)
	req := conn.Request()

	room, ok := s.hub.Room(req.PathValue("id"))
	if !ok {
		_ = p.send(errorFrame{Type: frameTypeError, Message: "unknown room"})
		return
	}
	token := req.PathValue("token")
	if !room.KnownBidder(token) {
		_ = p.send(errorFrame{Type: frameTypeError, Message: "unknown bidder"})
		return
	}

	room.attachBidder(p, token)
	defer room.detach(p)

	_ = p.send(detailsFrame{Type: frameTypeRoomDetails, Room: room.Details()})

	dec := json.NewDecoder(conn)
	for {
		var frame bidFrame
		if err := dec.Decode(&frame); err != nil {
			return
		}
		if frame.Type != frameTypeBid {
			_ = p.send(errorFrame{Type: frameTypeError, Message: "unsupported frame type"})
			continue
		}
		price, err := decimal.NewFromString(frame.Price)
		if err != nil || price.Sign() <= 0 || frame.Quantity == 0 {
			_ = p.send(bidResultFrame{Type: frameTypeBidResult, Error: "invalid bid"})
			continue
		}

		status, err := room.SubmitBid(token, frame.Quantity, price, time.Now().UTC())
		if err != nil {
			_ = p.send(bidResultFrame{Type: frameTypeBidResult, Error: err.Error()})
			continue
		}
		_ = p.send(bidResultFrame{Type: frameTypeBidResult, Status: status.String()})
	}
}

// handleWatchSocket runs a seller connection: read-only, credentialed by
// the host token, receiving bid-accepted and settlement events.
func (s *Server) handleWatchSocket(conn *websocket.Conn) {
	defer func() { _ = conn.Close() }()

	p := newPeer(conn)
	req := conn.Request()

	if req.URL.Query().Get("host_token") != s.hostToken {
		_ = p.send(errorFrame{Type: frameTypeError, Message: "invalid host token"})
		return
	}
	room, ok := s.hub.Room(req.PathValue("id"))
	if !ok {
		_ = p.send(errorFrame{Type: frameTypeError, Message: "unknown room"})
		return
	}

	room.attachWatcher(p)
	defer room.detach(p)

	_ = p.send(detailsFrame{Type: frameTypeRoomDetails, Room: room.Details()})

	// Drain until the client hangs up; watchers never send frames.
	buf := make([]byte, 512)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("encoding response: %v", err)
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
