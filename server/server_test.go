package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/peterldowns/testy/check"
	"golang.org/x/net/websocket"
)

const testHostToken = "000000000000000"

// testFrame is the union of every frame the server pushes, for decoding
// in tests.
type testFrame struct {
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	Error       string            `json:"error"`
	Message     string            `json:"message"`
	Room        *RoomDetails      `json:"room"`
	Report      *SettlementReport `json:"report"`
	BidderToken string            `json:"bidder_token"`
	Quantity    uint64            `json:"quantity"`
	Price       string            `json:"price"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(Config{HostToken: testHostToken, MaxRooms: 8})
	check.Nil(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func createRoom(t *testing.T, ts *httptest.Server, req CreateRoomRequest) string {
	t.Helper()
	body, err := json.Marshal(req)
	check.Nil(t, err)

	resp, err := http.Post(ts.URL+"/rooms", "application/json", bytes.NewReader(body))
	check.Nil(t, err)
	defer func() { _ = resp.Body.Close() }()
	check.Equal(t, http.StatusCreated, resp.StatusCode)

	var created CreateRoomResponse
	check.Nil(t, json.NewDecoder(resp.Body).Decode(&created))
	return created.RoomID
}

func joinRoom(t *testing.T, ts *httptest.Server, roomID string) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/rooms/"+roomID+"/join", "application/json", nil)
	check.Nil(t, err)
	defer func() { _ = resp.Body.Close() }()
	check.Equal(t, http.StatusOK, resp.StatusCode)

	var joined JoinResponse
	check.Nil(t, json.NewDecoder(resp.Body).Decode(&joined))
	return joined.BidderToken
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, err := websocket.Dial(wsURL, "", ts.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrameOfType skips unrelated broadcasts until the wanted frame type
// arrives.
func readFrameOfType(t *testing.T, dec *json.Decoder, frameType string) testFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		var frame testFrame
		if err := dec.Decode(&frame); err != nil {
			t.Fatalf("decoding frame: %v", err)
		}
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame received", frameType)
	return testFrame{}
}

func TestCreateRoom_RejectsBadHostToken(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(CreateRoomRequest{
		Asset:     "ACME",
		Shares:    1000,
		Deadline:  time.Now().Add(time.Hour),
		HostToken: "wrong",
	})
	resp, err := http.Post(ts.URL+"/rooms", "application/json", bytes.NewReader(body))
	check.Nil(t, err)
	defer func() { _ = resp.Body.Close() }()
	check.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreateRoom_RejectsZeroShares(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(CreateRoomRequest{
		Asset:     "ACME",
		Shares:    0,
		Deadline:  time.Now().Add(time.Hour),
		HostToken: testHostToken,
	})
	resp, err := http.Post(ts.URL+"/rooms", "application/json", bytes.NewReader(body))
	check.Nil(t, err)
	defer func() { _ = resp.Body.Close() }()
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)

	roomID := createRoom(t, ts, CreateRoomRequest{
		Asset:     "ACME",
		Shares:    1000,
		Deadline:  time.Now().Add(time.Hour),
		Currency:  "USD",
		HostToken: testHostToken,
	})

	resp, err := http.Get(ts.URL + "/rooms/" + roomID)
	check.Nil(t, err)
	var details RoomDetails
	check.Nil(t, json.NewDecoder(resp.Body).Decode(&details))
	_ = resp.Body.Close()
	check.Equal(t, roomID, details.RoomID)
	check.Equal(t, "ACME", details.Asset)
	check.False(t, details.Settled)

	token := joinRoom(t, ts, roomID)
	check.Equal(t, 5, len(token))

	resp, err = http.Get(ts.URL + "/rooms/" + roomID + "/bidders/" + token)
	check.Nil(t, err)
	var status BidderStatus
	check.Nil(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	check.Equal(t, token, status.BidderToken)
	check.Equal(t, "in_progress", status.Outcome.State)
}

func TestUnknownRoomIs404(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/rooms/nope")
	check.Nil(t, err)
	_ = resp.Body.Close()
	check.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBidderSocket_SubmitBid(t *testing.T) {
	_, ts := newTestServer(t)

	roomID := createRoom(t, ts, CreateRoomRequest{
		Asset:     "ACME",
		Shares:    1000,
		Deadline:  time.Now().Add(time.Hour),
		HostToken: testHostToken,
	})
	token := joinRoom(t, ts, roomID)

	conn := dialWS(t, ts, "/rooms/"+roomID+"/bid/"+token)
	dec := json.NewDecoder(conn)

	details := readFrameOfType(t, dec, frameTypeRoomDetails)
	check.Equal(t, roomID, details.Room.RoomID)

	check.Nil(t, websocket.JSON.Send(conn, bidFrame{Type: frameTypeBid, Quantity: 250, Price: "5.00"}))

	ack := readFrameOfType(t, dec, frameTypeBidResult)
	check.Equal(t, "submitted", ack.Status)

	resp, err := http.Get(ts.URL + "/rooms/" + roomID + "/bidders/" + token)
	check.Nil(t, err)
	var status BidderStatus
	check.Nil(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	check.NotNil(t, status.Bid)
	check.Equal(t, uint64(250), status.Bid.Quantity)
}

func TestBidderSocket_RejectsMalformedBid(t *testing.T) {
	_, ts := newTestServer(t)

	roomID := createRoom(t, ts, CreateRoomRequest{
		Asset:     "ACME",
		Shares:    1000,
		Deadline:  time.Now().Add(time.Hour),
		HostToken: testHostToken,
	})
	token := joinRoom(t, ts, roomID)

	conn := dialWS(t, ts, "/rooms/"+roomID+"/bid/"+token)
	dec := json.NewDecoder(conn)
	readFrameOfType(t, dec, frameTypeRoomDetails)

	check.Nil(t, websocket.JSON.Send(conn, bidFrame{Type: frameTypeBid, Quantity: 0, Price: "1.00"}))
	ack := readFrameOfType(t, dec, frameTypeBidResult)
	check.Equal(t, "invalid bid", ack.Error)

	check.Nil(t, websocket.JSON.Send(conn, bidFrame{Type: frameTypeBid, Quantity: 10, Price: "-1"}))
	ack = readFrameOfType(t, dec, frameTypeBidResult)
	check.Equal(t, "invalid bid", ack.Error)
}

func TestBidderSocket_UnknownBidder(t *testing.T) {
	_, ts := newTestServer(t)

	roomID := createRoom(t, ts, CreateRoomRequest{
		Asset:     "ACME",
		Shares:    1000,
		Deadline:  time.Now().Add(time.Hour),
		HostToken: testHostToken,
	})

	conn := dialWS(t, ts, "/rooms/"+roomID+"/bid/zzzzz")
	dec := json.NewDecoder(conn)

	frame := readFrameOfType(t, dec, frameTypeError)
	check.Equal(t, "unknown bidder", frame.Message)
}

func TestWatchSocket_SeesAcceptedBids(t *testing.T) {
	_, ts := newTestServer(t)

	roomID := createRoom(t, ts, CreateRoomRequest{
		Asset:     "ACME",
		Shares:    1000,
		Deadline:  time.Now().Add(time.Hour),
		HostToken: testHostToken,
	})
	token := joinRoom(t, ts, roomID)

	watch := dialWS(t, ts, "/rooms/"+roomID+"/watch?host_token="+testHostToken)
	watchDec := json.NewDecoder(watch)
	readFrameOfType(t, watchDec, frameTypeRoomDetails)

	bidder := dialWS(t, ts, "/rooms/"+roomID+"/bid/"+token)
	bidderDec := json.NewDecoder(bidder)
	readFrameOfType(t, bidderDec, frameTypeRoomDetails)

	check.Nil(t, websocket.JSON.Send(bidder, bidFrame{Type: frameTypeBid, Quantity: 400, Price: "8.00"}))
	readFrameOfType(t, bidderDec, frameTypeBidResult)

	accepted := readFrameOfType(t, watchDec, frameTypeBidAccepted)
	check.Equal(t, token, accepted.BidderToken)
	check.Equal(t, uint64(400), accepted.Quantity)
	check.Equal(t, "8", accepted.Price)
}

func TestWatchSocket_RejectsBadHostToken(t *testing.T) {
	_, ts := newTestServer(t)

	roomID := createRoom(t, ts, CreateRoomRequest{
		Asset:     "ACME",
		Shares:    1000,
		Deadline:  time.Now().Add(time.Hour),
		HostToken: testHostToken,
	})

	conn := dialWS(t, ts, "/rooms/"+roomID+"/watch?host_token=wrong")
	dec := json.NewDecoder(conn)
	frame := readFrameOfType(t, dec, frameTypeError)
	check.Equal(t, "invalid host token", frame.Message)
}

func TestLateBidIsRefused(t *testing.T) {
	_, ts := newTestServer(t)

	// Join before the imminent deadline, bid only after settlement: the
	// bid is refused as late and the bidder ends up with nothing.
	roomID := createRoom(t, ts, CreateRoomRequest{
		Asset:     "ACME",
		Shares:    1000,
		Deadline:  time.Now().Add(500 * time.Millisecond),
		HostToken: testHostToken,
	})
	token := joinRoom(t, ts, roomID)
	waitForSettled(t, ts, roomID)

	conn := dialWS(t, ts, "/rooms/"+roomID+"/bid/"+token)
	dec := json.NewDecoder(conn)
	readFrameOfType(t, dec, frameTypeRoomDetails)

	check.Nil(t, websocket.JSON.Send(conn, bidFrame{Type: frameTypeBid, Quantity: 10, Price: "100.00"}))
	ack := readFrameOfType(t, dec, frameTypeBidResult)
	check.Equal(t, "past_deadline", ack.Status)

	resp, err := http.Get(ts.URL + "/rooms/" + roomID + "/bidders/" + token)
	check.Nil(t, err)
	var status BidderStatus
	check.Nil(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	check.Equal(t, "failure", status.Outcome.State)
	check.Nil(t, status.Bid)
}

func TestReport_JSONAndCBOR(t *testing.T) {
	_, ts := newTestServer(t)

	roomID := createRoom(t, ts, CreateRoomRequest{
		Asset:     "ACME",
		Shares:    100,
		Deadline:  time.Now().Add(500 * time.Millisecond),
		Currency:  "USD",
		HostToken: testHostToken,
	})
	joinRoom(t, ts, roomID)
	waitForSettled(t, ts, roomID)

	resp, err := http.Get(ts.URL + "/rooms/" + roomID + "/report")
	check.Nil(t, err)
	var jsonReport SettlementReport
	check.Nil(t, json.NewDecoder(resp.Body).Decode(&jsonReport))
	_ = resp.Body.Close()
	check.True(t, jsonReport.Settled)
	check.Equal(t, 1, len(jsonReport.Outcomes))
	check.Equal(t, "failure", jsonReport.Outcomes[0].State)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/rooms/"+roomID+"/report", nil)
	check.Nil(t, err)
	req.Header.Set("Accept", contentTypeCBOR)
	resp, err = http.DefaultClient.Do(req)
	check.Nil(t, err)
	check.Equal(t, contentTypeCBOR, resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	check.Nil(t, err)

	var cborReport SettlementReport
	check.Nil(t, cbor.Unmarshal(data, &cborReport))
	check.Equal(t, jsonReport, cborReport)
}

func waitForSettled(t *testing.T, ts *httptest.Server, roomID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/rooms/" + roomID + "/report")
		check.Nil(t, err)
		var report SettlementReport
		check.Nil(t, json.NewDecoder(resp.Body).Decode(&report))
		_ = resp.Body.Close()
		if report.Settled {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("room never settled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
