package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/room"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testEpoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock   *clockwork.FakeClock
	store   *store.MemoryStore
	service *Service
	server  *httptest.Server
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	st := store.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := NewService(ctx, DefaultConfig(), Deps{Store: st, Clock: clock})
	require.NoError(t, err)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	h := &harness{
		clock:   clock,
		store:   st,
		service: svc,
		server:  httptest.NewServer(mux),
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() { h.done <- svc.Start(ctx) }()
	return h
}

func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}
	h.server.Close()
}

func (h *harness) createAuction(t *testing.T, startingBid string) *models.Auction {
	t.Helper()
	a, err := h.service.Auctions().CreateAuction(context.Background(), models.AuctionDefinition{
		ProductID:   "sku-" + uuid.NewString()[:8],
		Biddable:    true,
		StartingBid: decimal.RequireFromString(startingBid),
		StartTime:   testEpoch,
		EndTime:     testEpoch.Add(time.Hour),
	})
	require.NoError(t, err)
	return a
}

func (h *harness) stats(t *testing.T) map[string]any {
	t.Helper()
	resp, err := http.Get(h.server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	return stats
}

type viewer struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan *events.Envelope
	nextID int
}

func (h *harness) dial(t *testing.T) *viewer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/auction"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	v := &viewer{t: t, conn: conn, frames: make(chan *events.Envelope, 64)}
	go func() {
		defer close(v.frames)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := events.DecodeEnvelope(frame)
			if err != nil {
				continue
			}
			v.frames <- env
		}
	}()
	return v
}

func (v *viewer) send(msgType events.MessageType, auctionID uuid.UUID, data any) string {
	v.t.Helper()
	v.nextID++
	id := fmt.Sprintf("%s-%d", msgType, v.nextID)
	aid := ""
	if auctionID != uuid.Nil {
		aid = auctionID.String()
	}
	env, err := events.NewEnvelope(msgType, id, aid, data)
	require.NoError(v.t, err)
	require.NoError(v.t, v.conn.WriteJSON(env))
	return id
}

// expect skips frames until one of msgType satisfies match.
func (v *viewer) expect(msgType events.MessageType, match func(env *events.Envelope) bool) *events.Envelope {
	v.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-v.frames:
			require.True(v.t, ok, "connection closed while waiting for %s", msgType)
			if env.Type == msgType && (match == nil || match(env)) {
				return env
			}
		case <-deadline:
			v.t.Fatalf("timed out waiting for %s", msgType)
			return nil
		}
	}
}

func (v *viewer) ack(ref string) events.Ack {
	v.t.Helper()
	env := v.expect(events.MessageAck, func(env *events.Envelope) bool {
		var a events.Ack
		return env.DecodeData(&a) == nil && a.Ref == ref
	})
	var a events.Ack
	require.NoError(v.t, env.DecodeData(&a))
	return a
}

func participantCount(count int, action room.Action) func(env *events.Envelope) bool {
	return func(env *events.Envelope) bool {
		var p events.ParticipantUpdatePayload
		return env.DecodeData(&p) == nil && p.ParticipantCount == count && p.Action == string(action)
	}
}

func decodeRaw(raw json.RawMessage, dst any) error {
	return json.Unmarshal(raw, dst)
}

func TestGateway_EndToEnd(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	h := newHarness(t)
	a := h.createAuction(t, "10")

	alice := h.dial(t)
	welcome := alice.expect(events.MessageWelcome, nil)
	var wd events.WelcomeData
	require.NoError(t, welcome.DecodeData(&wd))
	assert.NotEmpty(t, wd.ConnectionID)

	ack := alice.ack(alice.send(events.MessageJoin, a.ID, nil))
	require.True(t, ack.Success, ack.Error)
	var joined events.JoinAckData
	require.NoError(t, decodeRaw(ack.Data, &joined))
	assert.Equal(t, 1, joined.ParticipantCount)

	bob := h.dial(t)
	bob.expect(events.MessageWelcome, nil)
	ack = bob.ack(bob.send(events.MessageJoin, a.ID, nil))
	require.True(t, ack.Success, ack.Error)
	alice.expect(events.MessageUpdate, participantCount(2, room.ActionJoined))

	stats := h.stats(t)
	assert.EqualValues(t, 2, stats["total_connections"])
	assert.GreaterOrEqual(t, stats["stalest_pong_seconds"], 0.0)
	assert.Less(t, stats["stalest_pong_seconds"], DefaultConnectionConfig().ReadTimeout.Seconds())

	ack = bob.ack(bob.send(events.MessageBid, a.ID, events.BidRequestData{
		Amount:     decimal.RequireFromString("12"),
		BidderID:   "bob",
		BidderName: "Bob",
	}))
	require.True(t, ack.Success, ack.Error)
	var bidAck events.BidAckData
	require.NoError(t, decodeRaw(ack.Data, &bidAck))
	assert.EqualValues(t, 1, bidAck.Sequence)

	accepted := alice.expect(events.MessageBidAccepted, nil)
	var payload events.BidAcceptedPayload
	require.NoError(t, accepted.DecodeData(&payload))
	assert.Equal(t, "bob", payload.Bidder.ID)
	assert.True(t, payload.Amount.Equal(decimal.RequireFromString("12")))

	// A bid at the current price is rejected with the minimum that would qualify.
	ack = alice.ack(alice.send(events.MessageBid, a.ID, events.BidRequestData{
		Amount:     decimal.RequireFromString("12"),
		BidderID:   "alice",
		BidderName: "Alice",
	}))
	assert.False(t, ack.Success)
	assert.Equal(t, auctionerrors.ReasonBidTooLow, ack.Reason)
	require.NotNil(t, ack.MinimumBid)
	assert.True(t, ack.MinimumBid.Equal(decimal.RequireFromString("12.01")))

	require.True(t, h.service.broadcaster.Pending(a.ID))
	h.clock.Advance(DefaultSnapshotDebounce)

	snapEnv := alice.expect(events.MessageStateSnapshot, nil)
	var snap events.Snapshot
	require.NoError(t, snapEnv.DecodeData(&snap))
	assert.True(t, snap.Auction.CurrentBid.Equal(decimal.RequireFromString("12")))
	assert.EqualValues(t, 1, snap.Auction.TotalBids)
	assert.Equal(t, 2, snap.Auction.ParticipantCount)
	require.Len(t, snap.BidHistory, 1)
	assert.Equal(t, "bob", snap.BidHistory[0].Bidder.ID)

	ack = alice.ack(alice.send(events.MessageStatus, uuid.Nil, nil))
	require.True(t, ack.Success, ack.Error)

	require.NoError(t, bob.conn.Close())
	alice.expect(events.MessageUpdate, participantCount(1, room.ActionDisconnected))
	assert.Eventually(t, func() bool {
		stored, err := h.store.GetAuction(context.Background(), a.ID)
		return err == nil && stored.ParticipantCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.shutdown(t)
	_, open := <-alice.frames
	for open {
		_, open = <-alice.frames
	}
	alice.conn.Close()

	goleak.VerifyNone(t, ignore)
}

func TestGateway_RequestStateUpdate(t *testing.T) {
	h := newHarness(t)
	defer h.shutdown(t)
	a := h.createAuction(t, "5")

	v := h.dial(t)
	defer v.conn.Close()

	ack := v.ack(v.send(events.MessageRequestStateUpdate, a.ID, nil))
	require.True(t, ack.Success, ack.Error)

	env := v.expect(events.MessageStateSnapshot, nil)
	var snap events.Snapshot
	require.NoError(t, env.DecodeData(&snap))
	assert.Equal(t, a.ID.String(), snap.Auction.AuctionID)
	assert.True(t, snap.Auction.MinimumBid.Equal(decimal.RequireFromString("5.01")))
}

func TestGateway_StatusFromNonMemberDoesNotPinCache(t *testing.T) {
	h := newHarness(t)
	defer h.shutdown(t)
	a := h.createAuction(t, "10")

	v := h.dial(t)
	defer v.conn.Close()
	v.expect(events.MessageWelcome, nil)

	ack := v.ack(v.send(events.MessageStatus, a.ID, nil))
	require.True(t, ack.Success, ack.Error)
	var status events.StatusAckData
	require.NoError(t, decodeRaw(ack.Data, &status))
	assert.False(t, status.Joined)
	assert.Equal(t, 1, h.service.Cache().Len())

	h.clock.Advance(room.DefaultGracePeriod)
	assert.Eventually(t, func() bool {
		return h.service.Cache().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_EvictionOfRoomlessAuctionClearsBroadcastState(t *testing.T) {
	h := newHarness(t)
	defer h.shutdown(t)
	a := h.createAuction(t, "10")

	res, err := h.service.committer.CommitBid(context.Background(), auction.BidRequest{
		AuctionID:  a.ID,
		Amount:     decimal.RequireFromString("11"),
		BidderID:   "carol",
		BidderName: "Carol",
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)
	assert.Equal(t, 1, h.service.broadcaster.tracked())

	// The debounced snapshot fires in the same window and may briefly hold the entry,
	// which postpones eviction by another grace period.
	assert.Eventually(t, func() bool {
		h.clock.Advance(room.DefaultGracePeriod)
		return h.service.Cache().Len() == 0 && h.service.broadcaster.tracked() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_MalformedRequestsAreAcked(t *testing.T) {
	h := newHarness(t)
	defer h.shutdown(t)

	v := h.dial(t)
	defer v.conn.Close()
	v.expect(events.MessageWelcome, nil)

	ack := v.ack(v.send(events.MessageJoin, uuid.New(), nil))
	assert.False(t, ack.Success)
	assert.Equal(t, auctionerrors.ReasonNotFound, ack.Reason)

	ack = v.ack(v.send("shout", uuid.New(), nil))
	assert.False(t, ack.Success)
	assert.Equal(t, auctionerrors.ReasonValidation, ack.Reason)

	env, err := events.NewEnvelope(events.MessageBid, "bad-id", "not-a-uuid", nil)
	require.NoError(t, err)
	require.NoError(t, v.conn.WriteJSON(env))
	ack = v.ack("bad-id")
	assert.False(t, ack.Success)
	assert.Equal(t, auctionerrors.ReasonValidation, ack.Reason)
}
