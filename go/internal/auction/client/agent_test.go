package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeServer answers agent requests the way the gateway does.
type fakeServer struct {
	mu         sync.Mutex
	auctionID  uuid.UUID
	current    decimal.Decimal
	history    []events.BidEntry
	sequence   int64
	rejectBids bool
	silentBids bool
	failDials  int
	dials      int
	dialers    int
	received   []events.MessageType
	conns      []*fakeConn
}

func newFakeServer(auctionID uuid.UUID) *fakeServer {
	return &fakeServer{auctionID: auctionID, current: decimal.NewFromInt(10)}
}

func (s *fakeServer) factory() DialerFactory {
	return func() Dialer {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dialers++
		return fakeDialer{server: s}
	}
}

// commit records a bid as if another viewer placed it.
func (s *fakeServer) commit(amount, bidder string, at time.Time) events.BidEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(decimal.RequireFromString(amount), bidder, at)
}

func (s *fakeServer) commitLocked(amount decimal.Decimal, bidder string, at time.Time) events.BidEntry {
	s.sequence++
	s.current = amount
	e := events.BidEntry{
		BidID:     uuid.NewString(),
		Amount:    amount,
		Bidder:    events.Bidder{ID: bidder, Name: bidder},
		Timestamp: at,
		Sequence:  s.sequence,
	}
	s.history = append([]events.BidEntry{e}, s.history...)
	return e
}

func (s *fakeServer) snapshotLocked() events.Snapshot {
	return events.Snapshot{
		Auction: events.AuctionSummary{
			AuctionID:  s.auctionID.String(),
			Status:     "active",
			CurrentBid: s.current,
			MinimumBid: s.current.Add(decimal.New(1, -2)),
			TotalBids:  s.sequence,
		},
		BidHistory: append([]events.BidEntry(nil), s.history...),
		Source:     events.SourceStore,
	}
}

func (s *fakeServer) count(msgType events.MessageType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.received {
		if t == msgType {
			n++
		}
	}
	return n
}

func (s *fakeServer) dropAll() {
	s.mu.Lock()
	conns := append([]*fakeConn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *fakeServer) push(msgType events.MessageType, data any) {
	s.mu.Lock()
	conns := append([]*fakeConn(nil), s.conns...)
	s.mu.Unlock()
	env, _ := events.NewEnvelope(msgType, "", s.auctionID.String(), data)
	for _, c := range conns {
		c.deliver(env)
	}
}

func (s *fakeServer) handle(c *fakeConn, env *events.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, env.Type)

	ack := events.Ack{Ref: env.ID, Request: env.Type, Success: true}
	var data any
	switch env.Type {
	case events.MessageJoin:
		data = events.JoinAckData{ParticipantCount: 1}
	case events.MessageLeave:
		data = events.JoinAckData{}
	case events.MessageGetState:
		data = s.snapshotLocked()
	case events.MessageBid:
		if s.silentBids {
			return
		}
		var req events.BidRequestData
		_ = env.DecodeData(&req)
		if s.rejectBids || !req.Amount.GreaterThan(s.current) {
			minimum := s.current.Add(decimal.New(1, -2))
			ack.Success = false
			ack.Reason = auctionerrors.ReasonBidTooLow
			ack.Error = auctionerrors.ErrBidTooLow.Error()
			ack.MinimumBid = &minimum
			break
		}
		e := s.commitLocked(req.Amount, req.BidderID, *req.ClientTimestamp)
		data = events.BidAckData{BidID: e.BidID, Amount: e.Amount, Sequence: e.Sequence, Timestamp: e.Timestamp}
	}
	if data != nil {
		ack.Data, _ = json.Marshal(data)
	}
	out, _ := events.NewEnvelope(events.MessageAck, "", env.AuctionID, ack)
	c.deliver(out)
}

type fakeDialer struct {
	server *fakeServer
}

func (d fakeDialer) Dial(ctx context.Context) (Conn, error) {
	s := d.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.failDials > 0 {
		s.failDials--
		return nil, auctionerrors.ErrConnection
	}
	c := &fakeConn{server: s, in: make(chan *events.Envelope, 64), closed: make(chan struct{})}
	s.conns = append(s.conns, c)
	return c, nil
}

type fakeConn struct {
	server *fakeServer
	in     chan *events.Envelope
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) Send(env *events.Envelope) error {
	select {
	case <-c.closed:
		return auctionerrors.ErrConnection
	default:
	}
	c.server.handle(c, env)
	return nil
}

func (c *fakeConn) Receive() (*events.Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		return nil, auctionerrors.ErrConnection
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(env *events.Envelope) {
	select {
	case c.in <- env:
	case <-c.closed:
	}
}

func startAgent(t *testing.T, server *fakeServer, tweak func(*Config)) (*Agent, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	cfg := DefaultConfig(server.auctionID, "me", "Me")
	if tweak != nil {
		tweak(&cfg)
	}
	agent := NewAgent(cfg, server.factory(), clock)
	agent.Start(context.Background())
	t.Cleanup(agent.Close)
	return agent, clock
}

func waitFor(t *testing.T, agent *Agent, cond func(v View) bool) View {
	t.Helper()
	require.Eventually(t, func() bool { return cond(agent.View()) }, 2*time.Second, 5*time.Millisecond)
	return agent.View()
}

func synced(v View) bool {
	return v.State == StateJoined && v.Auction != nil
}

func TestAgent_JoinThenSnapshot(t *testing.T) {
	server := newFakeServer(uuid.New())
	server.commit("11", "alice", testEpoch)

	agent, _ := startAgent(t, server, nil)
	v := waitFor(t, agent, synced)

	assert.True(t, v.Auction.CurrentBid.Equal(decimal.NewFromInt(11)))
	require.Len(t, v.History, 1)
	assert.Equal(t, "alice", v.History[0].Bidder.ID)

	server.mu.Lock()
	defer server.mu.Unlock()
	require.GreaterOrEqual(t, len(server.received), 2)
	assert.Equal(t, []events.MessageType{events.MessageJoin, events.MessageGetState}, server.received[:2])
}

func TestAgent_ReconnectionCompleteness(t *testing.T) {
	server := newFakeServer(uuid.New())
	b1 := server.commit("12", "alice", testEpoch)

	agent, clock := startAgent(t, server, nil)
	waitFor(t, agent, func(v View) bool { return synced(v) && len(v.History) == 1 })

	server.dropAll()
	waitFor(t, agent, func(v View) bool { return v.State == StateConnecting })

	b2 := server.commit("13", "bob", testEpoch.Add(5*time.Second))
	clock.Advance(DefaultInitialBackoff)

	v := waitFor(t, agent, func(v View) bool { return synced(v) && len(v.History) == 2 })
	assert.Equal(t, b2.BidID, v.History[0].BidID)
	assert.Equal(t, b1.BidID, v.History[1].BidID)

	// The same bid delivered again live, slightly skewed, is not duplicated.
	server.push(events.MessageBidAccepted, events.BidAcceptedPayload{
		AuctionID: server.auctionID.String(),
		BidID:     b2.BidID,
		Amount:    b2.Amount,
		Bidder:    b2.Bidder,
		Timestamp: b2.Timestamp.Add(time.Second),
		Sequence:  b2.Sequence,
	})
	server.push(events.MessageUpdate, events.ParticipantUpdatePayload{ParticipantCount: 7})
	v = waitFor(t, agent, func(v View) bool { return v.ParticipantCount == 7 })
	assert.Len(t, v.History, 2)
}

func TestAgent_RejectionRebuildsFromSnapshot(t *testing.T) {
	server := newFakeServer(uuid.New())
	server.rejectBids = true

	agent, _ := startAgent(t, server, nil)
	waitFor(t, agent, synced)
	snapshotsBefore := server.count(events.MessageGetState)

	_, err := agent.Bid(context.Background(), decimal.RequireFromString("15"))
	require.NoError(t, err)

	v := waitFor(t, agent, func(v View) bool { return v.LastRejection != nil })
	assert.Equal(t, auctionerrors.ReasonBidTooLow, v.LastRejection.Reason)
	require.NotNil(t, v.LastRejection.MinimumBid)
	assert.True(t, v.LastRejection.MinimumBid.Equal(decimal.RequireFromString("10.01")))
	assert.Empty(t, v.Pending)
	assert.Eventually(t, func() bool { return server.count(events.MessageGetState) == snapshotsBefore+1 }, time.Second, 5*time.Millisecond)
	assert.True(t, agent.View().Leading().Equal(decimal.NewFromInt(10)))
}

func TestAgent_AcceptedBidIsConfirmedOnce(t *testing.T) {
	server := newFakeServer(uuid.New())

	agent, _ := startAgent(t, server, nil)
	waitFor(t, agent, synced)

	_, err := agent.Bid(context.Background(), decimal.RequireFromString("20"))
	require.NoError(t, err)

	v := waitFor(t, agent, func(v View) bool { return len(v.History) == 1 && len(v.Pending) == 0 })
	assert.Equal(t, "me", v.History[0].Bidder.ID)
	assert.True(t, v.Auction.CurrentBid.Equal(decimal.NewFromInt(20)))

	// The room broadcast of our own bid arrives after the ack.
	e := v.History[0]
	server.push(events.MessageBidAccepted, events.BidAcceptedPayload{
		BidID: e.BidID, Amount: e.Amount, Bidder: e.Bidder, Timestamp: e.Timestamp, Sequence: e.Sequence,
	})
	server.push(events.MessageUpdate, events.ParticipantUpdatePayload{ParticipantCount: 3})
	v = waitFor(t, agent, func(v View) bool { return v.ParticipantCount == 3 })
	assert.Len(t, v.History, 1)
}

func TestAgent_AckTimeoutTriggersReconciliation(t *testing.T) {
	server := newFakeServer(uuid.New())
	server.silentBids = true

	agent, clock := startAgent(t, server, nil)
	waitFor(t, agent, synced)
	snapshotsBefore := server.count(events.MessageGetState)

	_, err := agent.Bid(context.Background(), decimal.RequireFromString("30"))
	require.NoError(t, err)
	v := agent.View()
	require.Len(t, v.Pending, 1)
	assert.True(t, v.Leading().Equal(decimal.NewFromInt(30)), "optimistic bid shows before the ack")

	clock.Advance(DefaultAckTimeout)

	v = waitFor(t, agent, func(v View) bool { return len(v.Pending) == 0 })
	assert.Contains(t, v.LastError, auctionerrors.ErrAckTimeout.Error())
	assert.Eventually(t, func() bool { return server.count(events.MessageGetState) == snapshotsBefore+1 }, time.Second, 5*time.Millisecond)
	assert.True(t, agent.View().Leading().Equal(decimal.NewFromInt(10)))
}

func TestAgent_RedialsThenGivesUp(t *testing.T) {
	server := newFakeServer(uuid.New())
	server.failDials = 100

	agent, clock := startAgent(t, server, func(c *Config) {
		c.FailuresBeforeRedial = 2
		c.MaxRedials = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(DefaultMaxBackoff)
	}

	v := waitFor(t, agent, func(v View) bool { return v.State == StateDisconnected })
	assert.NotEmpty(t, v.LastError)

	server.mu.Lock()
	assert.Equal(t, 4, server.dials)
	assert.Equal(t, 2, server.dialers, "transport recreated once before giving up")
	server.failDials = 0
	server.mu.Unlock()

	agent.Refresh()
	waitFor(t, agent, synced)
}

func TestAgent_HiddenViewSkipsHeartbeat(t *testing.T) {
	server := newFakeServer(uuid.New())

	agent, clock := startAgent(t, server, nil)
	waitFor(t, agent, synced)
	before := server.count(events.MessageGetState)

	agent.SetVisible(false)
	waitFor(t, agent, func(v View) bool { return !v.Visible })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultHeartbeatInterval)
	assert.Never(t, func() bool { return server.count(events.MessageGetState) > before }, 50*time.Millisecond, 5*time.Millisecond)

	agent.SetVisible(true)
	assert.Eventually(t, func() bool { return server.count(events.MessageGetState) == before+1 }, time.Second, 5*time.Millisecond)
}

func TestAgent_CloseSendsLeaveAndStopsEverything(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	server := newFakeServer(uuid.New())
	clock := clockwork.NewFakeClockAt(testEpoch)
	agent := NewAgent(DefaultConfig(server.auctionID, "me", "Me"), server.factory(), clock)
	agent.Start(context.Background())

	updates, _ := agent.Subscribe()
	waitFor(t, agent, synced)

	agent.Close()
	assert.Equal(t, 1, server.count(events.MessageLeave))
	assert.Equal(t, StateDisconnected, agent.View().State)

	for range updates {
	}

	_, err := agent.Bid(context.Background(), decimal.NewFromInt(50))
	assert.ErrorIs(t, err, ErrClosed)

	goleak.VerifyNone(t, ignore)
}
