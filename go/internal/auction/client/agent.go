package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/smallnest/chanx"
)

// ConnState is the agent's connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateJoined       ConnState = "joined"
)

const (
	DefaultAckTimeout           = 10 * time.Second
	DefaultInitialBackoff       = 500 * time.Millisecond
	DefaultMaxBackoff           = 10 * time.Second
	DefaultFailuresBeforeRedial = 5
	DefaultMaxRedials           = 3
	DefaultHeartbeatInterval    = 30 * time.Second
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("agent is closed")

// Config configures one viewer of one auction.
type Config struct {
	AuctionID  uuid.UUID
	BidderID   string
	BidderName string

	AckTimeout     time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// FailuresBeforeRedial consecutive failures tear the transport down and build a new dialer.
	FailuresBeforeRedial int
	// MaxRedials teardown cycles are attempted before the agent settles in StateDisconnected.
	MaxRedials        int
	HeartbeatInterval time.Duration
}

func DefaultConfig(auctionID uuid.UUID, bidderID, bidderName string) Config {
	return Config{
		AuctionID:            auctionID,
		BidderID:             bidderID,
		BidderName:           bidderName,
		AckTimeout:           DefaultAckTimeout,
		InitialBackoff:       DefaultInitialBackoff,
		MaxBackoff:           DefaultMaxBackoff,
		FailuresBeforeRedial: DefaultFailuresBeforeRedial,
		MaxRedials:           DefaultMaxRedials,
		HeartbeatInterval:    DefaultHeartbeatInterval,
	}
}

// PendingBid is an optimistic bid that has not been acknowledged yet.
type PendingBid struct {
	RequestID   string
	Amount      decimal.Decimal
	SubmittedAt time.Time
}

// Rejection describes the last bid the server refused.
type Rejection struct {
	RequestID  string
	Reason     string
	Error      string
	MinimumBid *decimal.Decimal
}

// View is an immutable copy of the agent's state for rendering.
type View struct {
	State            ConnState
	ConnectionID     string
	Auction          *events.AuctionSummary
	History          []events.BidEntry
	Pending          []PendingBid
	ParticipantCount int
	LastRejection    *Rejection
	LastError        string
	SyncedAt         time.Time
	Visible          bool
}

// Leading is the price to show: the confirmed current bid, or the highest pending bid above it.
func (v View) Leading() decimal.Decimal {
	var leading decimal.Decimal
	if v.Auction != nil {
		leading = v.Auction.CurrentBid
	}
	for _, p := range v.Pending {
		if p.Amount.GreaterThan(leading) {
			leading = p.Amount
		}
	}
	return leading
}

type requestKind int

const (
	requestJoin requestKind = iota
	requestLeave
	requestBid
	requestSnapshot
)

type request struct {
	kind  requestKind
	timer clockwork.Timer
}

// Agent keeps one viewer's copy of an auction in sync with the gateway.
//
// All state below the mailbox is owned by the run loop. Socket reads, timers and
// public calls are posted into the mailbox and executed one at a time.
type Agent struct {
	config    Config
	newDialer DialerFactory
	clock     clockwork.Clock

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	mailbox   *chanx.UnboundedChan[func()]
	wg        sync.WaitGroup

	view    atomic.Pointer[View]
	nextSub atomic.Int64

	state          ConnState
	dialer         Dialer
	conn           Conn
	session        uint64
	failures       int
	redials        int
	requestSeq     int
	requests       map[string]*request
	snapshotRef    string
	connectionID   string
	auction        *events.AuctionSummary
	history        []events.BidEntry
	pending        []PendingBid
	participants   int
	lastRejection  *Rejection
	lastError      string
	syncedAt       time.Time
	visible        bool
	reconnectTimer clockwork.Timer
	heartbeatTimer clockwork.Timer
	subscribers    map[int64]chan View
	closing        bool
}

func NewAgent(config Config, newDialer DialerFactory, clock clockwork.Clock) *Agent {
	defaults := DefaultConfig(config.AuctionID, config.BidderID, config.BidderName)
	if config.AckTimeout <= 0 {
		config.AckTimeout = defaults.AckTimeout
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.FailuresBeforeRedial <= 0 {
		config.FailuresBeforeRedial = defaults.FailuresBeforeRedial
	}
	if config.MaxRedials < 0 {
		config.MaxRedials = defaults.MaxRedials
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	a := &Agent{
		config:      config,
		newDialer:   newDialer,
		clock:       clock,
		state:       StateDisconnected,
		requests:    make(map[string]*request),
		subscribers: make(map[int64]chan View),
		visible:     true,
	}
	a.view.Store(&View{State: StateDisconnected, Visible: true})
	return a
}

// Start launches the agent's loop and begins connecting.
func (a *Agent) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		a.ctx, a.cancel = context.WithCancel(ctx)
		a.mailbox = chanx.NewUnboundedChan[func()](a.ctx, 16)
		a.dialer = a.newDialer()
		a.started.Store(true)

		a.wg.Add(1)
		go a.run()
		a.post(a.connect)

		log.Info().
			Str("auction_id", a.config.AuctionID.String()).
			Str("bidder_id", a.config.BidderID).
			Msg("client sync agent started")
	})
}

// Close sends leave, cancels outstanding requests and timers, and waits for every
// goroutine the agent started.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		if !a.started.Load() {
			return
		}
		done := make(chan struct{})
		if a.post(func() {
			a.teardown(true)
			close(done)
		}) {
			select {
			case <-done:
			case <-a.ctx.Done():
			}
		}
		a.cancel()
		a.wg.Wait()
		log.Info().Str("auction_id", a.config.AuctionID.String()).Msg("client sync agent closed")
	})
}

// Bid submits a bid and applies it to the pending overlay right away. It returns the
// request id once the bid is on the wire; the outcome arrives through View.
func (a *Agent) Bid(ctx context.Context, amount decimal.Decimal) (string, error) {
	type result struct {
		ref string
		err error
	}
	reply := make(chan result, 1)
	if !a.post(func() {
		ref, err := a.submitBid(amount)
		reply <- result{ref, err}
	}) {
		return "", ErrClosed
	}

	select {
	case r := <-reply:
		return r.ref, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-a.ctx.Done():
		return "", ErrClosed
	}
}

// SetVisible records whether the view is on screen. Becoming visible triggers a snapshot.
func (a *Agent) SetVisible(visible bool) {
	a.post(func() {
		regained := visible && !a.visible
		a.visible = visible
		if regained {
			a.resync()
		}
		a.publish()
	})
}

// Refresh pulls a snapshot now, reconnecting first if the agent gave up.
func (a *Agent) Refresh() {
	a.post(func() {
		a.resync()
		a.publish()
	})
}

// View returns the latest published state.
func (a *Agent) View() View {
	return *a.view.Load()
}

// Subscribe delivers the latest View after every change. Slow readers only see the
// most recent one. The channel is closed by the returned func or by Close.
func (a *Agent) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	id := a.nextSub.Add(1)
	if !a.post(func() {
		if a.closing {
			close(ch)
			return
		}
		a.subscribers[id] = ch
		ch <- *a.view.Load()
	}) {
		close(ch)
		return ch, func() {}
	}

	return ch, func() {
		a.post(func() {
			if c, ok := a.subscribers[id]; ok {
				delete(a.subscribers, id)
				close(c)
			}
		})
	}
}

func (a *Agent) post(fn func()) bool {
	if !a.started.Load() {
		return false
	}
	select {
	case <-a.ctx.Done():
		return false
	case a.mailbox.In <- fn:
		return true
	}
}

func (a *Agent) after(d time.Duration, fn func()) clockwork.Timer {
	return a.clock.AfterFunc(d, func() { a.post(fn) })
}

func (a *Agent) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			a.teardown(false)
			return
		case fn, ok := <-a.mailbox.Out:
			if !ok {
				a.teardown(false)
				return
			}
			fn()
		}
	}
}

func (a *Agent) connect() {
	if a.closing || a.conn != nil {
		return
	}
	a.setState(StateConnecting)
	a.session++
	session := a.session
	dialer := a.dialer

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		conn, err := dialer.Dial(a.ctx)
		if !a.post(func() { a.onDialed(session, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
	a.publish()
}

func (a *Agent) onDialed(session uint64, conn Conn, err error) {
	if a.closing || session != a.session {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		a.lastError = err.Error()
		log.Warn().Err(err).Int("failures", a.failures+1).Msg("dial failed")
		a.scheduleReconnect()
		a.publish()
		return
	}

	a.conn = conn
	a.wg.Add(1)
	go a.readLoop(conn, session)

	// Local state from before a reconnect is never trusted; the snapshot replaces it.
	a.setState(StateJoined)
	if _, err := a.send(requestJoin, events.MessageJoin, nil); err != nil {
		log.Warn().Err(err).Msg("failed to send join")
	}
	a.requestSnapshot()
	a.armHeartbeat()
	a.publish()
}

func (a *Agent) readLoop(conn Conn, session uint64) {
	defer a.wg.Done()
	for {
		env, err := conn.Receive()
		if err != nil {
			a.post(func() { a.onTransportLost(session, err) })
			return
		}
		if !a.post(func() { a.onFrame(session, env) }) {
			return
		}
	}
}

func (a *Agent) onTransportLost(session uint64, err error) {
	if a.closing || session != a.session {
		return
	}
	log.Warn().Err(err).Str("auction_id", a.config.AuctionID.String()).Msg("connection lost")
	a.dropSession(err)
	a.scheduleReconnect()
	a.publish()
}

// dropSession closes the transport and forgets every request sent on it. Pending bids
// are cleared because their outcome is unknown; the next snapshot shows what committed.
func (a *Agent) dropSession(cause error) {
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.session++
	for ref, req := range a.requests {
		req.timer.Stop()
		delete(a.requests, ref)
	}
	a.snapshotRef = ""
	a.pending = nil
	stopTimer(a.heartbeatTimer)
	a.heartbeatTimer = nil
	if cause != nil {
		a.lastError = cause.Error()
	}
}

func (a *Agent) scheduleReconnect() {
	a.failures++
	if a.failures >= a.config.FailuresBeforeRedial {
		a.failures = 0
		a.redials++
		if a.redials > a.config.MaxRedials {
			stopTimer(a.reconnectTimer)
			a.reconnectTimer = nil
			a.setState(StateDisconnected)
			log.Error().
				Str("auction_id", a.config.AuctionID.String()).
				Int("redials", a.redials-1).
				Msg("giving up on reconnecting")
			return
		}
		a.dialer = a.newDialer()
		log.Warn().Int("redial", a.redials).Msg("recreating transport after repeated failures")
	}

	delay := a.backoff()
	a.setState(StateConnecting)
	stopTimer(a.reconnectTimer)
	a.reconnectTimer = a.after(delay, a.connect)
	log.Debug().Dur("delay", delay).Int("failures", a.failures).Msg("reconnect scheduled")
}

func (a *Agent) backoff() time.Duration {
	delay := a.config.InitialBackoff
	for i := 1; i < a.failures; i++ {
		delay *= 2
		if delay >= a.config.MaxBackoff {
			return a.config.MaxBackoff
		}
	}
	return delay
}

// resync is the response to a visibility change or an explicit refresh.
func (a *Agent) resync() {
	switch a.state {
	case StateJoined:
		a.requestSnapshot()
	case StateDisconnected:
		a.failures = 0
		a.redials = 0
		a.dialer = a.newDialer()
		a.connect()
	}
}

func (a *Agent) armHeartbeat() {
	stopTimer(a.heartbeatTimer)
	a.heartbeatTimer = nil
	if a.config.HeartbeatInterval <= 0 {
		return
	}
	a.heartbeatTimer = a.after(a.config.HeartbeatInterval, func() {
		if a.closing || a.state != StateJoined {
			return
		}
		if a.visible {
			a.requestSnapshot()
		}
		a.armHeartbeat()
	})
}

func (a *Agent) send(kind requestKind, msgType events.MessageType, data any) (string, error) {
	if a.conn == nil {
		return "", fmt.Errorf("%w: not connected", auctionerrors.ErrConnection)
	}
	a.requestSeq++
	ref := fmt.Sprintf("%s-%d", msgType, a.requestSeq)
	env, err := events.NewEnvelope(msgType, ref, a.config.AuctionID.String(), data)
	if err != nil {
		return "", err
	}
	if err := a.conn.Send(env); err != nil {
		return "", err
	}

	if kind != requestLeave {
		a.requests[ref] = &request{
			kind:  kind,
			timer: a.after(a.config.AckTimeout, func() { a.onAckTimeout(ref) }),
		}
	}
	return ref, nil
}

func (a *Agent) requestSnapshot() {
	if a.state != StateJoined || a.conn == nil || a.snapshotRef != "" {
		return
	}
	ref, err := a.send(requestSnapshot, events.MessageGetState, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to request snapshot")
		return
	}
	a.snapshotRef = ref
}

func (a *Agent) submitBid(amount decimal.Decimal) (string, error) {
	if a.closing {
		return "", ErrClosed
	}
	if a.state != StateJoined {
		return "", fmt.Errorf("%w: agent is %s", auctionerrors.ErrConnection, a.state)
	}
	if !amount.IsPositive() {
		return "", auctionerrors.Validation("bid amount must be positive")
	}

	now := a.clock.Now().UTC()
	ref, err := a.send(requestBid, events.MessageBid, events.BidRequestData{
		Amount:          amount,
		BidderID:        a.config.BidderID,
		BidderName:      a.config.BidderName,
		ClientTimestamp: &now,
	})
	if err != nil {
		return "", err
	}

	a.pending = append(a.pending, PendingBid{RequestID: ref, Amount: amount, SubmittedAt: now})
	a.lastRejection = nil
	a.publish()
	return ref, nil
}

func (a *Agent) onFrame(session uint64, env *events.Envelope) {
	if a.closing || session != a.session {
		return
	}

	switch env.Type {
	case events.MessageWelcome:
		var data events.WelcomeData
		if err := env.DecodeData(&data); err == nil {
			a.connectionID = data.ConnectionID
		}
	case events.MessageAck:
		var ack events.Ack
		if err := env.DecodeData(&ack); err != nil {
			log.Warn().Err(err).Msg("undecodable ack")
			return
		}
		a.onAck(ack)
	case events.MessageBidAccepted:
		var payload events.BidAcceptedPayload
		if err := env.DecodeData(&payload); err != nil {
			log.Warn().Err(err).Msg("undecodable bidAccepted")
			return
		}
		a.applyLive(events.BidEntry{
			BidID:     payload.BidID,
			Amount:    payload.Amount,
			Bidder:    payload.Bidder,
			Timestamp: payload.Timestamp,
			Sequence:  payload.Sequence,
		})
	case events.MessageStateSnapshot:
		var snap events.Snapshot
		if err := env.DecodeData(&snap); err != nil {
			log.Warn().Err(err).Msg("undecodable stateSnapshot")
			return
		}
		a.applySnapshot(&snap)
	case events.MessageUpdate:
		var update events.ParticipantUpdatePayload
		if err := env.DecodeData(&update); err == nil {
			a.participants = update.ParticipantCount
		}
	default:
		return
	}
	a.publish()
}

func (a *Agent) onAck(ack events.Ack) {
	req, ok := a.requests[ack.Ref]
	if !ok {
		// Late ack for a request that already timed out or belongs to a dropped session.
		return
	}
	delete(a.requests, ack.Ref)
	req.timer.Stop()

	switch req.kind {
	case requestJoin:
		if ack.Success {
			a.failures = 0
			a.redials = 0
			var data events.JoinAckData
			if json.Unmarshal(ack.Data, &data) == nil {
				a.participants = data.ParticipantCount
			}
			return
		}
		a.lastError = ack.Error
		switch ack.Reason {
		case auctionerrors.ReasonNotFound, auctionerrors.ReasonValidation:
			a.dropSession(nil)
			a.setState(StateDisconnected)
			log.Error().Str("reason", ack.Reason).Msg("join refused")
		default:
			a.dropSession(nil)
			a.scheduleReconnect()
		}

	case requestSnapshot:
		a.snapshotRef = ""
		if !ack.Success {
			a.lastError = ack.Error
			return
		}
		var snap events.Snapshot
		if err := json.Unmarshal(ack.Data, &snap); err != nil {
			log.Warn().Err(err).Msg("undecodable snapshot ack")
			return
		}
		a.applySnapshot(&snap)

	case requestBid:
		a.removePending(ack.Ref)
		if ack.Success {
			var data events.BidAckData
			if err := json.Unmarshal(ack.Data, &data); err == nil {
				a.applyLive(events.BidEntry{
					BidID:     data.BidID,
					Amount:    data.Amount,
					Bidder:    events.Bidder{ID: a.config.BidderID, Name: a.config.BidderName},
					Timestamp: data.Timestamp,
					Sequence:  data.Sequence,
				})
			}
			return
		}
		// A live event may have interleaved with the optimistic entry, so the overlay
		// is rebuilt from a snapshot instead of undone.
		a.lastRejection = &Rejection{
			RequestID:  ack.Ref,
			Reason:     ack.Reason,
			Error:      ack.Error,
			MinimumBid: ack.MinimumBid,
		}
		a.pending = nil
		a.requestSnapshot()
	}
}

func (a *Agent) onAckTimeout(ref string) {
	req, ok := a.requests[ref]
	if !ok || a.closing {
		return
	}
	delete(a.requests, ref)
	log.Warn().Str("ref", ref).Dur("timeout", a.config.AckTimeout).Msg("request was not acknowledged")

	switch req.kind {
	case requestBid:
		a.lastError = fmt.Sprintf("%s: %v", ref, auctionerrors.ErrAckTimeout)
		a.pending = nil
		a.requestSnapshot()
	case requestSnapshot:
		a.snapshotRef = ""
		a.lastError = auctionerrors.ErrAckTimeout.Error()
	case requestJoin:
		a.dropSession(auctionerrors.ErrAckTimeout)
		a.scheduleReconnect()
	}
	a.publish()
}

// applySnapshot replaces local history wholesale. It is never merged.
func (a *Agent) applySnapshot(snap *events.Snapshot) {
	if snap.Auction.AuctionID != a.config.AuctionID.String() {
		return
	}
	summary := snap.Auction
	a.auction = &summary
	a.history = ReplaceHistory(snap.BidHistory)
	a.participants = summary.ParticipantCount
	a.syncedAt = a.clock.Now()
	a.prunePending()
}

// applyLive appends a bid seen between snapshots unless history already has it.
func (a *Agent) applyLive(entry events.BidEntry) {
	history, added := MergeLive(a.history, entry)
	a.history = history
	if added && a.auction != nil && entry.Amount.GreaterThan(a.auction.CurrentBid) {
		bidder := entry.Bidder
		ts := entry.Timestamp
		a.auction.CurrentBid = entry.Amount
		a.auction.CurrentBidder = &bidder
		a.auction.MinimumBid = entry.Amount.Add(decimal.New(1, -2))
		a.auction.LastBidTime = &ts
		if entry.Sequence > a.auction.TotalBids {
			a.auction.TotalBids = entry.Sequence
		}
	}
	a.prunePending()
}

// prunePending drops optimistic bids that history now confirms.
func (a *Agent) prunePending() {
	kept := a.pending[:0]
	for _, p := range a.pending {
		candidate := events.BidEntry{
			Amount:    p.Amount,
			Bidder:    events.Bidder{ID: a.config.BidderID},
			Timestamp: p.SubmittedAt,
		}
		confirmed := false
		for _, h := range a.history {
			if SameBid(h, candidate) {
				confirmed = true
				break
			}
		}
		if !confirmed {
			kept = append(kept, p)
		}
	}
	a.pending = kept
}

func (a *Agent) removePending(ref string) {
	for i, p := range a.pending {
		if p.RequestID == ref {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			return
		}
	}
}

func (a *Agent) setState(state ConnState) {
	if a.state == state {
		return
	}
	log.Info().
		Str("auction_id", a.config.AuctionID.String()).
		Str("from", string(a.state)).
		Str("to", string(state)).
		Msg("client sync agent state changed")
	a.state = state
}

func (a *Agent) publish() {
	v := View{
		State:            a.state,
		ConnectionID:     a.connectionID,
		History:          append([]events.BidEntry(nil), a.history...),
		Pending:          append([]PendingBid(nil), a.pending...),
		ParticipantCount: a.participants,
		LastRejection:    a.lastRejection,
		LastError:        a.lastError,
		SyncedAt:         a.syncedAt,
		Visible:          a.visible,
	}
	if a.auction != nil {
		summary := *a.auction
		v.Auction = &summary
	}
	a.view.Store(&v)

	for _, ch := range a.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (a *Agent) teardown(sendLeave bool) {
	if a.closing {
		return
	}
	a.closing = true

	stopTimer(a.reconnectTimer)
	a.reconnectTimer = nil
	if sendLeave && a.state == StateJoined && a.conn != nil {
		if _, err := a.send(requestLeave, events.MessageLeave, nil); err != nil {
			log.Debug().Err(err).Msg("failed to send leave")
		}
	}
	a.dropSession(nil)
	a.state = StateDisconnected
	a.publish()

	for id, ch := range a.subscribers {
		delete(a.subscribers, id)
		close(ch)
	}
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}
