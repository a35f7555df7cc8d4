package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/room"
	"github.com/mcdev12/auctionsync/go/internal/auction/snapshot"
	"github.com/rs/zerolog/log"
)

// DefaultSnapshotDebounce is the quiet period after the last bid before a snapshot is pushed.
const DefaultSnapshotDebounce = 750 * time.Millisecond

// Directory lists the connections watching an auction.
type Directory interface {
	Members(auctionID uuid.UUID) []string
}

// Sender queues frames for delivery.
type Sender interface {
	Broadcast(message BroadcastMessage)
}

type snapshotTimer struct {
	timer clockwork.Timer
	gen   uint64
}

// Broadcaster fans domain events and membership updates out to auction rooms.
//
// HandleEvent may run inside a committer's single-writer section, so it only queues
// frames and arms timers; snapshots are always built on timer goroutines.
type Broadcaster struct {
	sender    Sender
	directory Directory
	snapshots snapshot.Provider
	clock     clockwork.Clock
	debounce  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	timers   map[uuid.UUID]snapshotTimer
	timerGen uint64
	lastSeq  map[uuid.UUID]int64
	inFlight sync.WaitGroup
	closed   bool
}

func NewBroadcaster(sender Sender, directory Directory, snapshots snapshot.Provider, clock clockwork.Clock, debounce time.Duration) *Broadcaster {
	if debounce < 0 {
		debounce = DefaultSnapshotDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		sender:    sender,
		directory: directory,
		snapshots: snapshots,
		clock:     clock,
		debounce:  debounce,
		ctx:       ctx,
		cancel:    cancel,
		timers:    make(map[uuid.UUID]snapshotTimer),
		lastSeq:   make(map[uuid.UUID]int64),
	}
}

// HandleEvent implements events.Handler.
func (b *Broadcaster) HandleEvent(ctx context.Context, ev *events.Event) {
	switch ev.Type {
	case events.TypeBidAccepted:
		b.handleBidAccepted(ev)
	case events.TypeStatusChanged:
		b.handleStatusChanged(ev)
	default:
		log.Warn().Str("event_type", string(ev.Type)).Msg("ignoring unknown event type")
	}
}

func (b *Broadcaster) handleBidAccepted(ev *events.Event) {
	var payload events.BidAcceptedPayload
	if err := ev.Decode(&payload); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("failed to decode bidAccepted")
		return
	}

	b.mu.Lock()
	if last := b.lastSeq[ev.AuctionID]; payload.Sequence <= last {
		b.mu.Unlock()
		log.Debug().
			Str("auction_id", ev.AuctionID.String()).
			Int64("sequence", payload.Sequence).
			Int64("last_sequence", last).
			Msg("dropping duplicate bidAccepted")
		return
	}
	b.lastSeq[ev.AuctionID] = payload.Sequence
	b.mu.Unlock()

	b.send(ev.AuctionID, events.MessageBidAccepted, ev.Payload)
	b.scheduleSnapshot(ev.AuctionID, b.debounce)
}

func (b *Broadcaster) handleStatusChanged(ev *events.Event) {
	var payload events.StatusChangedPayload
	if err := ev.Decode(&payload); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("failed to decode statusChanged")
		return
	}

	switch payload.To {
	case "completed", "cancelled":
		b.mu.Lock()
		delete(b.lastSeq, ev.AuctionID)
		b.mu.Unlock()
	}
	b.scheduleSnapshot(ev.AuctionID, 0)
}

// NotifyParticipants implements room.Notifier.
func (b *Broadcaster) NotifyParticipants(u room.Update) {
	frame, err := encodeFrame(events.MessageUpdate, "", u.AuctionID.String(), events.ParticipantUpdatePayload{
		AuctionID:        u.AuctionID.String(),
		ParticipantCount: u.Count,
		Action:           string(u.Action),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode participant update")
		return
	}
	b.sender.Broadcast(BroadcastMessage{
		AuctionID: u.AuctionID,
		Type:      events.MessageUpdate,
		Targets:   u.Members,
		Frame:     frame,
	})
}

func (b *Broadcaster) send(auctionID uuid.UUID, msgType events.MessageType, data any) {
	frame, err := encodeFrame(msgType, "", auctionID.String(), data)
	if err != nil {
		log.Error().Err(err).Str("type", string(msgType)).Msg("failed to encode broadcast")
		return
	}
	b.sender.Broadcast(BroadcastMessage{
		AuctionID: auctionID,
		Type:      msgType,
		Targets:   b.directory.Members(auctionID),
		Frame:     frame,
	})
}

// scheduleSnapshot (re)arms the auction's snapshot timer. Every call pushes the deadline out.
func (b *Broadcaster) scheduleSnapshot(auctionID uuid.UUID, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if t, ok := b.timers[auctionID]; ok {
		t.timer.Stop()
	}
	b.timerGen++
	gen := b.timerGen
	b.timers[auctionID] = snapshotTimer{
		timer: b.clock.AfterFunc(delay, func() { b.pushSnapshot(auctionID, gen) }),
		gen:   gen,
	}
}

func (b *Broadcaster) pushSnapshot(auctionID uuid.UUID, gen uint64) {
	b.mu.Lock()
	t, ok := b.timers[auctionID]
	if !ok || t.gen != gen || b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.timers, auctionID)
	b.inFlight.Add(1)
	b.mu.Unlock()
	defer b.inFlight.Done()

	snap, err := b.snapshots.GetSnapshot(b.ctx, auctionID)
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to build room snapshot")
		return
	}
	b.send(auctionID, events.MessageStateSnapshot, snap)
}

// Forget drops the sequence watermark of an auction whose cache entry was evicted.
func (b *Broadcaster) Forget(auctionID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lastSeq, auctionID)
}

// Pending reports whether a snapshot push is armed for the auction.
func (b *Broadcaster) Pending(auctionID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.timers[auctionID]
	return ok
}

// Close stops all timers and waits for snapshot pushes already running.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	for id, t := range b.timers {
		t.timer.Stop()
		delete(b.timers, id)
	}
	b.mu.Unlock()

	b.cancel()
	b.inFlight.Wait()
}
