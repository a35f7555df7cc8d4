package room

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/rs/zerolog/log"
)

// Action describes why the participant count changed.
type Action string

const (
	ActionJoined       Action = "joined"
	ActionLeft         Action = "left"
	ActionDisconnected Action = "disconnected"
)

// DefaultGracePeriod is how long an empty room keeps its cache entry.
const DefaultGracePeriod = 30 * time.Second

// Update is a participant count change. Members is the room after the change.
type Update struct {
	AuctionID    uuid.UUID
	Count        int
	Action       Action
	ConnectionID string
	Members      []string
}

// Notifier receives membership updates. It is called with the manager lock held and must
// not block or call back into the Manager.
type Notifier interface {
	NotifyParticipants(update Update)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(update Update)

func (f NotifierFunc) NotifyParticipants(update Update) { f(update) }

// Config holds room settings.
type Config struct {
	GracePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{GracePeriod: DefaultGracePeriod}
}

type graceTimer struct {
	timer clockwork.Timer
	gen   uint64
}

// Manager tracks which connections are watching which auction.
type Manager struct {
	cache    *auction.Cache
	store    store.Store
	notifier Notifier
	clock    clockwork.Clock
	config   Config

	mu       sync.Mutex
	rooms    map[uuid.UUID]map[string]struct{}
	conns    map[string]map[uuid.UUID]struct{}
	timers   map[uuid.UUID]graceTimer
	timerGen uint64
	closed   bool

	// mirrorMu serializes count mirroring so the last write carries the latest count.
	mirrorMu sync.Mutex
}

func NewManager(cache *auction.Cache, st store.Store, notifier Notifier, clock clockwork.Clock, config Config) *Manager {
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultGracePeriod
	}
	m := &Manager{
		cache:    cache,
		store:    st,
		notifier: notifier,
		clock:    clock,
		config:   config,
		rooms:    make(map[uuid.UUID]map[string]struct{}),
		conns:    make(map[string]map[uuid.UUID]struct{}),
		timers:   make(map[uuid.UUID]graceTimer),
	}
	cache.OnLoad(m.watch)
	return m
}

// Join adds the connection to the auction's room and warms the cache. Joining twice is a no-op.
func (m *Manager) Join(ctx context.Context, connID string, auctionID uuid.UUID) (int, error) {
	if _, err := m.cache.GetOrLoad(ctx, auctionID); err != nil {
		return 0, fmt.Errorf("join %s: %w", auctionID, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, fmt.Errorf("join %s: room manager closed", auctionID)
	}
	members, ok := m.rooms[auctionID]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[auctionID] = members
	}
	if _, already := members[connID]; already {
		count := len(members)
		m.mu.Unlock()
		return count, nil
	}

	members[connID] = struct{}{}
	if m.conns[connID] == nil {
		m.conns[connID] = make(map[uuid.UUID]struct{})
	}
	m.conns[connID][auctionID] = struct{}{}
	m.cancelGraceLocked(auctionID)

	count := len(members)
	m.notifyLocked(auctionID, connID, ActionJoined)
	m.mu.Unlock()

	m.mirror(ctx, auctionID)

	log.Debug().
		Str("connection_id", connID).
		Str("auction_id", auctionID.String()).
		Int("participant_count", count).
		Msg("connection joined auction room")
	return count, nil
}

// Leave removes the connection from one room and returns the new count.
func (m *Manager) Leave(ctx context.Context, connID string, auctionID uuid.UUID) int {
	m.mu.Lock()
	count, changed := m.removeLocked(connID, auctionID, ActionLeft)
	m.mu.Unlock()

	if changed {
		m.mirror(ctx, auctionID)
	}
	return count
}

// Disconnect removes the connection from every room it joined.
func (m *Manager) Disconnect(ctx context.Context, connID string) {
	m.mu.Lock()
	var left []uuid.UUID
	for auctionID := range m.conns[connID] {
		if _, changed := m.removeLocked(connID, auctionID, ActionDisconnected); changed {
			left = append(left, auctionID)
		}
	}
	m.mu.Unlock()

	for _, auctionID := range left {
		m.mirror(ctx, auctionID)
	}
	if len(left) > 0 {
		log.Debug().
			Str("connection_id", connID).
			Int("rooms", len(left)).
			Msg("connection removed from auction rooms")
	}
}

// removeLocked drops one membership. Caller holds m.mu.
func (m *Manager) removeLocked(connID string, auctionID uuid.UUID, action Action) (int, bool) {
	members := m.rooms[auctionID]
	if _, ok := members[connID]; !ok {
		return len(members), false
	}

	delete(members, connID)
	if joined := m.conns[connID]; joined != nil {
		delete(joined, auctionID)
		if len(joined) == 0 {
			delete(m.conns, connID)
		}
	}

	count := len(members)
	m.notifyLocked(auctionID, connID, action)
	if count == 0 {
		delete(m.rooms, auctionID)
		m.scheduleGraceLocked(auctionID)
	}
	return count, true
}

func (m *Manager) notifyLocked(auctionID uuid.UUID, connID string, action Action) {
	if m.notifier == nil {
		return
	}
	m.notifier.NotifyParticipants(Update{
		AuctionID:    auctionID,
		Count:        len(m.rooms[auctionID]),
		Action:       action,
		ConnectionID: connID,
		Members:      m.membersLocked(auctionID),
	})
}

// mirror copies the live count into the cache entry and the store. Store failures are only logged.
func (m *Manager) mirror(ctx context.Context, auctionID uuid.UUID) {
	m.mirrorMu.Lock()
	defer m.mirrorMu.Unlock()

	count := m.Count(auctionID)
	m.cache.SetParticipantCount(auctionID, count)
	if err := m.store.UpdateParticipantCount(ctx, auctionID, count); err != nil {
		log.Warn().
			Err(err).
			Str("auction_id", auctionID.String()).
			Int("participant_count", count).
			Msg("failed to persist participant count")
	}
}

// watch arms the grace timer for an entry loaded while its room is empty, e.g. by a
// status request or a bid from a connection that never joined.
func (m *Manager) watch(auctionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rooms[auctionID]) > 0 {
		return
	}
	if _, scheduled := m.timers[auctionID]; scheduled {
		return
	}
	m.scheduleGraceLocked(auctionID)
}

func (m *Manager) scheduleGraceLocked(auctionID uuid.UUID) {
	if m.closed {
		return
	}
	m.cancelGraceLocked(auctionID)

	m.timerGen++
	gen := m.timerGen
	m.timers[auctionID] = graceTimer{
		timer: m.clock.AfterFunc(m.config.GracePeriod, func() { m.expire(auctionID, gen) }),
		gen:   gen,
	}
}

func (m *Manager) cancelGraceLocked(auctionID uuid.UUID) {
	if t, ok := m.timers[auctionID]; ok {
		t.timer.Stop()
		delete(m.timers, auctionID)
	}
}

// expire evicts the cache entry of a room that stayed empty for the whole grace period.
func (m *Manager) expire(auctionID uuid.UUID, gen uint64) {
	m.mu.Lock()
	t, ok := m.timers[auctionID]
	if !ok || t.gen != gen || len(m.rooms[auctionID]) > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.timers, auctionID)
	m.mu.Unlock()

	if m.cache.Evict(auctionID) {
		log.Info().Str("auction_id", auctionID.String()).Msg("empty room expired, cache entry evicted")
		return
	}

	// A commit holds the entry; try again after another grace period.
	m.mu.Lock()
	if len(m.rooms[auctionID]) == 0 {
		if _, scheduled := m.timers[auctionID]; !scheduled {
			m.scheduleGraceLocked(auctionID)
		}
	}
	m.mu.Unlock()
}

// Members returns the connection ids in the room, sorted.
func (m *Manager) Members(auctionID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membersLocked(auctionID)
}

func (m *Manager) membersLocked(auctionID uuid.UUID) []string {
	members := m.rooms[auctionID]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the participant count of the room.
func (m *Manager) Count(auctionID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[auctionID])
}

// IsMember reports whether the connection has joined the auction.
func (m *Manager) IsMember(connID string, auctionID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[auctionID][connID]
	return ok
}

// Stats returns the participant count per auction with a non-empty room.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(m.rooms))
	for id, members := range m.rooms {
		out[id.String()] = len(members)
	}
	return out
}

// Close stops every pending grace timer. Further joins fail.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, t := range m.timers {
		t.timer.Stop()
		delete(m.timers, id)
	}
}
