package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// State is a point-in-time copy of a cached auction and its recent history (newest first).
type State struct {
	Auction  *models.Auction
	History  []models.Bid
	LoadedAt time.Time
}

func (s *State) clone() *State {
	history := make([]models.Bid, len(s.History))
	copy(history, s.History)
	return &State{Auction: s.Auction.Clone(), History: history, LoadedAt: s.LoadedAt}
}

// entry is the working state of one auction. mu is the single-writer section for it.
type entry struct {
	mu      sync.Mutex
	state   *State // nil until hydrated
	evicted bool
}

// Cache holds the hot working state of auctions that currently have viewers.
type Cache struct {
	store        store.Store
	clock        clockwork.Clock
	historyLimit int

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	onLoad  []func(id uuid.UUID)
	onEvict []func(id uuid.UUID)
}

func NewCache(st store.Store, clock clockwork.Clock) *Cache {
	return &Cache{
		store:        st,
		clock:        clock,
		historyLimit: store.RecentHistoryLimit,
		entries:      make(map[uuid.UUID]*entry),
	}
}

// OnLoad registers fn to run after an auction is hydrated into a new entry.
// fn runs outside the entry lock.
func (c *Cache) OnLoad(fn func(id uuid.UUID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLoad = append(c.onLoad, fn)
}

// OnEvict registers fn to run after Evict drops an entry.
func (c *Cache) OnEvict(fn func(id uuid.UUID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = append(c.onEvict, fn)
}

// GetOrLoad returns a copy of the cached state, hydrating it from the store on first access.
func (c *Cache) GetOrLoad(ctx context.Context, id uuid.UUID) (*State, error) {
	var out *State
	err := c.withEntry(ctx, id, func(e *entry) error {
		out = e.state.clone()
		return nil
	})
	return out, err
}

// Peek returns a copy of the cached state without touching the store.
func (c *Cache) Peek(id uuid.UUID) (*State, bool) {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted || e.state == nil {
		return nil, false
	}
	return e.state.clone(), true
}

// Evict drops the entry unless a commit currently holds it. It reports whether the entry is gone.
func (c *Cache) Evict(id uuid.UUID) bool {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return true
	}
	if !e.mu.TryLock() {
		return false
	}
	c.drop(id, e)
	e.mu.Unlock()

	log.Debug().Str("auction_id", id.String()).Msg("auction evicted from cache")
	c.fire(c.hooks(&c.onEvict), id)
	return true
}

// Refresh reloads an entry from the store if it is cached. Uncached auctions are left alone.
func (c *Cache) Refresh(ctx context.Context, id uuid.UUID) (*State, error) {
	c.mu.Lock()
	_, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var out *State
	err := c.withEntry(ctx, id, func(e *entry) error {
		if err := c.hydrate(ctx, id, e); err != nil {
			return err
		}
		out = e.state.clone()
		return nil
	})
	return out, err
}

// SetParticipantCount mirrors the room size into a cached entry.
func (c *Cache) SetParticipantCount(id uuid.UUID, count int) {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil && !e.evicted {
		e.state.Auction.ParticipantCount = count
	}
}

// Len reports the number of cached auctions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// withEntry runs fn inside the auction's single-writer section, hydrating first if needed.
func (c *Cache) withEntry(ctx context.Context, id uuid.UUID, fn func(e *entry) error) error {
	for {
		c.mu.Lock()
		e, ok := c.entries[id]
		if !ok {
			e = &entry{}
			c.entries[id] = e
		}
		c.mu.Unlock()

		e.mu.Lock()
		if e.evicted {
			// Lost a race with Evict; retry with a fresh entry.
			e.mu.Unlock()
			continue
		}

		loaded := false
		if e.state == nil {
			if err := c.hydrate(ctx, id, e); err != nil {
				c.drop(id, e)
				e.mu.Unlock()
				return err
			}
			loaded = true
		}

		err := fn(e)
		e.mu.Unlock()

		if loaded {
			c.fire(c.hooks(&c.onLoad), id)
		}
		return err
	}
}

func (c *Cache) hooks(list *[]func(id uuid.UUID)) []func(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *list
}

func (c *Cache) fire(hooks []func(id uuid.UUID), id uuid.UUID) {
	for _, fn := range hooks {
		fn(id)
	}
}

// hydrate loads the auction row and its history tail. Caller holds e.mu.
func (c *Cache) hydrate(ctx context.Context, id uuid.UUID, e *entry) error {
	a, err := c.store.GetAuction(ctx, id)
	if err != nil {
		return fmt.Errorf("load auction: %w", err)
	}
	history, err := c.store.ListRecentBids(ctx, id, c.historyLimit)
	if err != nil {
		return fmt.Errorf("load bid history: %w", err)
	}

	// Participant count is owned by live room membership, not the stored mirror.
	if e.state != nil {
		a.ParticipantCount = e.state.Auction.ParticipantCount
	}
	e.state = &State{Auction: a, History: history, LoadedAt: c.clock.Now()}

	log.Debug().
		Str("auction_id", id.String()).
		Int("history", len(history)).
		Msg("auction hydrated into cache")
	return nil
}

// drop removes e from the map. Caller holds e.mu.
func (c *Cache) drop(id uuid.UUID, e *entry) {
	e.evicted = true
	c.mu.Lock()
	if c.entries[id] == e {
		delete(c.entries, id)
	}
	c.mu.Unlock()
}

// apply records a committed bid in the entry. Caller holds e.mu.
func (c *Cache) apply(e *entry, updated *models.Auction, bid models.Bid) {
	participants := e.state.Auction.ParticipantCount
	e.state.Auction = updated
	e.state.Auction.ParticipantCount = participants

	history := make([]models.Bid, 0, c.historyLimit)
	history = append(history, bid)
	for _, b := range e.state.History {
		if len(history) == c.historyLimit {
			break
		}
		history = append(history, b)
	}
	e.state.History = history
}
