package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/models"
)

// MemoryStore keeps auctions in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*models.Auction
	bids     map[uuid.UUID][]models.Bid // ordered by sequence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[uuid.UUID]*models.Auction),
		bids:     make(map[uuid.UUID][]models.Bid),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) CreateAuction(ctx context.Context, auction *models.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.auctions[auction.ID]; exists {
		return fmt.Errorf("insert auction %s: duplicate id", auction.ID)
	}
	a := auction.Clone()
	a.TotalBids = 0
	a.Version = 0
	a.ParticipantCount = 0
	a.UpdatedAt = a.CreatedAt
	s.auctions[a.ID] = a
	return nil
}

func (s *MemoryStore) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("get auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListRecentBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.bids[auctionID]
	out := make([]models.Bid, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.highestLocked(auctionID)
	if b == nil {
		return nil, auctionerrors.ErrNoBids
	}
	out := *b
	return &out, nil
}

func (s *MemoryStore) highestLocked(auctionID uuid.UUID) *models.Bid {
	var top *models.Bid
	bids := s.bids[auctionID]
	for i := range bids {
		if top == nil || bids[i].Amount.GreaterThan(top.Amount) {
			top = &bids[i]
		}
	}
	return top
}

func (s *MemoryStore) CommitBid(ctx context.Context, params CommitBidParams) (*models.Auction, *models.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("commit bid: %w: %w", auctionerrors.ErrTransientStore, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bid := params.Bid
	a, ok := s.auctions[bid.AuctionID]
	if !ok {
		return nil, nil, fmt.Errorf("commit bid on %s: %w", bid.AuctionID, auctionerrors.ErrAuctionNotFound)
	}
	if a.Version != params.ExpectedVersion ||
		a.Status != models.AuctionStatusActive ||
		!bid.Amount.GreaterThan(a.CurrentBid) {
		return nil, nil, fmt.Errorf("commit bid on %s: %w", bid.AuctionID, auctionerrors.ErrStateChanged)
	}

	a.TotalBids++
	a.Version++
	a.CurrentBid = bid.Amount
	bidderID, bidderName, at := bid.BidderID, bid.BidderName, bid.CreatedAt
	a.CurrentBidderID = &bidderID
	a.CurrentBidderName = &bidderName
	a.LastBidTime = &at
	a.UpdatedAt = at

	bid.Sequence = a.TotalBids
	s.bids[a.ID] = append(s.bids[a.ID], bid)

	return a.Clone(), &bid, nil
}

func (s *MemoryStore) UpdateParticipantCount(ctx context.Context, id uuid.UUID, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return fmt.Errorf("update participant count %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	a.ParticipantCount = count
	return nil
}

func (s *MemoryStore) ListDueForActivation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return s.listDue(limit, func(a *models.Auction) (bool, time.Time) {
		return a.Status == models.AuctionStatusPending && a.HasStarted(now), a.StartTime
	}), nil
}

func (s *MemoryStore) ListDueForCompletion(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return s.listDue(limit, func(a *models.Auction) (bool, time.Time) {
		return a.Status == models.AuctionStatusActive && a.HasEnded(now), a.EndTime
	}), nil
}

func (s *MemoryStore) listDue(limit int, due func(*models.Auction) (bool, time.Time)) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		id uuid.UUID
		at time.Time
	}
	var found []candidate
	for _, a := range s.auctions {
		if ok, at := due(a); ok {
			found = append(found, candidate{id: a.ID, at: at})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })

	ids := make([]uuid.UUID, 0, min(limit, len(found)))
	for _, c := range found {
		if len(ids) == limit {
			break
		}
		ids = append(ids, c.id)
	}
	return ids
}

func (s *MemoryStore) ActivateAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, false, fmt.Errorf("activate auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	if a.Status != models.AuctionStatusPending || !a.HasStarted(now) {
		return a.Clone(), false, nil
	}
	a.Status = models.AuctionStatusActive
	a.Version++
	a.UpdatedAt = now
	return a.Clone(), true, nil
}

func (s *MemoryStore) CompleteAuction(ctx context.Context, id uuid.UUID, now time.Time) (*CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("complete auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	if a.Status != models.AuctionStatusActive || !a.HasEnded(now) {
		return &CompletionResult{Auction: a.Clone()}, nil
	}

	result := &CompletionResult{Changed: true}
	if top := s.highestLocked(id); top != nil {
		top.IsWinningBid = true
		winner := *top
		result.WinningBid = &winner
		a.WinningBidID = &winner.ID
	}
	a.Status = models.AuctionStatusCompleted
	a.Version++
	a.UpdatedAt = now
	result.Auction = a.Clone()
	return result, nil
}

func (s *MemoryStore) CancelAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("cancel auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	if !a.Status.CanTransitionTo(models.AuctionStatusCancelled) {
		return nil, fmt.Errorf("cancel auction %s from %s: %w", id, a.Status, auctionerrors.ErrInvalidTransition)
	}
	a.Status = models.AuctionStatusCancelled
	a.Version++
	a.UpdatedAt = now
	return a.Clone(), nil
}
