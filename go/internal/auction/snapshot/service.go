package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Provider serves authoritative auction snapshots.
type Provider interface {
	GetSnapshot(ctx context.Context, auctionID uuid.UUID) (*events.Snapshot, error)
}

// Service builds snapshots from the store, falling back to the cache when the store is down.
type Service struct {
	store        store.Store
	cache        *auction.Cache
	clock        clockwork.Clock
	historyLimit int
}

func NewService(st store.Store, cache *auction.Cache, clock clockwork.Clock) *Service {
	return &Service{
		store:        st,
		cache:        cache,
		clock:        clock,
		historyLimit: store.RecentHistoryLimit,
	}
}

// GetSnapshot returns the auction summary and its most recent bids, newest first.
func (s *Service) GetSnapshot(ctx context.Context, auctionID uuid.UUID) (*events.Snapshot, error) {
	snap, err := s.fromStore(ctx, auctionID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, auctionerrors.ErrTransientStore) {
		return nil, err
	}

	state, ok := s.cache.Peek(auctionID)
	if !ok {
		return nil, err
	}
	log.Warn().
		Err(err).
		Str("auction_id", auctionID.String()).
		Msg("store unavailable, serving snapshot from cache")
	return Build(state.Auction, state.History, s.clock.Now(), events.SourceCache), nil
}

func (s *Service) fromStore(ctx context.Context, auctionID uuid.UUID) (*events.Snapshot, error) {
	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot auction: %w", err)
	}
	history, err := s.store.ListRecentBids(ctx, auctionID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("snapshot bid history: %w", err)
	}

	// The stored count is a best-effort mirror; the live room count wins when cached.
	if state, ok := s.cache.Peek(auctionID); ok {
		a.ParticipantCount = state.Auction.ParticipantCount
	}
	return Build(a, history, s.clock.Now(), events.SourceStore), nil
}

// Build assembles a snapshot from an auction and its history (newest first).
func Build(a *models.Auction, history []models.Bid, now time.Time, source string) *events.Snapshot {
	entries := lo.Map(history, func(b models.Bid, _ int) events.BidEntry {
		return BidEntry(b, a.WinningBidID)
	})
	return &events.Snapshot{
		Auction:         Summary(a),
		BidHistory:      entries,
		ServerTimestamp: now.UTC(),
		Source:          source,
	}
}

// Summary converts an auction into its wire summary.
func Summary(a *models.Auction) events.AuctionSummary {
	out := events.AuctionSummary{
		AuctionID:        a.ID.String(),
		ProductID:        a.ProductID,
		Status:           string(a.Status),
		StartingBid:      a.StartingBid,
		CurrentBid:       a.CurrentBid,
		MinimumBid:       auction.MinimumQualifyingBid(a.CurrentBid),
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		ParticipantCount: a.ParticipantCount,
		TotalBids:        a.TotalBids,
		ReservePrice:     a.ReservePrice,
		ReserveMet:       a.ReserveMet(),
		LastBidTime:      a.LastBidTime,
		Version:          a.Version,
	}
	if a.CurrentBidderID != nil {
		bidder := &events.Bidder{ID: *a.CurrentBidderID}
		if a.CurrentBidderName != nil {
			bidder.Name = *a.CurrentBidderName
		}
		out.CurrentBidder = bidder
	}
	if a.WinningBidID != nil {
		out.WinningBidID = lo.ToPtr(a.WinningBidID.String())
	}
	return out
}

// BidEntry converts a bid into a history row.
func BidEntry(b models.Bid, winningBidID *uuid.UUID) events.BidEntry {
	return events.BidEntry{
		BidID:        b.ID.String(),
		Amount:       b.Amount,
		Bidder:       events.Bidder{ID: b.BidderID, Name: b.BidderName},
		Timestamp:    b.CreatedAt,
		Sequence:     b.Sequence,
		IsWinningBid: b.IsWinningBid || (winningBidID != nil && *winningBidID == b.ID),
	}
}
