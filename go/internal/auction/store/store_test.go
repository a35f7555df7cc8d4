package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newActiveAuction(start decimal.Decimal) *models.Auction {
	return &models.Auction{
		ID:          uuid.New(),
		ProductID:   "sku-" + uuid.NewString()[:8],
		StartingBid: start,
		CurrentBid:  start,
		StartTime:   epoch.Add(-time.Hour),
		EndTime:     epoch.Add(time.Hour),
		Status:      models.AuctionStatusActive,
		CreatedAt:   epoch.Add(-time.Hour),
	}
}

func bidFor(a *models.Auction, amount string, bidder string, at time.Time) models.Bid {
	id, _ := uuid.NewV7()
	return models.Bid{
		ID:         id,
		AuctionID:  a.ID,
		Amount:     decimal.RequireFromString(amount),
		BidderID:   bidder,
		BidderName: bidder,
		CreatedAt:  at,
	}
}

// storeFactories returns every Store implementation available in this environment.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
	}

	dsn := os.Getenv("AUCTIONSYNC_TEST_DATABASE_URL")
	if dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			ctx := context.Background()
			pool, err := pgxpool.New(ctx, dsn)
			require.NoError(t, err)
			t.Cleanup(pool.Close)

			s := NewPostgresStore(pool)
			require.NoError(t, s.Migrate(ctx))
			return s
		}
	}
	return factories
}

func TestStore_CommitBidAdvancesAuction(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			a := newActiveAuction(decimal.RequireFromString("10.00"))
			require.NoError(t, s.CreateAuction(ctx, a))

			updated, bid, err := s.CommitBid(ctx, CommitBidParams{
				Bid:             bidFor(a, "12.50", "alice", epoch),
				ExpectedVersion: 0,
			})
			require.NoError(t, err)
			assert.EqualValues(t, 1, bid.Sequence)
			assert.EqualValues(t, 1, updated.TotalBids)
			assert.EqualValues(t, 1, updated.Version)
			assert.True(t, updated.CurrentBid.Equal(decimal.RequireFromString("12.50")))
			require.NotNil(t, updated.CurrentBidderID)
			assert.Equal(t, "alice", *updated.CurrentBidderID)

			updated, bid, err = s.CommitBid(ctx, CommitBidParams{
				Bid:             bidFor(a, "15", "bob", epoch.Add(time.Second)),
				ExpectedVersion: 1,
			})
			require.NoError(t, err)
			assert.EqualValues(t, 2, bid.Sequence)
			assert.EqualValues(t, 2, updated.TotalBids)

			recent, err := s.ListRecentBids(ctx, a.ID, RecentHistoryLimit)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "bob", recent[0].BidderID, "newest first")
			assert.Equal(t, "alice", recent[1].BidderID)
		})
	}
}

func TestStore_CommitBidVersionConflict(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			a := newActiveAuction(decimal.RequireFromString("10"))
			require.NoError(t, s.CreateAuction(ctx, a))

			_, _, err := s.CommitBid(ctx, CommitBidParams{Bid: bidFor(a, "11", "alice", epoch)})
			require.NoError(t, err)

			// Stale version: validated against the pre-commit state.
			_, _, err = s.CommitBid(ctx, CommitBidParams{Bid: bidFor(a, "12", "bob", epoch)})
			assert.ErrorIs(t, err, auctionerrors.ErrStateChanged)

			got, err := s.GetAuction(ctx, a.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 1, got.TotalBids)
			assert.True(t, got.CurrentBid.Equal(decimal.RequireFromString("11")))
		})
	}
}

func TestStore_GetAuctionNotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := factory(t).GetAuction(context.Background(), uuid.New())
			assert.ErrorIs(t, err, auctionerrors.ErrAuctionNotFound)
		})
	}
}

func TestStore_CompleteAuctionIsIdempotent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			a := newActiveAuction(decimal.RequireFromString("10"))
			require.NoError(t, s.CreateAuction(ctx, a))

			_, _, err := s.CommitBid(ctx, CommitBidParams{Bid: bidFor(a, "20", "alice", epoch)})
			require.NoError(t, err)
			_, _, err = s.CommitBid(ctx, CommitBidParams{Bid: bidFor(a, "30", "bob", epoch), ExpectedVersion: 1})
			require.NoError(t, err)

			// Not due yet.
			res, err := s.CompleteAuction(ctx, a.ID, epoch)
			require.NoError(t, err)
			assert.False(t, res.Changed)
			assert.Equal(t, models.AuctionStatusActive, res.Auction.Status)

			after := a.EndTime
			res, err = s.CompleteAuction(ctx, a.ID, after)
			require.NoError(t, err)
			require.True(t, res.Changed)
			require.NotNil(t, res.WinningBid)
			assert.Equal(t, "bob", res.WinningBid.BidderID)
			assert.Equal(t, models.AuctionStatusCompleted, res.Auction.Status)
			require.NotNil(t, res.Auction.WinningBidID)
			assert.Equal(t, res.WinningBid.ID, *res.Auction.WinningBidID)

			again, err := s.CompleteAuction(ctx, a.ID, after.Add(time.Minute))
			require.NoError(t, err)
			assert.False(t, again.Changed)
			assert.Equal(t, res.Auction.Version, again.Auction.Version)
			assert.Equal(t, *res.Auction.WinningBidID, *again.Auction.WinningBidID)

			top, err := s.HighestBid(ctx, a.ID)
			require.NoError(t, err)
			assert.True(t, top.IsWinningBid)
		})
	}
}

func TestStore_CompleteAuctionWithoutBids(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			a := newActiveAuction(decimal.RequireFromString("10"))
			require.NoError(t, s.CreateAuction(ctx, a))

			_, err := s.HighestBid(ctx, a.ID)
			assert.ErrorIs(t, err, auctionerrors.ErrNoBids)

			res, err := s.CompleteAuction(ctx, a.ID, a.EndTime)
			require.NoError(t, err)
			assert.True(t, res.Changed)
			assert.Nil(t, res.WinningBid)
			assert.Nil(t, res.Auction.WinningBidID)
		})
	}
}

func TestStore_ActivateAndCancel(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			a := newActiveAuction(decimal.RequireFromString("5"))
			a.Status = models.AuctionStatusPending
			a.StartTime = epoch.Add(time.Minute)
			require.NoError(t, s.CreateAuction(ctx, a))

			due, err := s.ListDueForActivation(ctx, epoch, 10)
			require.NoError(t, err)
			assert.NotContains(t, due, a.ID)

			_, changed, err := s.ActivateAuction(ctx, a.ID, epoch)
			require.NoError(t, err)
			assert.False(t, changed, "start time not reached")

			due, err = s.ListDueForActivation(ctx, a.StartTime, 10)
			require.NoError(t, err)
			assert.Contains(t, due, a.ID)

			activated, changed, err := s.ActivateAuction(ctx, a.ID, a.StartTime)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, models.AuctionStatusActive, activated.Status)

			cancelled, err := s.CancelAuction(ctx, a.ID, a.StartTime)
			require.NoError(t, err)
			assert.Equal(t, models.AuctionStatusCancelled, cancelled.Status)

			_, err = s.CancelAuction(ctx, a.ID, a.StartTime)
			assert.ErrorIs(t, err, auctionerrors.ErrInvalidTransition)
		})
	}
}

func TestStore_UpdateParticipantCount(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			a := newActiveAuction(decimal.RequireFromString("5"))
			require.NoError(t, s.CreateAuction(ctx, a))

			require.NoError(t, s.UpdateParticipantCount(ctx, a.ID, 3))
			got, err := s.GetAuction(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, got.ParticipantCount)

			err = s.UpdateParticipantCount(ctx, uuid.New(), 1)
			assert.ErrorIs(t, err, auctionerrors.ErrAuctionNotFound)
		})
	}
}

func TestIsTransientCode(t *testing.T) {
	assert.True(t, isTransientCode("08006"))
	assert.True(t, isTransientCode("40001"))
	assert.True(t, isTransientCode("57P01"))
	assert.False(t, isTransientCode("23505"))
}

func TestClassify(t *testing.T) {
	overflow := &pgconn.PgError{Code: "22003", Message: "numeric field overflow"}
	err := classify(fmt.Errorf("advance auction: %w", overflow))
	assert.ErrorIs(t, err, auctionerrors.ErrValidation)
	assert.NotErrorIs(t, err, auctionerrors.ErrTransientStore)

	err = classify(&pgconn.PgError{Code: "40001"})
	assert.ErrorIs(t, err, auctionerrors.ErrTransientStore)

	assert.ErrorIs(t, classify(pgx.ErrNoRows), auctionerrors.ErrAuctionNotFound)
	assert.NoError(t, classify(nil))
}
