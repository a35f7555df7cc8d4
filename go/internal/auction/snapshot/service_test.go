package snapshot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newAuction() *models.Auction {
	return &models.Auction{
		ID:          uuid.New(),
		ProductID:   "sku-snap",
		StartingBid: decimal.NewFromInt(10),
		CurrentBid:  decimal.NewFromInt(10),
		StartTime:   epoch,
		EndTime:     epoch.Add(time.Hour),
		Status:      models.AuctionStatusActive,
		CreatedAt:   epoch,
	}
}

func TestGetSnapshot_IsIdempotentWithoutBids(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	st := store.NewMemoryStore()
	cache := auction.NewCache(st, clock)
	committer := auction.NewCommitter(cache, st, events.NewLocalPublisher(nil), clock)
	svc := NewService(st, cache, clock)

	a := newAuction()
	require.NoError(t, st.CreateAuction(ctx, a))
	for i, amount := range []string{"11", "12.50", "14"} {
		_, err := committer.CommitBid(ctx, auction.BidRequest{
			AuctionID:  a.ID,
			Amount:     decimal.RequireFromString(amount),
			BidderID:   fmt.Sprintf("bidder-%d", i),
			BidderName: fmt.Sprintf("Bidder %d", i),
		})
		require.NoError(t, err)
	}

	first, err := svc.GetSnapshot(ctx, a.ID)
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	second, err := svc.GetSnapshot(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Auction, second.Auction)
	assert.Equal(t, first.BidHistory, second.BidHistory)
	assert.Equal(t, events.SourceStore, second.Source)
	assert.True(t, second.ServerTimestamp.After(first.ServerTimestamp))

	require.Len(t, first.BidHistory, 3)
	assert.EqualValues(t, 3, first.BidHistory[0].Sequence, "newest first")
	assert.True(t, first.Auction.CurrentBid.Equal(decimal.NewFromInt(14)))
	assert.True(t, first.Auction.MinimumBid.Equal(decimal.RequireFromString("14.01")))
	require.NotNil(t, first.Auction.CurrentBidder)
	assert.Equal(t, "bidder-2", first.Auction.CurrentBidder.ID)
}

func TestGetSnapshot_FallsBackToCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	st := store.NewMockStore(ctrl)
	cache := auction.NewCache(st, clock)
	svc := NewService(st, cache, clock)

	a := newAuction()
	a.ParticipantCount = 4
	history := []models.Bid{{
		ID: uuid.New(), AuctionID: a.ID, Amount: decimal.NewFromInt(11),
		BidderID: "alice", BidderName: "Alice", Sequence: 1, CreatedAt: epoch,
	}}

	gomock.InOrder(
		st.EXPECT().GetAuction(gomock.Any(), a.ID).Return(a.Clone(), nil),
		st.EXPECT().ListRecentBids(gomock.Any(), a.ID, store.RecentHistoryLimit).Return(history, nil),
		st.EXPECT().GetAuction(gomock.Any(), a.ID).
			Return(nil, fmt.Errorf("get auction: %w", auctionerrors.ErrTransientStore)),
	)

	_, err := cache.GetOrLoad(ctx, a.ID)
	require.NoError(t, err)

	snap, err := svc.GetSnapshot(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, events.SourceCache, snap.Source)
	assert.Equal(t, 4, snap.Auction.ParticipantCount)
	require.Len(t, snap.BidHistory, 1)
	assert.Equal(t, "alice", snap.BidHistory[0].Bidder.ID)
}

func TestGetSnapshot_StoreDownAndNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := clockwork.NewFakeClockAt(epoch)
	st := store.NewMockStore(ctrl)
	svc := NewService(st, auction.NewCache(st, clock), clock)

	id := uuid.New()
	st.EXPECT().GetAuction(gomock.Any(), id).Return(nil, auctionerrors.ErrTransientStore)

	_, err := svc.GetSnapshot(context.Background(), id)
	assert.ErrorIs(t, err, auctionerrors.ErrTransientStore)
}

func TestGetSnapshot_NotFound(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	st := store.NewMemoryStore()
	svc := NewService(st, auction.NewCache(st, clock), clock)

	_, err := svc.GetSnapshot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, auctionerrors.ErrAuctionNotFound)
}

func TestSummary_CompletedAuction(t *testing.T) {
	a := newAuction()
	winner := uuid.New()
	reserve := decimal.NewFromInt(50)
	bidder := "bob"
	a.Status = models.AuctionStatusCompleted
	a.CurrentBid = decimal.NewFromInt(40)
	a.CurrentBidderID = &bidder
	a.TotalBids = 3
	a.ReservePrice = &reserve
	a.WinningBidID = &winner

	s := Summary(a)
	assert.Equal(t, "completed", s.Status)
	require.NotNil(t, s.WinningBidID)
	assert.Equal(t, winner.String(), *s.WinningBidID)
	assert.False(t, s.ReserveMet)
	assert.Equal(t, "bob", s.CurrentBidder.ID)

	entry := BidEntry(models.Bid{ID: winner, Amount: a.CurrentBid}, a.WinningBidID)
	assert.True(t, entry.IsWinningBid)
}
