package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionsync/go/internal/models"
)

//go:generate mockgen -source=store.go -destination=mock_store.go -package=store

// RecentHistoryLimit is the number of bids kept in the hot history tail.
const RecentHistoryLimit = 20

// CommitBidParams carries a validated bid and the auction version it was validated against.
type CommitBidParams struct {
	Bid             models.Bid
	ClientTimestamp *time.Time
	ExpectedVersion int64
}

// CompletionResult describes the outcome of closing an auction.
type CompletionResult struct {
	Auction    *models.Auction
	WinningBid *models.Bid
	// Changed is false when the auction was already closed or not yet due.
	Changed bool
}

// Store is the durable home of auctions and bids.
type Store interface {
	CreateAuction(ctx context.Context, auction *models.Auction) error
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	// ListRecentBids returns up to limit bids, newest first.
	ListRecentBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error)
	HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
	// CommitBid inserts the bid and advances the auction row in one transaction.
	// It fails with ErrStateChanged if the row version no longer matches.
	CommitBid(ctx context.Context, params CommitBidParams) (*models.Auction, *models.Bid, error)
	UpdateParticipantCount(ctx context.Context, id uuid.UUID, count int) error
	ListDueForActivation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListDueForCompletion(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ActivateAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, bool, error)
	CompleteAuction(ctx context.Context, id uuid.UUID, now time.Time) (*CompletionResult, error)
	CancelAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, error)
	Ping(ctx context.Context) error
}
