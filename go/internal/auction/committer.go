package auction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	// MaxBidderNameLength bounds display names in runes.
	MaxBidderNameLength = 64
	// AmountScale is the number of decimal places accepted in a bid amount.
	AmountScale = 2
)

var (
	// minimumIncrement is the smallest step above the current price at AmountScale.
	minimumIncrement = decimal.New(1, -AmountScale)
	// MaxAmount is the exclusive upper bound of a NUMERIC(18,2) money column.
	MaxAmount = decimal.New(1, 18-AmountScale)
)

// BidRequest is a bid as submitted by a viewer.
type BidRequest struct {
	AuctionID  uuid.UUID
	Amount     decimal.Decimal
	BidderID   string
	BidderName string
	// ClientTimestamp is recorded for diagnostics only; it never decides whether the auction ended.
	ClientTimestamp *time.Time
}

// CommitResult is the outcome of a bid. On rejection State holds the state the bid was judged against.
type CommitResult struct {
	Accepted   bool
	Reason     string
	MinimumBid *decimal.Decimal
	State      *State
	Bid        *models.Bid
	Sequence   int64
}

// Committer validates and commits bids, one auction at a time.
type Committer struct {
	cache     *Cache
	store     store.Store
	publisher events.Publisher
	clock     clockwork.Clock
}

func NewCommitter(cache *Cache, st store.Store, publisher events.Publisher, clock clockwork.Clock) *Committer {
	return &Committer{
		cache:     cache,
		store:     st,
		publisher: publisher,
		clock:     clock,
	}
}

// MinimumQualifyingBid is the lowest amount that beats current.
func MinimumQualifyingBid(current decimal.Decimal) decimal.Decimal {
	return current.Add(minimumIncrement)
}

// ValidateBidRequest checks the request shape before any state is consulted.
func ValidateBidRequest(req BidRequest) error {
	switch {
	case req.AuctionID == uuid.Nil:
		return auctionerrors.Validation("auction id is required")
	case strings.TrimSpace(req.BidderID) == "":
		return auctionerrors.Validation("bidder id is required")
	case !req.Amount.IsPositive():
		return auctionerrors.Validation("amount must be positive")
	case !req.Amount.Equal(req.Amount.Truncate(AmountScale)):
		return auctionerrors.Validation("amount has more than %d decimal places", AmountScale)
	case req.Amount.GreaterThanOrEqual(MaxAmount):
		return auctionerrors.Validation("amount must be below %s", MaxAmount.String())
	case utf8.RuneCountInString(req.BidderName) > MaxBidderNameLength:
		return auctionerrors.Validation("bidder name longer than %d characters", MaxBidderNameLength)
	}
	return nil
}

// CommitBid validates a bid against the authoritative state and commits it.
//
// Business rejections return a result with Accepted=false together with a *RejectionError.
// Any other error means nothing was committed and nothing was published.
func (c *Committer) CommitBid(ctx context.Context, req BidRequest) (*CommitResult, error) {
	if err := ValidateBidRequest(req); err != nil {
		return &CommitResult{Reason: auctionerrors.ReasonValidation}, auctionerrors.Reject(err, nil)
	}

	var result *CommitResult
	err := c.cache.withEntry(ctx, req.AuctionID, func(e *entry) error {
		var err error
		result, err = c.commitLocked(ctx, e, req)
		return err
	})

	var rej *auctionerrors.RejectionError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &rej):
		return result, err
	case errors.Is(err, auctionerrors.ErrAuctionNotFound):
		return &CommitResult{Reason: auctionerrors.ReasonNotFound}, auctionerrors.Reject(err, nil)
	default:
		return nil, err
	}
}

// commitLocked runs inside the auction's single-writer section.
func (c *Committer) commitLocked(ctx context.Context, e *entry, req BidRequest) (*CommitResult, error) {
	now := c.clock.Now()
	a := e.state.Auction

	if reason := openFor(a, now); reason != nil {
		return c.reject(e, reason), auctionerrors.Reject(reason, nil)
	}
	if req.Amount.LessThanOrEqual(a.CurrentBid) {
		minimum := MinimumQualifyingBid(a.CurrentBid)
		res := c.reject(e, auctionerrors.ErrBidTooLow)
		res.MinimumBid = &minimum
		return res, auctionerrors.Reject(auctionerrors.ErrBidTooLow, &minimum)
	}

	bidID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate bid id: %w", err)
	}
	updated, bid, err := c.store.CommitBid(ctx, store.CommitBidParams{
		Bid: models.Bid{
			ID:         bidID,
			AuctionID:  a.ID,
			Amount:     req.Amount,
			BidderID:   req.BidderID,
			BidderName: req.BidderName,
			CreatedAt:  now,
		},
		ClientTimestamp: req.ClientTimestamp,
		ExpectedVersion: a.Version,
	})
	switch {
	case errors.Is(err, auctionerrors.ErrStateChanged):
		return c.resync(ctx, e, err)
	case errors.Is(err, auctionerrors.ErrValidation):
		return c.reject(e, err), auctionerrors.Reject(err, nil)
	case errors.Is(err, auctionerrors.ErrAuctionNotFound), errors.Is(err, auctionerrors.ErrTransientStore):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %w", auctionerrors.ErrTransientStore, err)
	}

	c.cache.apply(e, updated, *bid)
	c.publishAccepted(ctx, *bid, updated.TotalBids)

	log.Info().
		Str("auction_id", a.ID.String()).
		Str("bid_id", bid.ID.String()).
		Str("bidder_id", bid.BidderID).
		Str("amount", bid.Amount.StringFixed(AmountScale)).
		Int64("sequence", bid.Sequence).
		Msg("bid committed")

	return &CommitResult{
		Accepted: true,
		State:    e.state.clone(),
		Bid:      bid,
		Sequence: bid.Sequence,
	}, nil
}

// openFor reports why the auction cannot take bids at now, or nil if it can.
func openFor(a *models.Auction, now time.Time) error {
	switch {
	case a.Status == models.AuctionStatusPending && !a.HasEnded(now):
		return auctionerrors.ErrAuctionNotOpen
	case a.Status != models.AuctionStatusActive:
		return auctionerrors.ErrAuctionEnded
	case a.HasEnded(now):
		return auctionerrors.ErrAuctionEnded
	}
	return nil
}

func (c *Committer) reject(e *entry, reason error) *CommitResult {
	return &CommitResult{
		Reason: auctionerrors.ReasonFor(reason),
		State:  e.state.clone(),
	}
}

// resync reloads the entry after another writer moved the row and reports the fresh minimum.
// A row that closed in the meantime is reported as ended instead.
func (c *Committer) resync(ctx context.Context, e *entry, cause error) (*CommitResult, error) {
	id := e.state.Auction.ID
	if err := c.cache.hydrate(ctx, id, e); err != nil {
		c.cache.drop(id, e)
		return nil, fmt.Errorf("reload after conflict: %w", err)
	}
	if reason := openFor(e.state.Auction, c.clock.Now()); reason != nil {
		log.Info().
			Err(cause).
			Str("auction_id", id.String()).
			Str("status", string(e.state.Auction.Status)).
			Msg("bid lost race with auction close")
		return c.reject(e, reason), auctionerrors.Reject(reason, nil)
	}

	minimum := MinimumQualifyingBid(e.state.Auction.CurrentBid)
	log.Warn().
		Err(cause).
		Str("auction_id", id.String()).
		Int64("version", e.state.Auction.Version).
		Msg("bid lost version race, cache reloaded")

	res := c.reject(e, auctionerrors.ErrStateChanged)
	res.MinimumBid = &minimum
	return res, auctionerrors.Reject(auctionerrors.ErrStateChanged, &minimum)
}

func (c *Committer) publishAccepted(ctx context.Context, bid models.Bid, totalBids int64) {
	ev, err := events.New(events.TypeBidAccepted, bid.AuctionID, bid.CreatedAt, events.BidAcceptedPayload{
		AuctionID: bid.AuctionID.String(),
		BidID:     bid.ID.String(),
		Amount:    bid.Amount,
		Bidder:    events.Bidder{ID: bid.BidderID, Name: bid.BidderName},
		Timestamp: bid.CreatedAt,
		Sequence:  bid.Sequence,
		TotalBids: totalBids,
	})
	if err == nil {
		err = c.publisher.Publish(ctx, ev)
	}
	if err != nil {
		// The bid is durable; viewers converge on the next snapshot.
		log.Error().
			Err(err).
			Str("auction_id", bid.AuctionID.String()).
			Int64("sequence", bid.Sequence).
			Msg("failed to publish bidAccepted")
	}
}
