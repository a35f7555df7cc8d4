package auction

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Service owns auction intake and operator actions.
type Service struct {
	store     store.Store
	cache     *Cache
	publisher events.Publisher
	clock     clockwork.Clock
}

func NewService(st store.Store, cache *Cache, publisher events.Publisher, clock clockwork.Clock) *Service {
	return &Service{
		store:     st,
		cache:     cache,
		publisher: publisher,
		clock:     clock,
	}
}

func validateDefinition(def models.AuctionDefinition) error {
	switch {
	case strings.TrimSpace(def.ProductID) == "":
		return auctionerrors.Validation("product id is required")
	case !def.Biddable:
		return auctionerrors.Validation("product %s is not biddable", def.ProductID)
	case def.StartingBid.IsNegative():
		return auctionerrors.Validation("starting bid must not be negative")
	case !def.StartingBid.Equal(def.StartingBid.Truncate(AmountScale)):
		return auctionerrors.Validation("starting bid has more than %d decimal places", AmountScale)
	case def.StartingBid.GreaterThanOrEqual(MaxAmount):
		return auctionerrors.Validation("starting bid must be below %s", MaxAmount.String())
	case def.ReservePrice != nil && def.ReservePrice.GreaterThanOrEqual(MaxAmount):
		return auctionerrors.Validation("reserve price must be below %s", MaxAmount.String())
	case def.StartTime.IsZero() || def.EndTime.IsZero():
		return auctionerrors.Validation("start and end time are required")
	case !def.EndTime.After(def.StartTime):
		return auctionerrors.Validation("end time must be after start time")
	case def.ReservePrice != nil && def.ReservePrice.LessThan(def.StartingBid):
		return auctionerrors.Validation("reserve price below starting bid")
	}
	return nil
}

// CreateAuction turns a biddable product definition into an auction. It starts active
// when the window is already open and pending otherwise.
func (s *Service) CreateAuction(ctx context.Context, def models.AuctionDefinition) (*models.Auction, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if !def.EndTime.After(now) {
		return nil, auctionerrors.Validation("end time %s is already in the past", def.EndTime.Format("2006-01-02T15:04:05Z07:00"))
	}

	status := models.AuctionStatusActive
	if def.StartTime.After(now) {
		status = models.AuctionStatusPending
	}

	a := &models.Auction{
		ID:           uuid.New(),
		ProductID:    def.ProductID,
		StartingBid:  def.StartingBid,
		CurrentBid:   def.StartingBid,
		ReservePrice: def.ReservePrice,
		StartTime:    def.StartTime.UTC(),
		EndTime:      def.EndTime.UTC(),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAuction(ctx, a); err != nil {
		return nil, fmt.Errorf("create auction: %w", err)
	}

	log.Info().
		Str("auction_id", a.ID.String()).
		Str("product_id", a.ProductID).
		Str("status", string(a.Status)).
		Time("end_time", a.EndTime).
		Msg("auction created")
	return a, nil
}

// CancelAuction moves a pending or active auction to cancelled. No winner is recorded.
func (s *Service) CancelAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	before, err := s.store.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}

	a, err := s.store.CancelAuction(ctx, id, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := s.cache.Refresh(ctx, id); err != nil {
		log.Warn().Err(err).Str("auction_id", id.String()).Msg("failed to refresh cache after cancel")
	}
	PublishStatusChanged(ctx, s.publisher, before.Status, a)

	log.Info().Str("auction_id", id.String()).Msg("auction cancelled")
	return a, nil
}

// PublishStatusChanged announces a lifecycle transition; failures are only logged.
func PublishStatusChanged(ctx context.Context, publisher events.Publisher, from models.AuctionStatus, a *models.Auction) {
	payload := events.StatusChangedPayload{
		AuctionID: a.ID.String(),
		From:      string(from),
		To:        string(a.Status),
		ChangedAt: a.UpdatedAt,
	}
	if a.WinningBidID != nil {
		winner := a.WinningBidID.String()
		payload.WinningBidID = &winner
	}

	ev, err := events.New(events.TypeStatusChanged, a.ID, a.UpdatedAt, payload)
	if err == nil {
		err = publisher.Publish(ctx, ev)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("auction_id", a.ID.String()).
			Str("status", string(a.Status)).
			Msg("failed to publish statusChanged")
	}
}
