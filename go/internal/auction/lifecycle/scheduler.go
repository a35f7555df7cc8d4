package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Config holds sweep settings.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  time.Second,
		BatchSize: 100,
	}
}

// SweepResult counts the transitions made by one sweep.
type SweepResult struct {
	Activated int
	Completed int
	Failed    int
}

// Scheduler promotes pending auctions and closes ended ones on a fixed period.
type Scheduler struct {
	store     store.Store
	cache     *auction.Cache
	publisher events.Publisher
	clock     clockwork.Clock
	config    Config
	scheduler gocron.Scheduler

	// sweepMu keeps a manual Sweep from overlapping the scheduled one.
	sweepMu sync.Mutex
}

func NewScheduler(st store.Store, cache *auction.Cache, publisher events.Publisher, clock clockwork.Clock, config Config) (*Scheduler, error) {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}

	scheduler, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}

	return &Scheduler{
		store:     st,
		cache:     cache,
		publisher: publisher,
		clock:     clock,
		config:    config,
		scheduler: scheduler,
	}, nil
}

// Start registers the sweep job and starts the scheduler. ctx bounds every sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.config.Interval),
		gocron.NewTask(func() {
			s.Sweep(ctx)
		}),
		gocron.WithName("auction-lifecycle-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}

	s.scheduler.Start()
	log.Info().Dur("interval", s.config.Interval).Msg("lifecycle scheduler started")
	return nil
}

// Stop shuts the scheduler down and waits for a running sweep to return.
func (s *Scheduler) Stop() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown lifecycle scheduler: %w", err)
	}
	log.Info().Msg("lifecycle scheduler stopped")
	return nil
}

// Sweep runs one pass. Failures are logged and picked up again by the next pass.
func (s *Scheduler) Sweep(ctx context.Context) SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var result SweepResult
	if ctx.Err() != nil {
		return result
	}
	now := s.clock.Now().UTC()

	due, err := s.store.ListDueForActivation(ctx, now, s.config.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list auctions due for activation")
		result.Failed++
	}
	for _, id := range due {
		if err := s.activate(ctx, id, now); err != nil {
			log.Error().Err(err).Str("auction_id", id.String()).Msg("failed to activate auction")
			result.Failed++
			continue
		}
		result.Activated++
	}

	ended, err := s.store.ListDueForCompletion(ctx, now, s.config.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list auctions due for completion")
		result.Failed++
	}
	for _, id := range ended {
		changed, err := s.complete(ctx, id, now)
		if err != nil {
			log.Error().Err(err).Str("auction_id", id.String()).Msg("failed to complete auction")
			result.Failed++
			continue
		}
		if changed {
			result.Completed++
		}
	}

	if result.Activated > 0 || result.Completed > 0 || result.Failed > 0 {
		log.Info().
			Int("activated", result.Activated).
			Int("completed", result.Completed).
			Int("failed", result.Failed).
			Msg("lifecycle sweep finished")
	}
	return result
}

func (s *Scheduler) activate(ctx context.Context, id uuid.UUID, now time.Time) error {
	a, changed, err := s.store.ActivateAuction(ctx, id, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.refresh(ctx, id)
	auction.PublishStatusChanged(ctx, s.publisher, models.AuctionStatusPending, a)
	log.Info().Str("auction_id", id.String()).Msg("auction activated")
	return nil
}

// complete closes an ended auction. Re-running it on a closed auction changes nothing.
func (s *Scheduler) complete(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := s.store.CompleteAuction(ctx, id, now)
	if err != nil {
		return false, err
	}
	if !res.Changed {
		return false, nil
	}

	s.refresh(ctx, id)
	auction.PublishStatusChanged(ctx, s.publisher, models.AuctionStatusActive, res.Auction)

	ev := log.Info().
		Str("auction_id", id.String()).
		Int64("total_bids", res.Auction.TotalBids)
	if res.WinningBid != nil {
		ev = ev.Str("winning_bid_id", res.WinningBid.ID.String()).
			Str("winning_amount", res.WinningBid.Amount.StringFixed(auction.AmountScale)).
			Bool("reserve_met", res.Auction.ReserveMet())
	}
	ev.Msg("auction completed")
	return true, nil
}

func (s *Scheduler) refresh(ctx context.Context, id uuid.UUID) {
	if _, err := s.cache.Refresh(ctx, id); err != nil {
		// Committers still reject on end time; only the cached view lags.
		log.Warn().Err(err).Str("auction_id", id.String()).Msg("failed to refresh cached auction")
	}
}
