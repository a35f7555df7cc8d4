package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/gateway"
	"github.com/mcdev12/auctionsync/go/internal/auction/lifecycle"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Gateway   *gateway.Service
	Scheduler *lifecycle.Scheduler

	bus *events.JetStreamPublisher
}

func setupServices(ctx context.Context, cfg *Config, st store.Store) (*Services, error) {
	// Wire up dependency injection chain
	// Store → event bus → gateway (cache, rooms, committer) → lifecycle scheduler
	clock := clockwork.NewRealClock()
	deps := gateway.Deps{Store: st, Clock: clock}

	services := &Services{}
	if cfg.NATS.URL != "" {
		bus, err := events.NewJetStreamPublisher(ctx, cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event bus: %w", err)
		}
		services.bus = bus
		deps.Bus = bus
		deps.JetStream = bus.JetStream()
		deps.JetStreamConfig = cfg.NATS
		log.Info().Str("nats_url", bus.Conn().ConnectedUrl()).Msg("events fan out through JetStream")
	}

	gw, err := gateway.NewService(ctx, cfg.Gateway, deps)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}
	services.Gateway = gw

	scheduler, err := lifecycle.NewScheduler(st, gw.Cache(), gw.Publisher(), clock, cfg.Lifecycle)
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create lifecycle scheduler: %w", err)
	}
	services.Scheduler = scheduler

	if cfg.SeedFile != "" {
		if err := seed(ctx, gw.Auctions(), cfg.SeedFile); err != nil {
			services.Close()
			return nil, err
		}
	}
	return services, nil
}

func seed(ctx context.Context, auctions *auction.Service, path string) error {
	file, err := auction.LoadSeedFile(path)
	if err != nil {
		return fmt.Errorf("failed to load seed file: %w", err)
	}
	created, err := auctions.Seed(ctx, file)
	if err != nil {
		return fmt.Errorf("failed to seed auctions: %w", err)
	}
	log.Info().Int("auctions", len(created)).Str("file", path).Msg("seeded auctions")
	return nil
}

// Close releases the event bus connection.
func (s *Services) Close() {
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event bus")
		}
	}
}
