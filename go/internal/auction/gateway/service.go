package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/room"
	"github.com/mcdev12/auctionsync/go/internal/auction/snapshot"
	"github.com/mcdev12/auctionsync/go/internal/auction/store"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the auction gateway service
type Config struct {
	Connection       ConnectionConfig
	Room             room.Config
	SnapshotDebounce time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultConfig returns default configuration for the auction gateway
func DefaultConfig() Config {
	return Config{
		Connection:       DefaultConnectionConfig(),
		Room:             room.DefaultConfig(),
		SnapshotDebounce: DefaultSnapshotDebounce,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Deps are the collaborators the gateway is built on.
type Deps struct {
	Store store.Store
	Clock clockwork.Clock
	// Bus publishes events to every instance. Nil delivers them to this instance only.
	Bus events.Publisher
	// JetStream, when set, feeds events published by any instance into the local broadcaster.
	JetStream       jetstream.JetStream
	JetStreamConfig events.JetStreamConfig
}

// Service is the auction gateway: websocket viewers, rooms, bid intake and broadcast.
type Service struct {
	config Config

	store       store.Store
	cache       *auction.Cache
	committer   *auction.Committer
	auctions    *auction.Service
	snapshots   *snapshot.Service
	rooms       *room.Manager
	broadcaster *Broadcaster
	connections *ConnectionManager
	dispatcher  *Dispatcher
	http        *HTTPHandler
	publisher   events.Publisher
	consumer    *EventConsumer

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewService wires the gateway components together.
func NewService(ctx context.Context, config Config, deps Deps) (*Service, error) {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := &Service{config: config, store: deps.Store}
	s.cache = auction.NewCache(deps.Store, clock)
	s.snapshots = snapshot.NewService(deps.Store, s.cache, clock)

	// Rooms notify the broadcaster, which is built once the connection manager exists.
	s.rooms = room.NewManager(s.cache, deps.Store, room.NotifierFunc(func(u room.Update) {
		s.broadcaster.NotifyParticipants(u)
	}), clock, config.Room)

	s.publisher = deps.Bus
	if s.publisher == nil {
		s.publisher = events.NewLocalPublisher(events.HandlerFunc(func(ctx context.Context, ev *events.Event) {
			s.broadcaster.HandleEvent(ctx, ev)
		}))
	}

	s.committer = auction.NewCommitter(s.cache, deps.Store, s.publisher, clock)
	s.auctions = auction.NewService(deps.Store, s.cache, s.publisher, clock)
	s.dispatcher = NewDispatcher(s.rooms, s.committer, s.cache, s.snapshots, clock)
	s.connections = NewConnectionManager(config.Connection, s.dispatcher)
	s.broadcaster = NewBroadcaster(s.connections, s.rooms, s.snapshots, clock, config.SnapshotDebounce)
	s.cache.OnEvict(s.broadcaster.Forget)
	s.http = NewHTTPHandler(s.connections, s.rooms, s.auctions, s.snapshots, deps.Store)

	if deps.JetStream != nil {
		consumer, err := NewEventConsumer(ctx, deps.JetStream, deps.JetStreamConfig, s.broadcaster)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.consumer = consumer
	}

	return s, nil
}

// Start runs the gateway until ctx is cancelled, then shuts it down.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("jetstream", s.consumer != nil).Msg("starting auction gateway service")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connections.Start(ctx)
	}()

	if s.consumer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("auction gateway service shutting down")
	return s.Stop()
}

// Stop closes every connection and stops background work. It is safe to call twice.
func (s *Service) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if shutdownErr := s.connections.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			log.Error().Err(shutdownErr).Msg("failed to close connections")
		}
		s.broadcaster.Close()
		s.rooms.Close()
		s.wg.Wait()
		log.Info().Msg("auction gateway service stopped")
	})
	return err
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.http.RegisterRoutes(mux)
	log.Info().Msg("auction gateway routes registered")
}

// Publisher is where lifecycle and operator events should be published.
func (s *Service) Publisher() events.Publisher { return s.publisher }

// Cache returns the shared auction cache.
func (s *Service) Cache() *auction.Cache { return s.cache }

// Auctions returns the auction intake service.
func (s *Service) Auctions() *auction.Service { return s.auctions }
