package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// EventConsumer feeds auction events from JetStream into the local broadcaster.
// It uses an ordered consumer so each instance sees every event in stream order.
type EventConsumer struct {
	js       jetstream.JetStream
	config   events.JetStreamConfig
	handler  events.Handler
	consumer jetstream.Consumer
}

// NewEventConsumer creates an ordered consumer that starts at new messages.
func NewEventConsumer(ctx context.Context, js jetstream.JetStream, config events.JetStreamConfig, handler events.Handler) (*EventConsumer, error) {
	if err := events.EnsureStream(ctx, js, config); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	consumer, err := js.OrderedConsumer(ctx, config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{fmt.Sprintf("%s.>", config.SubjectPrefix)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create ordered consumer: %w", err)
	}

	log.Info().
		Str("stream", config.StreamName).
		Str("subject_prefix", config.SubjectPrefix).
		Msg("created JetStream ordered consumer")

	return &EventConsumer{
		js:       js,
		config:   config,
		handler:  handler,
		consumer: consumer,
	}, nil
}

// Start consumes events until ctx is cancelled
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().Str("stream", ec.config.StreamName).Msg("starting JetStream event consumer")

	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := ec.processMessage(ctx, msg); err != nil {
				// Viewers recover from a skipped event through the next snapshot.
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process message")
			}
		}
	}
}

func (ec *EventConsumer) processMessage(ctx context.Context, msg jetstream.Msg) error {
	var ev events.Event
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("auction_id", ev.AuctionID.String()).
		Str("event_type", string(ev.Type)).
		Str("subject", msg.Subject()).
		Msg("processing JetStream event")

	ec.handler.HandleEvent(ctx, &ev)
	return nil
}
