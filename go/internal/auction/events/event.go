package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event on the bus.
type Type string

const (
	TypeBidAccepted   Type = "bidAccepted"
	TypeStatusChanged Type = "statusChanged"
)

// Event is the bus envelope for every domain event.
type Event struct {
	ID        uuid.UUID       `json:"event_id"`
	Type      Type            `json:"event_type"`
	AuctionID uuid.UUID       `json:"auction_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New builds an event with a marshalled payload.
func New(eventType Type, auctionID uuid.UUID, at time.Time, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		AuctionID: auctionID,
		Timestamp: at.UTC(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into dst.
func (e *Event) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// Publisher fans domain events out to every gateway instance.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Handler consumes events delivered by a Publisher or a bus consumer.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) { f(ctx, event) }

// LocalPublisher delivers events synchronously to an in-process handler.
type LocalPublisher struct {
	handler Handler
}

func NewLocalPublisher(handler Handler) *LocalPublisher {
	return &LocalPublisher{handler: handler}
}

func (p *LocalPublisher) Publish(ctx context.Context, event *Event) error {
	if p.handler != nil {
		p.handler.HandleEvent(ctx, event)
	}
	return nil
}
