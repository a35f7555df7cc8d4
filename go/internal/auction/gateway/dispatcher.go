package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionsync/go/internal/auction"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
	"github.com/mcdev12/auctionsync/go/internal/auction/room"
	"github.com/mcdev12/auctionsync/go/internal/auction/snapshot"
	"github.com/rs/zerolog/log"
)

// Dispatcher answers inbound viewer requests. Every request gets exactly one ack.
type Dispatcher struct {
	rooms     *room.Manager
	committer *auction.Committer
	cache     *auction.Cache
	snapshots snapshot.Provider
	clock     clockwork.Clock
}

func NewDispatcher(rooms *room.Manager, committer *auction.Committer, cache *auction.Cache, snapshots snapshot.Provider, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		rooms:     rooms,
		committer: committer,
		cache:     cache,
		snapshots: snapshots,
		clock:     clock,
	}
}

// HandleMessage implements InboundHandler.
func (d *Dispatcher) HandleMessage(ctx context.Context, c *Connection, frame []byte) {
	env, err := events.DecodeEnvelope(frame)
	if err != nil {
		d.ack(c, &events.Envelope{}, nil, auctionerrors.Validation("%v", err))
		return
	}

	var auctionID uuid.UUID
	if env.Type != events.MessageStatus || env.AuctionID != "" {
		auctionID, err = uuid.Parse(env.AuctionID)
		if err != nil {
			d.ack(c, env, nil, auctionerrors.Validation("invalid auction_id %q", env.AuctionID))
			return
		}
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("type", string(env.Type)).
		Str("request_id", env.ID).
		Str("auction_id", env.AuctionID).
		Msg("received client message")

	switch env.Type {
	case events.MessageJoin:
		count, err := d.rooms.Join(ctx, c.ID, auctionID)
		d.ack(c, env, events.JoinAckData{ParticipantCount: count}, err)

	case events.MessageLeave:
		count := d.rooms.Leave(ctx, c.ID, auctionID)
		d.ack(c, env, events.JoinAckData{ParticipantCount: count}, nil)

	case events.MessageBid:
		d.handleBid(ctx, c, env, auctionID)

	case events.MessageGetState:
		snap, err := d.snapshots.GetSnapshot(ctx, auctionID)
		if err != nil {
			d.ack(c, env, nil, err)
			return
		}
		d.ack(c, env, snap, nil)

	case events.MessageRequestStateUpdate:
		snap, err := d.snapshots.GetSnapshot(ctx, auctionID)
		d.ack(c, env, nil, err)
		if err == nil {
			if err := c.SendEnvelope(events.MessageStateSnapshot, "", env.AuctionID, snap); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to queue requested snapshot")
			}
		}

	case events.MessageStatus:
		d.handleStatus(ctx, c, env, auctionID)

	default:
		d.ack(c, env, nil, auctionerrors.Validation("unknown message type %q", env.Type))
	}
}

// HandleDisconnect implements InboundHandler.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, c *Connection) {
	d.rooms.Disconnect(ctx, c.ID)
}

func (d *Dispatcher) handleBid(ctx context.Context, c *Connection, env *events.Envelope, auctionID uuid.UUID) {
	var data events.BidRequestData
	if err := env.DecodeData(&data); err != nil {
		d.ack(c, env, nil, auctionerrors.Validation("%v", err))
		return
	}

	res, err := d.committer.CommitBid(ctx, auction.BidRequest{
		AuctionID:       auctionID,
		Amount:          data.Amount,
		BidderID:        data.BidderID,
		BidderName:      data.BidderName,
		ClientTimestamp: data.ClientTimestamp,
	})
	if err != nil {
		d.ack(c, env, nil, err)
		return
	}

	d.ack(c, env, events.BidAckData{
		BidID:     res.Bid.ID.String(),
		Amount:    res.Bid.Amount,
		Sequence:  res.Sequence,
		Timestamp: res.Bid.CreatedAt,
	}, nil)
}

func (d *Dispatcher) handleStatus(ctx context.Context, c *Connection, env *events.Envelope, auctionID uuid.UUID) {
	data := events.StatusAckData{ServerTimestamp: d.clock.Now().UTC()}
	if auctionID != uuid.Nil {
		state, err := d.cache.GetOrLoad(ctx, auctionID)
		if err != nil {
			d.ack(c, env, nil, err)
			return
		}
		data.Status = string(state.Auction.Status)
		data.ParticipantCount = d.rooms.Count(auctionID)
		data.Joined = d.rooms.IsMember(c.ID, auctionID)
	}
	d.ack(c, env, data, nil)
}

// ack answers a request. Infrastructure failures never leak their internals to the viewer.
func (d *Dispatcher) ack(c *Connection, env *events.Envelope, data any, err error) {
	a := events.Ack{
		Ref:     env.ID,
		Request: env.Type,
		Success: err == nil,
	}

	if err != nil {
		a.Reason = auctionerrors.ReasonFor(err)
		var rej *auctionerrors.RejectionError
		switch {
		case errors.As(err, &rej):
			a.Error = rej.Err.Error()
			a.MinimumBid = rej.MinimumBid
		case auctionerrors.IsBusinessRejection(err):
			a.Error = err.Error()
		case errors.Is(err, auctionerrors.ErrTransientStore):
			a.Error = auctionerrors.ErrTransientStore.Error()
		default:
			a.Error = "internal error"
		}
		if rej == nil && !auctionerrors.IsBusinessRejection(err) {
			log.Error().
				Err(err).
				Str("connection_id", c.ID).
				Str("type", string(env.Type)).
				Msg("request failed")
		}
	}

	if data != nil && err == nil {
		raw, mErr := json.Marshal(data)
		if mErr != nil {
			log.Error().Err(mErr).Str("type", string(env.Type)).Msg("failed to encode ack data")
		} else {
			a.Data = raw
		}
	}

	if sendErr := c.SendEnvelope(events.MessageAck, "", env.AuctionID, a); sendErr != nil {
		log.Debug().Err(sendErr).Str("connection_id", c.ID).Msg("failed to queue ack")
	}
}
