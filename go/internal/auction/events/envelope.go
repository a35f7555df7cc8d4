package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ProtocolVersion is the only wire schema version spoken over /ws/auction.
const ProtocolVersion = 1

// MessageType names a websocket message.
type MessageType string

// Inbound (client to server); every one is answered with an ack.
const (
	MessageJoin               MessageType = "join"
	MessageLeave              MessageType = "leave"
	MessageBid                MessageType = "bid"
	MessageGetState           MessageType = "getState"
	MessageRequestStateUpdate MessageType = "requestStateUpdate"
	MessageStatus             MessageType = "status"
)

// Outbound (server to client)
const (
	MessageAck           MessageType = "ack"
	MessageWelcome       MessageType = "welcome"
	MessageUpdate        MessageType = "update"
	MessageBidAccepted   MessageType = "bidAccepted"
	MessageStateSnapshot MessageType = "stateSnapshot"
)

// Envelope is the single versioned frame used in both directions.
type Envelope struct {
	V         int             `json:"v"`
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	AuctionID string          `json:"auction_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into a v1 envelope.
func NewEnvelope(msgType MessageType, id, auctionID string, data any) (*Envelope, error) {
	env := &Envelope{V: ProtocolVersion, Type: msgType, ID: id, AuctionID: auctionID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", msgType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// DecodeEnvelope parses a frame and rejects unknown schema versions.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.V != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", env.V)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope type is required")
	}
	return &env, nil
}

// DecodeData unmarshals the envelope data into dst.
func (e *Envelope) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data", e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("%s: decode data: %w", e.Type, err)
	}
	return nil
}

// Ack answers one inbound request. Ref echoes the request id.
type Ack struct {
	Ref        string           `json:"ref"`
	Request    MessageType      `json:"request"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	MinimumBid *decimal.Decimal `json:"minimum_bid,omitempty"`
	Data       json.RawMessage  `json:"data,omitempty"`
}

// BidRequestData is the data of an inbound bid.
type BidRequestData struct {
	Amount          decimal.Decimal `json:"amount"`
	BidderID        string          `json:"bidder_id"`
	BidderName      string          `json:"bidder_name"`
	ClientTimestamp *time.Time      `json:"client_timestamp,omitempty"`
}

// BidAckData is returned in the ack of an accepted bid.
type BidAckData struct {
	BidID     string          `json:"bid_id"`
	Amount    decimal.Decimal `json:"amount"`
	Sequence  int64           `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
}

// JoinAckData is returned in the ack of a join or leave.
type JoinAckData struct {
	ParticipantCount int `json:"participant_count"`
}

// StatusAckData is returned in the ack of a status request.
type StatusAckData struct {
	Status           string    `json:"status"`
	ParticipantCount int       `json:"participant_count"`
	Joined           bool      `json:"joined"`
	ServerTimestamp  time.Time `json:"server_timestamp"`
}

// WelcomeData greets a freshly upgraded connection.
type WelcomeData struct {
	ConnectionID    string    `json:"connection_id"`
	ServerTimestamp time.Time `json:"server_timestamp"`
}
