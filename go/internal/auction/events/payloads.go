package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payload types shared by the server packages and the client agent.

// Bidder identifies who placed a bid.
type Bidder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BidAcceptedPayload is the payload for a bidAccepted event
type BidAcceptedPayload struct {
	AuctionID string          `json:"auction_id"`
	BidID     string          `json:"bid_id"`
	Amount    decimal.Decimal `json:"amount"`
	Bidder    Bidder          `json:"bidder"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	TotalBids int64           `json:"total_bids"`
}

// ParticipantUpdatePayload is the payload for an update event
type ParticipantUpdatePayload struct {
	AuctionID        string `json:"auction_id"`
	ParticipantCount int    `json:"participant_count"`
	Action           string `json:"action"`
}

// StatusChangedPayload is the payload for a statusChanged event
type StatusChangedPayload struct {
	AuctionID    string    `json:"auction_id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	WinningBidID *string   `json:"winning_bid_id,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

// AuctionSummary is the authoritative auction state shown to viewers.
type AuctionSummary struct {
	AuctionID        string           `json:"auction_id"`
	ProductID        string           `json:"product_id"`
	Status           string           `json:"status"`
	StartingBid      decimal.Decimal  `json:"starting_bid"`
	CurrentBid       decimal.Decimal  `json:"current_bid"`
	MinimumBid       decimal.Decimal  `json:"minimum_bid"`
	CurrentBidder    *Bidder          `json:"current_bidder,omitempty"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          time.Time        `json:"end_time"`
	ParticipantCount int              `json:"participant_count"`
	TotalBids        int64            `json:"total_bids"`
	WinningBidID     *string          `json:"winning_bid_id,omitempty"`
	ReservePrice     *decimal.Decimal `json:"reserve_price,omitempty"`
	ReserveMet       bool             `json:"reserve_met"`
	LastBidTime      *time.Time       `json:"last_bid_time,omitempty"`
	Version          int64            `json:"version"`
}

// BidEntry is one row of a snapshot's bid history.
type BidEntry struct {
	BidID        string          `json:"bid_id"`
	Amount       decimal.Decimal `json:"amount"`
	Bidder       Bidder          `json:"bidder"`
	Timestamp    time.Time       `json:"timestamp"`
	Sequence     int64           `json:"sequence"`
	IsWinningBid bool            `json:"is_winning_bid"`
}

// Snapshot sources
const (
	SourceStore = "store"
	SourceCache = "cache"
)

// Snapshot is the full state pulled by a viewer to reconcile. BidHistory is newest first.
type Snapshot struct {
	Auction         AuctionSummary `json:"auction"`
	BidHistory      []BidEntry     `json:"bid_history"`
	ServerTimestamp time.Time      `json:"server_timestamp"`
	Source          string         `json:"source"`
}
