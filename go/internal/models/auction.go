package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusPending   AuctionStatus = "pending"
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusCompleted AuctionStatus = "completed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionStatusPending:
		return next == AuctionStatusActive || next == AuctionStatusCancelled
	case AuctionStatusActive:
		return next == AuctionStatusCompleted || next == AuctionStatusCancelled
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionStatusCompleted || s == AuctionStatusCancelled
}

// Auction represents a biddable listing with a fixed time window.
type Auction struct {
	ID                uuid.UUID        `json:"id"`
	ProductID         string           `json:"product_id"`
	StartingBid       decimal.Decimal  `json:"starting_bid"`
	CurrentBid        decimal.Decimal  `json:"current_bid"`
	CurrentBidderID   *string          `json:"current_bidder_id,omitempty"`
	CurrentBidderName *string          `json:"current_bidder_name,omitempty"`
	ReservePrice      *decimal.Decimal `json:"reserve_price,omitempty"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           time.Time        `json:"end_time"`
	Status            AuctionStatus    `json:"status"`
	ParticipantCount  int              `json:"participant_count"`
	TotalBids         int64            `json:"total_bids"`
	WinningBidID      *uuid.UUID       `json:"winning_bid_id,omitempty"`
	LastBidTime       *time.Time       `json:"last_bid_time,omitempty"`
	Version           int64            `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// HasEnded reports whether the auction window is over at the given server time.
func (a *Auction) HasEnded(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// HasStarted reports whether the auction window has opened at the given server time.
func (a *Auction) HasStarted(now time.Time) bool {
	return !now.Before(a.StartTime)
}

// ReserveMet reports whether the current price satisfies the reserve, if one is set.
func (a *Auction) ReserveMet() bool {
	if a.ReservePrice == nil {
		return true
	}
	return a.TotalBids > 0 && a.CurrentBid.GreaterThanOrEqual(*a.ReservePrice)
}

// Clone returns a deep copy that can be handed out without sharing pointers.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	if a.CurrentBidderID != nil {
		v := *a.CurrentBidderID
		c.CurrentBidderID = &v
	}
	if a.CurrentBidderName != nil {
		v := *a.CurrentBidderName
		c.CurrentBidderName = &v
	}
	if a.ReservePrice != nil {
		v := *a.ReservePrice
		c.ReservePrice = &v
	}
	if a.WinningBidID != nil {
		v := *a.WinningBidID
		c.WinningBidID = &v
	}
	if a.LastBidTime != nil {
		v := *a.LastBidTime
		c.LastBidTime = &v
	}
	return &c
}

// Bid represents a committed bid on an auction.
type Bid struct {
	ID           uuid.UUID       `json:"id"`
	AuctionID    uuid.UUID       `json:"auction_id"`
	Amount       decimal.Decimal `json:"amount"`
	BidderID     string          `json:"bidder_id"`
	BidderName   string          `json:"bidder_name"`
	Sequence     int64           `json:"sequence"`
	IsWinningBid bool            `json:"is_winning_bid"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AuctionDefinition is the static definition supplied by the catalog.
type AuctionDefinition struct {
	ProductID    string           `json:"product_id" yaml:"product_id"`
	Biddable     bool             `json:"biddable" yaml:"biddable"`
	StartingBid  decimal.Decimal  `json:"starting_bid" yaml:"starting_bid"`
	ReservePrice *decimal.Decimal `json:"reserve_price,omitempty" yaml:"reserve_price,omitempty"`
	StartTime    time.Time        `json:"start_time" yaml:"start_time"`
	EndTime      time.Time        `json:"end_time" yaml:"end_time"`
}
