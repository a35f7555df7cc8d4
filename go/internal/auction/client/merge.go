package client

import (
	"time"

	"github.com/mcdev12/auctionsync/go/internal/auction/events"
)

// DedupWindow is how far apart two timestamps may be for the same amount and bidder
// to still count as one bid.
const DedupWindow = 2 * time.Second

// HistoryLimit bounds the locally kept bid history.
const HistoryLimit = 50

// SameBid reports whether a and b describe the same bid. Bid ids are not compared
// because optimistic entries do not have one yet.
func SameBid(a, b events.BidEntry) bool {
	if !a.Amount.Equal(b.Amount) || a.Bidder.ID != b.Bidder.ID {
		return false
	}
	diff := a.Timestamp.Sub(b.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	return diff <= DedupWindow
}

// MergeLive adds a live bid to history (newest first) unless it is already present.
func MergeLive(history []events.BidEntry, entry events.BidEntry) ([]events.BidEntry, bool) {
	for _, existing := range history {
		if SameBid(existing, entry) {
			return history, false
		}
	}

	merged := make([]events.BidEntry, 0, len(history)+1)
	inserted := false
	for _, existing := range history {
		if !inserted && newer(entry, existing) {
			merged = append(merged, entry)
			inserted = true
		}
		merged = append(merged, existing)
	}
	if !inserted {
		merged = append(merged, entry)
	}
	if len(merged) > HistoryLimit {
		merged = merged[:HistoryLimit]
	}
	return merged, true
}

// ReplaceHistory returns the snapshot's history as the new local history.
func ReplaceHistory(snapshot []events.BidEntry) []events.BidEntry {
	history := make([]events.BidEntry, len(snapshot))
	copy(history, snapshot)
	if len(history) > HistoryLimit {
		history = history[:HistoryLimit]
	}
	return history
}

func newer(a, b events.BidEntry) bool {
	if a.Sequence != 0 && b.Sequence != 0 {
		return a.Sequence > b.Sequence
	}
	return a.Timestamp.After(b.Timestamp)
}
