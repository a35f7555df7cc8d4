package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/mcdev12/auctionsync/go/internal/sqlutil"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db DBTX
}

func newQueries(db DBTX) *queries {
	return &queries{db: db}
}

func newTxQueries(tx pgx.Tx) *queries {
	return &queries{db: tx}
}

const auctionColumns = `id, product_id, starting_bid::text, current_bid::text, current_bidder_id,
	current_bidder_name, reserve_price::text, start_time, end_time, status, participant_count,
	total_bids, winning_bid_id, last_bid_time, version, created_at, updated_at`

const bidColumns = `id, auction_id, amount::text, bidder_id, bidder_name, sequence, is_winning_bid, created_at`

const insertAuction = `
INSERT INTO auctions (
	id, product_id, starting_bid, current_bid, reserve_price, start_time, end_time,
	status, participant_count, total_bids, version, created_at, updated_at
) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8, 0, 0, 0, $9, $9)`

func (q *queries) insertAuction(ctx context.Context, a *models.Auction) error {
	_, err := q.db.Exec(ctx, insertAuction,
		a.ID,
		a.ProductID,
		sqlutil.DecimalToText(a.StartingBid),
		sqlutil.DecimalToText(a.CurrentBid),
		sqlutil.DecimalPtrToText(a.ReservePrice),
		a.StartTime,
		a.EndTime,
		string(a.Status),
		a.CreatedAt,
	)
	return err
}

const getAuction = `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

const getAuctionForUpdate = getAuction + ` FOR UPDATE`

func (q *queries) getAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return scanAuction(q.db.QueryRow(ctx, getAuction, id))
}

func (q *queries) getAuctionForUpdate(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return scanAuction(q.db.QueryRow(ctx, getAuctionForUpdate, id))
}

const advanceAuction = `
UPDATE auctions
SET current_bid = $3::numeric,
	current_bidder_id = $4,
	current_bidder_name = $5,
	last_bid_time = $6,
	total_bids = total_bids + 1,
	version = version + 1,
	updated_at = $6
WHERE id = $1
  AND version = $2
  AND status = 'active'
  AND current_bid < $3::numeric
RETURNING ` + auctionColumns

// advanceAuction applies an accepted bid to the auction row. It returns pgx.ErrNoRows
// when the version guard fails.
func (q *queries) advanceAuction(ctx context.Context, bid models.Bid, expectedVersion int64) (*models.Auction, error) {
	return scanAuction(q.db.QueryRow(ctx, advanceAuction,
		bid.AuctionID,
		expectedVersion,
		sqlutil.DecimalToText(bid.Amount),
		bid.BidderID,
		bid.BidderName,
		bid.CreatedAt,
	))
}

const insertBid = `
INSERT INTO bids (id, auction_id, amount, bidder_id, bidder_name, sequence, is_winning_bid, client_timestamp, created_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, FALSE, $7, $8)`

func (q *queries) insertBid(ctx context.Context, bid models.Bid, clientTS *time.Time) error {
	_, err := q.db.Exec(ctx, insertBid,
		bid.ID,
		bid.AuctionID,
		sqlutil.DecimalToText(bid.Amount),
		bid.BidderID,
		bid.BidderName,
		bid.Sequence,
		sqlutil.ToUTC(clientTS),
		bid.CreatedAt,
	)
	return err
}

const listRecentBids = `SELECT ` + bidColumns + `
FROM bids WHERE auction_id = $1
ORDER BY sequence DESC
LIMIT $2`

func (q *queries) listRecentBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	rows, err := q.db.Query(ctx, listRecentBids, auctionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bids := make([]models.Bid, 0, limit)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

const highestBid = `SELECT ` + bidColumns + `
FROM bids WHERE auction_id = $1
ORDER BY amount DESC, sequence ASC
LIMIT 1`

func (q *queries) highestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	return scanBid(q.db.QueryRow(ctx, highestBid, auctionID))
}

const markWinningBid = `UPDATE bids SET is_winning_bid = TRUE WHERE id = $1`

func (q *queries) markWinningBid(ctx context.Context, bidID uuid.UUID) error {
	_, err := q.db.Exec(ctx, markWinningBid, bidID)
	return err
}

const completeAuction = `
UPDATE auctions
SET status = 'completed',
	winning_bid_id = $2,
	version = version + 1,
	updated_at = $3
WHERE id = $1 AND status = 'active'
RETURNING ` + auctionColumns

func (q *queries) completeAuction(ctx context.Context, id uuid.UUID, winningBidID *uuid.UUID, now time.Time) (*models.Auction, error) {
	return scanAuction(q.db.QueryRow(ctx, completeAuction, id, winningBidID, now))
}

const activateAuction = `
UPDATE auctions
SET status = 'active',
	version = version + 1,
	updated_at = $2
WHERE id = $1 AND status = 'pending' AND start_time <= $2
RETURNING ` + auctionColumns

func (q *queries) activateAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, error) {
	return scanAuction(q.db.QueryRow(ctx, activateAuction, id, now))
}

const cancelAuction = `
UPDATE auctions
SET status = 'cancelled',
	version = version + 1,
	updated_at = $2
WHERE id = $1 AND status IN ('pending', 'active')
RETURNING ` + auctionColumns

func (q *queries) cancelAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, error) {
	return scanAuction(q.db.QueryRow(ctx, cancelAuction, id, now))
}

const updateParticipantCount = `UPDATE auctions SET participant_count = $2 WHERE id = $1`

func (q *queries) updateParticipantCount(ctx context.Context, id uuid.UUID, count int) (int64, error) {
	tag, err := q.db.Exec(ctx, updateParticipantCount, id, count)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listDueForActivation = `
SELECT id FROM auctions
WHERE status = 'pending' AND start_time <= $1
ORDER BY start_time
LIMIT $2`

const listDueForCompletion = `
SELECT id FROM auctions
WHERE status = 'active' AND end_time <= $1
ORDER BY end_time
LIMIT $2`

func (q *queries) listIDs(ctx context.Context, query string, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var (
		a           models.Auction
		startingBid string
		currentBid  string
		reserve     *string
		status      string
	)
	err := row.Scan(
		&a.ID,
		&a.ProductID,
		&startingBid,
		&currentBid,
		&a.CurrentBidderID,
		&a.CurrentBidderName,
		&reserve,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.ParticipantCount,
		&a.TotalBids,
		&a.WinningBidID,
		&a.LastBidTime,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.StartingBid, err = sqlutil.TextToDecimal(startingBid); err != nil {
		return nil, err
	}
	if a.CurrentBid, err = sqlutil.TextToDecimal(currentBid); err != nil {
		return nil, err
	}
	if a.ReservePrice, err = sqlutil.TextPtrToDecimal(reserve); err != nil {
		return nil, err
	}
	a.Status = models.AuctionStatus(status)
	return &a, nil
}

func scanBid(row pgx.Row) (*models.Bid, error) {
	var (
		b      models.Bid
		amount string
	)
	if err := row.Scan(
		&b.ID,
		&b.AuctionID,
		&amount,
		&b.BidderID,
		&b.BidderName,
		&b.Sequence,
		&b.IsWinningBid,
		&b.CreatedAt,
	); err != nil {
		return nil, err
	}

	d, err := sqlutil.TextToDecimal(amount)
	if err != nil {
		return nil, err
	}
	b.Amount = d
	return &b, nil
}
