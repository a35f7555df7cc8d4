package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/auctionsync/go/internal/auction/auctionerrors"
	"github.com/mcdev12/auctionsync/go/internal/models"
	"github.com/mcdev12/auctionsync/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists auctions and bids in Postgres through a pgx pool.
type PostgresStore struct {
	pool    *pgxpool.Pool
	queries *queries
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		queries: newQueries(pool),
	}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", classify(err))
	}
	log.Info().Msg("auction schema applied")
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

func (s *PostgresStore) CreateAuction(ctx context.Context, auction *models.Auction) error {
	if err := s.queries.insertAuction(ctx, auction); err != nil {
		return fmt.Errorf("insert auction %s: %w", auction.ID, classify(err))
	}
	return nil
}

func (s *PostgresStore) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := s.queries.getAuction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", id, classify(err))
	}
	return a, nil
}

func (s *PostgresStore) ListRecentBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]models.Bid, error) {
	bids, err := s.queries.listRecentBids(ctx, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bids for %s: %w", auctionID, classify(err))
	}
	return bids, nil
}

func (s *PostgresStore) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	b, err := s.queries.highestBid(ctx, auctionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auctionerrors.ErrNoBids
	}
	if err != nil {
		return nil, fmt.Errorf("highest bid for %s: %w", auctionID, classify(err))
	}
	return b, nil
}

func (s *PostgresStore) CommitBid(ctx context.Context, params CommitBidParams) (*models.Auction, *models.Bid, error) {
	var (
		updated *models.Auction
		bid     = params.Bid
	)

	err := sqlutil.Run(ctx, s.pool, newTxQueries, func(q *queries) error {
		a, err := q.advanceAuction(ctx, bid, params.ExpectedVersion)
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing auction from a lost version race.
			if _, getErr := q.getAuction(ctx, bid.AuctionID); getErr != nil {
				return getErr
			}
			return auctionerrors.ErrStateChanged
		}
		if err != nil {
			return err
		}

		bid.Sequence = a.TotalBids
		if err := q.insertBid(ctx, bid, params.ClientTimestamp); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		if errors.Is(err, auctionerrors.ErrStateChanged) {
			return nil, nil, fmt.Errorf("commit bid on %s: %w", bid.AuctionID, err)
		}
		return nil, nil, fmt.Errorf("commit bid on %s: %w", bid.AuctionID, classify(err))
	}
	return updated, &bid, nil
}

func (s *PostgresStore) UpdateParticipantCount(ctx context.Context, id uuid.UUID, count int) error {
	n, err := s.queries.updateParticipantCount(ctx, id, count)
	if err != nil {
		return fmt.Errorf("update participant count %s: %w", id, classify(err))
	}
	if n == 0 {
		return fmt.Errorf("update participant count %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	return nil
}

func (s *PostgresStore) ListDueForActivation(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.queries.listIDs(ctx, listDueForActivation, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due for activation: %w", classify(err))
	}
	return ids, nil
}

func (s *PostgresStore) ListDueForCompletion(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.queries.listIDs(ctx, listDueForCompletion, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due for completion: %w", classify(err))
	}
	return ids, nil
}

func (s *PostgresStore) ActivateAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, bool, error) {
	a, err := s.queries.activateAuction(ctx, id, now)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetAuction(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("activate auction %s: %w", id, classify(err))
	}
	return a, true, nil
}

func (s *PostgresStore) CompleteAuction(ctx context.Context, id uuid.UUID, now time.Time) (*CompletionResult, error) {
	result := &CompletionResult{}

	err := sqlutil.Run(ctx, s.pool, newTxQueries, func(q *queries) error {
		a, err := q.getAuctionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != models.AuctionStatusActive || !a.HasEnded(now) {
			result.Auction = a
			return nil
		}

		var winningID *uuid.UUID
		top, err := q.highestBid(ctx, id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			if err := q.markWinningBid(ctx, top.ID); err != nil {
				return err
			}
			top.IsWinningBid = true
			winningID = &top.ID
			result.WinningBid = top
		}

		completed, err := q.completeAuction(ctx, id, winningID, now)
		if err != nil {
			return err
		}
		result.Auction = completed
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete auction %s: %w", id, classify(err))
	}
	return result, nil
}

func (s *PostgresStore) CancelAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, error) {
	a, err := s.queries.cancelAuction(ctx, id, now)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetAuction(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("cancel auction %s from %s: %w", id, current.Status, auctionerrors.ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel auction %s: %w", id, classify(err))
	}
	return a, nil
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return auctionerrors.ErrAuctionNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", auctionerrors.ErrTransientStore, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case isTransientCode(pgErr.Code):
			return fmt.Errorf("%w: %w", auctionerrors.ErrTransientStore, err)
		case strings.HasPrefix(pgErr.Code, "22"): // data exception, e.g. numeric overflow
			return fmt.Errorf("%w: %w", auctionerrors.ErrValidation, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", auctionerrors.ErrTransientStore, err)
	}
	return err
}

func isTransientCode(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return true
	case code == "40001", code == "40P01": // serialization failure, deadlock
		return true
	case code == "53300", code == "57P01", code == "57P03": // too many connections, shutdown
		return true
	}
	return false
}
