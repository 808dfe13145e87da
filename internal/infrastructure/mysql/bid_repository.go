package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"auction-marketplace/internal/domain"
)

type bidRow struct {
	ID        string    `db:"id"`
	AuctionID string    `db:"auction_id"`
	UserID    string    `db:"user_id"`
	Amount    int64     `db:"amount"`
	BidTime   time.Time `db:"bid_time"`
	Sequence  int64     `db:"sequence"`
	Status    string    `db:"status"`
}

type MySQLBidRepository struct {
	db *sqlx.DB
}

func NewMySQLBidRepository(db *sqlx.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

// SaveBid ignores a second insert of the same (auction_id, sequence), so retries are safe.
func (r *MySQLBidRepository) SaveBid(ctx context.Context, bid *domain.Bid) error {
	query := `
        INSERT INTO bids (id, auction_id, user_id, amount, bid_time, sequence, status)
        VALUES (:id, :auction_id, :user_id, :amount, :bid_time, :sequence, :status)
        ON DUPLICATE KEY UPDATE id = id
    `
	row := bidRow{
		ID:        bid.ID,
		AuctionID: bid.AuctionID,
		UserID:    bid.UserID,
		Amount:    bid.Amount,
		BidTime:   bid.BidTime,
		Sequence:  bid.Sequence,
		Status:    string(bid.Status),
	}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("insert bid %d on auction %s: %w", bid.Sequence, bid.AuctionID, err)
	}
	return nil
}

func (r *MySQLBidRepository) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	query := `
        SELECT id, auction_id, user_id, amount, bid_time, sequence, status
        FROM bids
        WHERE auction_id = ?
        ORDER BY sequence ASC
    `

	var rows []bidRow
	if err := r.db.SelectContext(ctx, &rows, query, auctionID); err != nil {
		return nil, fmt.Errorf("bid history of auction %s: %w", auctionID, err)
	}

	bids := make([]*domain.Bid, 0, len(rows))
	for _, row := range rows {
		bids = append(bids, &domain.Bid{
			ID:        row.ID,
			AuctionID: row.AuctionID,
			UserID:    row.UserID,
			Amount:    row.Amount,
			BidTime:   row.BidTime,
			Sequence:  row.Sequence,
			Status:    domain.BidStatus(row.Status),
		})
	}
	return bids, nil
}

func (r *MySQLBidRepository) GetBidSummary(ctx context.Context, auctionID string) (*domain.BidSummary, error) {
	summary := &domain.BidSummary{}

	var agg struct {
		LastSequence  sql.NullInt64 `db:"last_sequence"`
		UniqueBidders int64         `db:"unique_bidders"`
	}
	err := r.db.GetContext(ctx, &agg, `
        SELECT MAX(sequence) AS last_sequence,
            COUNT(DISTINCT CASE WHEN status = ? THEN user_id END) AS unique_bidders
        FROM bids WHERE auction_id = ?
    `, string(domain.BidAccepted), auctionID)
	if err != nil {
		return nil, fmt.Errorf("bid summary of auction %s: %w", auctionID, err)
	}
	if !agg.LastSequence.Valid {
		return summary, nil
	}
	summary.LastSequence = agg.LastSequence.Int64
	summary.UniqueBidders = agg.UniqueBidders

	var last bidRow
	err = r.db.GetContext(ctx, &last, `
        SELECT id, auction_id, user_id, amount, bid_time, sequence, status
        FROM bids WHERE auction_id = ? AND status = ?
        ORDER BY sequence DESC LIMIT 1
    `, auctionID, string(domain.BidAccepted))
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last bid of auction %s: %w", auctionID, err)
	}
	summary.LastBidderID = last.UserID
	summary.LastAmount = last.Amount

	err = r.db.SelectContext(ctx, &summary.BidderIDs,
		`SELECT DISTINCT user_id FROM bids WHERE auction_id = ? AND status = ?`,
		auctionID, string(domain.BidAccepted))
	if err != nil {
		return nil, fmt.Errorf("bidders of auction %s: %w", auctionID, err)
	}
	return summary, nil
}
