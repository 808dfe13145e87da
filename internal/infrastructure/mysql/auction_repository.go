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

const auctionColumns = `id, seller_id, product_id, start_price, current_price, winner_id,
        start_time, end_time, status, created_at, updated_at`

type auctionRow struct {
	ID           string         `db:"id"`
	SellerID     string         `db:"seller_id"`
	ProductID    string         `db:"product_id"`
	StartPrice   int64          `db:"start_price"`
	CurrentPrice int64          `db:"current_price"`
	WinnerID     sql.NullString `db:"winner_id"`
	StartTime    time.Time      `db:"start_time"`
	EndTime      time.Time      `db:"end_time"`
	Status       int            `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r auctionRow) toDomain() *domain.Auction {
	return &domain.Auction{
		ID:           r.ID,
		SellerID:     r.SellerID,
		ProductID:    r.ProductID,
		StartPrice:   r.StartPrice,
		CurrentPrice: r.CurrentPrice,
		WinnerID:     r.WinnerID.String,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		Status:       domain.AuctionStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type MySQLAuctionRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewMySQLAuctionRepository(db *sqlx.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db, now: time.Now}
}

func (r *MySQLAuctionRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (id, seller_id, product_id, start_price, current_price,
            start_time, end_time, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.ProductID, auction.StartPrice, auction.CurrentPrice,
		auction.StartTime, auction.EndTime, int(auction.Status), auction.CreatedAt, auction.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert auction %s: %w", auction.ID, err)
	}
	return nil
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	var row auctionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return row.toDomain(), nil
}

func (r *MySQLAuctionRepository) CompareAndSetStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error) {
	query := `UPDATE auctions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, int(to), r.now(), auctionID, int(from))
	if err != nil {
		return false, fmt.Errorf("update status of auction %s: %w", auctionID, err)
	}
	return affected(res)
}

func (r *MySQLAuctionRepository) SettleAuction(ctx context.Context, auctionID string, to domain.AuctionStatus, winnerID string, finalPrice int64) (bool, error) {
	query := `
        UPDATE auctions
        SET status = ?, winner_id = ?, current_price = GREATEST(current_price, ?), updated_at = ?
        WHERE id = ? AND status = ?
    `
	winner := sql.NullString{String: winnerID, Valid: winnerID != ""}
	res, err := r.db.ExecContext(ctx, query,
		int(to), winner, finalPrice, r.now(), auctionID, int(domain.AuctionEnded))
	if err != nil {
		return false, fmt.Errorf("settle auction %s: %w", auctionID, err)
	}
	return affected(res)
}

func (r *MySQLAuctionRepository) RaiseCurrentPrice(ctx context.Context, auctionID string, price int64) error {
	query := `UPDATE auctions SET current_price = ?, updated_at = ? WHERE id = ? AND current_price < ?`
	if _, err := r.db.ExecContext(ctx, query, price, r.now(), auctionID, price); err != nil {
		return fmt.Errorf("raise price of auction %s: %w", auctionID, err)
	}
	return nil
}

func (r *MySQLAuctionRepository) ListDueToStart(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	return r.list(ctx, `SELECT `+auctionColumns+` FROM auctions
        WHERE status = ? AND start_time <= ? ORDER BY start_time ASC LIMIT ?`,
		int(domain.AuctionReady), now, limit)
}

func (r *MySQLAuctionRepository) ListDueToEnd(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	return r.list(ctx, `SELECT `+auctionColumns+` FROM auctions
        WHERE status = ? AND end_time <= ? ORDER BY end_time ASC LIMIT ?`,
		int(domain.AuctionOngoing), now, limit)
}

func (r *MySQLAuctionRepository) ListByStatus(ctx context.Context, status domain.AuctionStatus, limit int) ([]*domain.Auction, error) {
	return r.list(ctx, `SELECT `+auctionColumns+` FROM auctions
        WHERE status = ? ORDER BY end_time ASC LIMIT ?`,
		int(status), limit)
}

func (r *MySQLAuctionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Auction, error) {
	var rows []auctionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}

	auctions := make([]*domain.Auction, 0, len(rows))
	for _, row := range rows {
		auctions = append(auctions, row.toDomain())
	}
	return auctions, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
