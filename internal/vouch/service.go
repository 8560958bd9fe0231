// Package vouch records buyer feedback: at most one rating per delivered
// order.
package vouch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAlreadyVouched = errors.New("order already vouched")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
)

type Vouch struct {
	OrderID   string
	GuildID   string
	UserID    string
	SellerID  string
	ProductID string
	Rating    int
	Message   string
	CreatedAt time.Time
}

type Rating struct {
	Average float64
	Count   int
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) Create(ctx context.Context, v Vouch) error {
	if v.Rating < 1 || v.Rating > 5 {
		return ErrInvalidRating
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vouches (order_id, guild_id, user_id, seller_id, product_id, rating, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		v.OrderID, v.GuildID, v.UserID, v.SellerID, v.ProductID, v.Rating, v.Message,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyVouched
		}
		return fmt.Errorf("insert vouch: %w", err)
	}
	return nil
}

func (s *Service) HasVouched(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM vouches WHERE order_id = $1)`, orderID).Scan(&exists)
	return exists, err
}

func (s *Service) BySeller(ctx context.Context, guildID, sellerID string) ([]Vouch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, guild_id, user_id, seller_id, product_id, rating, COALESCE(message, ''), created_at
		FROM vouches
		WHERE guild_id = $1 AND seller_id = $2
		ORDER BY created_at DESC`, guildID, sellerID)
	if err != nil {
		return nil, fmt.Errorf("query vouches: %w", err)
	}
	defer rows.Close()

	var result []Vouch
	for rows.Next() {
		var v Vouch
		if err := rows.Scan(&v.OrderID, &v.GuildID, &v.UserID, &v.SellerID, &v.ProductID, &v.Rating, &v.Message, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Service) SellerRating(ctx context.Context, guildID, sellerID string) (*Rating, error) {
	var r Rating
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(rating), 0), COUNT(*)
		FROM vouches
		WHERE guild_id = $1 AND seller_id = $2`,
		guildID, sellerID).Scan(&r.Average, &r.Count)
	if err != nil {
		return nil, fmt.Errorf("query seller rating: %w", err)
	}
	return &r, nil
}
