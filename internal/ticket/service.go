// Package ticket records the buyer/seller mediation channels the bot opens
// for purchases and support.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justenes1/purchasebot/internal/ident"
)

var ErrNotFound = errors.New("ticket not found")

const (
	TypePurchase = "purchase"
	TypeSupport  = "support"

	StatusOpen   = "open"
	StatusClosed = "closed"
)

type Ticket struct {
	ID           string
	GuildID      string
	ChannelID    string
	UserID       string
	SellerID     string
	Type         string
	ProductName  string
	Status       string
	ClaimedBy    string
	Acknowledged bool
	CreatedAt    time.Time
	ClosedAt     *time.Time
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) Create(ctx context.Context, guildID, channelID, userID, ticketType string) (*Ticket, error) {
	// The id is the unique key; insert and retry on collision rather than
	// probing first.
	for i := 0; i < ident.MaxAttempts; i++ {
		id := ident.New(ident.PrefixTicket)
		_, err := s.pool.Exec(ctx, `
			INSERT INTO tickets (ticket_id, guild_id, channel_id, user_id, type, status, created_at)
			VALUES ($1, $2, $3, $4, $5, 'open', NOW())`,
			id, guildID, channelID, userID, ticketType,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				continue
			}
			return nil, fmt.Errorf("insert ticket: %w", err)
		}
		return s.Get(ctx, id)
	}
	return nil, ident.ErrExhausted
}

const ticketColumns = `ticket_id, guild_id, channel_id, user_id, COALESCE(seller_id, ''), type,
	COALESCE(product_name, ''), status, COALESCE(claimed_by, ''), acknowledged, created_at, closed_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.GuildID, &t.ChannelID, &t.UserID, &t.SellerID, &t.Type,
		&t.ProductName, &t.Status, &t.ClaimedBy, &t.Acknowledged, &t.CreatedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *Service) ByChannel(ctx context.Context, channelID string) (*Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE channel_id = $1`, channelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ticket by channel: %w", err)
	}
	return t, nil
}

func (s *Service) Open(ctx context.Context, guildID string) ([]Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE guild_id = $1 AND status = 'open'
		ORDER BY created_at ASC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query open tickets: %w", err)
	}
	defer rows.Close()

	var result []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (s *Service) Claim(ctx context.Context, id, claimedBy string) error {
	return s.update(ctx, id, `UPDATE tickets SET claimed_by = $2 WHERE ticket_id = $1`, claimedBy)
}

func (s *Service) Acknowledge(ctx context.Context, id string) error {
	return s.update(ctx, id, `UPDATE tickets SET acknowledged = TRUE WHERE ticket_id = $1`)
}

func (s *Service) Close(ctx context.Context, id string) error {
	return s.update(ctx, id, `UPDATE tickets SET status = 'closed', closed_at = NOW() WHERE ticket_id = $1`)
}

func (s *Service) SetProduct(ctx context.Context, id, sellerID, productName string) error {
	return s.update(ctx, id, `UPDATE tickets SET seller_id = $2, product_name = $3 WHERE ticket_id = $1`, sellerID, productName)
}

func (s *Service) update(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
