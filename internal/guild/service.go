// Package guild stores the per-server marketplace configuration and the
// seller roster.
package guild

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotConfigured = errors.New("guild not configured")
	ErrSellerExists  = errors.New("seller already registered")
	ErrSellerUnknown = errors.New("seller not registered")
)

type Config struct {
	GuildID          string
	LTCAddress       string
	QRURL            string
	VouchChannelID   string
	LogChannelID     string
	TicketCategoryID string
	TicketPanelID    string
	SupportCategory  string
	SellerRoleID     string
	CreatedAt        time.Time
}

// ConfigUpdate applies only its non-nil fields.
type ConfigUpdate struct {
	LTCAddress       *string
	QRURL            *string
	VouchChannelID   *string
	LogChannelID     *string
	TicketCategoryID *string
	TicketPanelID    *string
	SupportCategory  *string
	SellerRoleID     *string
}

type Seller struct {
	GuildID    string
	UserID     string
	AddedBy    string
	LTCAddress string
	QRURL      string
	CreatedAt  time.Time
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) Config(ctx context.Context, guildID string) (*Config, error) {
	var c Config
	err := s.pool.QueryRow(ctx, `
		SELECT guild_id, COALESCE(ltc_address, ''), COALESCE(ltc_qr_url, ''),
			COALESCE(vouch_channel_id, ''), COALESCE(log_channel_id, ''),
			COALESCE(ticket_category_id, ''), COALESCE(ticket_panel_channel_id, ''),
			COALESCE(support_category_id, ''), COALESCE(seller_role_id, ''), created_at
		FROM guild_configs WHERE guild_id = $1`, guildID,
	).Scan(&c.GuildID, &c.LTCAddress, &c.QRURL, &c.VouchChannelID, &c.LogChannelID,
		&c.TicketCategoryID, &c.TicketPanelID, &c.SupportCategory, &c.SellerRoleID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("get guild config: %w", err)
	}
	return &c, nil
}

// UpsertConfig creates the guild row if needed and applies the non-nil
// fields of upd.
func (s *Service) UpsertConfig(ctx context.Context, guildID string, upd ConfigUpdate) (*Config, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guild_configs (guild_id, ltc_address, ltc_qr_url, vouch_channel_id, log_channel_id,
			ticket_category_id, ticket_panel_channel_id, support_category_id, seller_role_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET
			ltc_address             = COALESCE($2, guild_configs.ltc_address),
			ltc_qr_url              = COALESCE($3, guild_configs.ltc_qr_url),
			vouch_channel_id        = COALESCE($4, guild_configs.vouch_channel_id),
			log_channel_id          = COALESCE($5, guild_configs.log_channel_id),
			ticket_category_id      = COALESCE($6, guild_configs.ticket_category_id),
			ticket_panel_channel_id = COALESCE($7, guild_configs.ticket_panel_channel_id),
			support_category_id     = COALESCE($8, guild_configs.support_category_id),
			seller_role_id          = COALESCE($9, guild_configs.seller_role_id)`,
		guildID, upd.LTCAddress, upd.QRURL, upd.VouchChannelID, upd.LogChannelID,
		upd.TicketCategoryID, upd.TicketPanelID, upd.SupportCategory, upd.SellerRoleID,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert guild config: %w", err)
	}
	return s.Config(ctx, guildID)
}

func (s *Service) AddSeller(ctx context.Context, guildID, userID, addedBy string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guild_sellers (guild_id, user_id, added_by, created_at)
		VALUES ($1, $2, $3, NOW())`,
		guildID, userID, addedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSellerExists
		}
		return fmt.Errorf("add seller: %w", err)
	}
	return nil
}

func (s *Service) RemoveSeller(ctx context.Context, guildID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM guild_sellers WHERE guild_id = $1 AND user_id = $2`,
		guildID, userID)
	if err != nil {
		return fmt.Errorf("remove seller: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSellerUnknown
	}
	return nil
}

func (s *Service) Seller(ctx context.Context, guildID, userID string) (*Seller, error) {
	var sel Seller
	err := s.pool.QueryRow(ctx, `
		SELECT guild_id, user_id, added_by, COALESCE(ltc_address, ''), COALESCE(ltc_qr_url, ''), created_at
		FROM guild_sellers WHERE guild_id = $1 AND user_id = $2`,
		guildID, userID,
	).Scan(&sel.GuildID, &sel.UserID, &sel.AddedBy, &sel.LTCAddress, &sel.QRURL, &sel.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSellerUnknown
		}
		return nil, fmt.Errorf("get seller: %w", err)
	}
	return &sel, nil
}

func (s *Service) IsSeller(ctx context.Context, guildID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM guild_sellers WHERE guild_id = $1 AND user_id = $2)`,
		guildID, userID).Scan(&exists)
	return exists, err
}

func (s *Service) Sellers(ctx context.Context, guildID string) ([]Seller, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT guild_id, user_id, added_by, COALESCE(ltc_address, ''), COALESCE(ltc_qr_url, ''), created_at
		FROM guild_sellers WHERE guild_id = $1 ORDER BY created_at ASC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query sellers: %w", err)
	}
	defer rows.Close()

	var result []Seller
	for rows.Next() {
		var sel Seller
		if err := rows.Scan(&sel.GuildID, &sel.UserID, &sel.AddedBy, &sel.LTCAddress, &sel.QRURL, &sel.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, sel)
	}
	return result, rows.Err()
}

// UpdateSellerConfig sets a seller's personal receiving address and QR,
// which take precedence over the guild-wide ones at checkout.
func (s *Service) UpdateSellerConfig(ctx context.Context, guildID, userID string, address, qrURL *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE guild_sellers
		SET ltc_address = COALESCE($3, ltc_address),
		    ltc_qr_url  = COALESCE($4, ltc_qr_url)
		WHERE guild_id = $1 AND user_id = $2`,
		guildID, userID, address, qrURL)
	if err != nil {
		return fmt.Errorf("update seller config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSellerUnknown
	}
	return nil
}

// ReceivingAddress resolves the address and QR for a seller's checkout:
// the seller's own configuration wins, the guild default backs it up.
func (s *Service) ReceivingAddress(ctx context.Context, guildID, sellerID string) (address, qrURL string, err error) {
	cfg, err := s.Config(ctx, guildID)
	if err != nil && !errors.Is(err, ErrNotConfigured) {
		return "", "", err
	}
	if cfg != nil {
		address, qrURL = cfg.LTCAddress, cfg.QRURL
	}

	sel, err := s.Seller(ctx, guildID, sellerID)
	if err != nil && !errors.Is(err, ErrSellerUnknown) {
		return "", "", err
	}
	if sel != nil {
		if sel.LTCAddress != "" {
			address = sel.LTCAddress
		}
		if sel.QRURL != "" {
			qrURL = sel.QRURL
		}
	}

	if address == "" {
		return "", "", ErrNotConfigured
	}
	return address, qrURL, nil
}
