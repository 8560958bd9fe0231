package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the production Store on top of PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) InsertProduct(ctx context.Context, p *Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (product_id, guild_id, seller_id, name, description, ltc_price, usd_price, stock, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.GuildID, p.SellerID, p.Name, p.Description, p.PriceLTC, p.PriceUSD, p.Stock, p.ImageURL, p.CreatedAt,
	)
	return err
}

const productColumns = `product_id, guild_id, seller_id, name, description, ltc_price, usd_price, stock, COALESCE(image_url, ''), created_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.GuildID, &p.SellerID, &p.Name, &p.Description, &p.PriceLTC, &p.PriceUSD, &p.Stock, &p.ImageURL, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE product_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *PGStore) ProductExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE product_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *PGStore) ListProducts(ctx context.Context, guildID string) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE guild_id = $1
		ORDER BY seller_id ASC, created_at ASC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (s *PGStore) ProductsBySeller(ctx context.Context, guildID, sellerID string) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE guild_id = $1 AND seller_id = $2
		ORDER BY created_at ASC`, guildID, sellerID)
	if err != nil {
		return nil, fmt.Errorf("query seller products: %w", err)
	}
	defer rows.Close()
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	var result []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *PGStore) SellerIDsWithStock(ctx context.Context, guildID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT seller_id FROM products
		WHERE guild_id = $1 AND stock > 0
		ORDER BY seller_id ASC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query sellers with stock: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) UpdateProduct(ctx context.Context, id string, upd ProductUpdate) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products SET
			name        = COALESCE($2, name),
			description = COALESCE($3, description),
			ltc_price   = COALESCE($4, ltc_price),
			usd_price   = COALESCE($5, usd_price),
			stock       = COALESCE($6, stock),
			image_url   = COALESCE($7, image_url)
		WHERE product_id = $1`,
		id, upd.Name, upd.Description, upd.PriceLTC, upd.PriceUSD, upd.Stock, upd.ImageURL,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) AdjustStock(ctx context.Context, id string, delta int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE products SET stock = GREATEST(0, stock + $2) WHERE product_id = $1`,
		id, delta,
	)
	return err
}

func (s *PGStore) DeleteProduct(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM product_units WHERE product_id = $1`, id); err != nil {
		return fmt.Errorf("delete units: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM products WHERE product_id = $1`, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) InsertUnit(ctx context.Context, u *Unit) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO product_units (unit_id, product_id, payload, is_used, created_at)
		VALUES ($1, $2, $3, FALSE, $4)`,
		u.ID, u.ProductID, u.Payload, u.CreatedAt,
	)
	return err
}

func (s *PGStore) UnitExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM product_units WHERE unit_id = $1)`, id).Scan(&exists)
	return exists, err
}

// UnusedUnits returns the oldest unused units first so stock is redeemed in
// the order it was added.
func (s *PGStore) UnusedUnits(ctx context.Context, productID string, limit int) ([]Unit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT unit_id, product_id, payload, is_used, COALESCE(used_by, ''), used_at, created_at
		FROM product_units
		WHERE product_id = $1 AND is_used = FALSE
		ORDER BY id ASC
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query unused units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.ProductID, &u.Payload, &u.Used, &u.UsedBy, &u.UsedAt, &u.CreatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *PGStore) MarkUnitUsed(ctx context.Context, unitID, usedBy string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE product_units
		SET is_used = TRUE, used_by = $2, used_at = $3
		WHERE unit_id = $1 AND is_used = FALSE`,
		unitID, usedBy, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unit %s already used", unitID)
	}
	return nil
}

func (s *PGStore) CountUnused(ctx context.Context, productID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM product_units WHERE product_id = $1 AND is_used = FALSE`,
		productID).Scan(&n)
	return n, err
}
