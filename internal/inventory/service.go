package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justenes1/purchasebot/internal/ident"
)

var ErrProductNotFound = errors.New("product not found")

// Store is the persistence surface the service needs. The pgx implementation
// lives in store.go; tests inject an in-memory one.
type Store interface {
	InsertProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	ProductExists(ctx context.Context, id string) (bool, error)
	ListProducts(ctx context.Context, guildID string) ([]Product, error)
	ProductsBySeller(ctx context.Context, guildID, sellerID string) ([]Product, error)
	SellerIDsWithStock(ctx context.Context, guildID string) ([]string, error)
	UpdateProduct(ctx context.Context, id string, upd ProductUpdate) (bool, error)
	AdjustStock(ctx context.Context, id string, delta int) error
	DeleteProduct(ctx context.Context, id string) error

	InsertUnit(ctx context.Context, u *Unit) error
	UnitExists(ctx context.Context, id string) (bool, error)
	UnusedUnits(ctx context.Context, productID string, limit int) ([]Unit, error)
	MarkUnitUsed(ctx context.Context, unitID, usedBy string, at time.Time) error
	CountUnused(ctx context.Context, productID string) (int, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

type AddProductInput struct {
	GuildID     string
	SellerID    string
	Name        string
	Description string
	PriceLTC    decimal.Decimal
	PriceUSD    decimal.Decimal
	ImageURL    string
}

func (s *Service) AddProduct(ctx context.Context, in AddProductInput) (*Product, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("product name must not be empty")
	}
	if in.PriceLTC.IsNegative() || in.PriceUSD.IsNegative() {
		return nil, fmt.Errorf("price must not be negative")
	}

	id, err := ident.Unique(ident.PrefixProduct, func(id string) (bool, error) {
		return s.store.ProductExists(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("allocate product id: %w", err)
	}

	p := &Product{
		ID:          id,
		GuildID:     in.GuildID,
		SellerID:    in.SellerID,
		Name:        in.Name,
		Description: in.Description,
		PriceLTC:    in.PriceLTC,
		PriceUSD:    in.PriceUSD,
		ImageURL:    in.ImageURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

// AddUnit appends one deliverable unit to the product pool and bumps the
// stock counter. Payloads are opaque and deliberately not deduplicated.
func (s *Service) AddUnit(ctx context.Context, productID, payload string) (*Unit, error) {
	if _, err := s.Get(ctx, productID); err != nil {
		return nil, err
	}

	id, err := ident.Unique(ident.PrefixUnit, func(id string) (bool, error) {
		return s.store.UnitExists(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("allocate unit id: %w", err)
	}

	u := &Unit{
		ID:        id,
		ProductID: productID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertUnit(ctx, u); err != nil {
		return nil, fmt.Errorf("insert unit: %w", err)
	}
	if err := s.store.AdjustStock(ctx, productID, 1); err != nil {
		return nil, fmt.Errorf("bump stock: %w", err)
	}
	return u, nil
}

// Reserve marks up to count of the oldest unused units as consumed and
// returns their payloads in insertion order. Returning fewer payloads than
// requested is not an error; callers decide how to handle short stock.
func (s *Service) Reserve(ctx context.Context, productID string, count int, consumer string) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	units, err := s.store.UnusedUnits(ctx, productID, count)
	if err != nil {
		return nil, fmt.Errorf("list unused units: %w", err)
	}

	now := time.Now().UTC()
	payloads := make([]string, 0, len(units))
	for _, u := range units {
		if err := s.store.MarkUnitUsed(ctx, u.ID, consumer, now); err != nil {
			return payloads, fmt.Errorf("mark unit %s used: %w", u.ID, err)
		}
		payloads = append(payloads, u.Payload)
	}

	if len(payloads) > 0 {
		if err := s.store.AdjustStock(ctx, productID, -len(payloads)); err != nil {
			return payloads, fmt.Errorf("decrement stock: %w", err)
		}
	}
	return payloads, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, guildID string) ([]Product, error) {
	return s.store.ListProducts(ctx, guildID)
}

func (s *Service) BySeller(ctx context.Context, guildID, sellerID string) ([]Product, error) {
	return s.store.ProductsBySeller(ctx, guildID, sellerID)
}

// ByNumber resolves a product by its position in the seller's listing, the
// way the purchase wizard addresses products.
func (s *Service) ByNumber(ctx context.Context, guildID, sellerID string, number int) (*Product, error) {
	products, err := s.store.ProductsBySeller(ctx, guildID, sellerID)
	if err != nil {
		return nil, err
	}
	if number < 1 || number > len(products) {
		return nil, ErrProductNotFound
	}
	return &products[number-1], nil
}

func (s *Service) SellerIDsWithStock(ctx context.Context, guildID string) ([]string, error) {
	return s.store.SellerIDsWithStock(ctx, guildID)
}

func (s *Service) Update(ctx context.Context, id string, upd ProductUpdate) (*Product, error) {
	ok, err := s.store.UpdateProduct(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	if !ok {
		return nil, ErrProductNotFound
	}
	return s.Get(ctx, id)
}

// DeleteProduct removes the product together with all of its units, used or
// not. There is no undo.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteProduct(ctx, id)
}

func (s *Service) UnusedCount(ctx context.Context, productID string) (int, error) {
	return s.store.CountUnused(ctx, productID)
}
