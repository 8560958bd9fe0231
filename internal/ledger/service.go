package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/justenes1/purchasebot/internal/ident"
	"github.com/justenes1/purchasebot/pkg/contracts"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// OutboxEvent is written in the same transaction as the order change it
// describes; pkg/messaging drains the table asynchronously.
type OutboxEvent struct {
	ID      string
	Type    string
	Payload []byte
}

// Fields carries the optional columns a transition may set alongside the
// status itself.
type Fields struct {
	TxID           *string
	AmountReceived *decimal.Decimal
	DeliveredKeys  *string
	RefundedBy     *string
	DeliveredAt    *time.Time
	RefundedAt     *time.Time
}

type Store interface {
	InsertOrder(ctx context.Context, o *Order, evt *OutboxEvent) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	OrderExists(ctx context.Context, id string) (bool, error)
	OrdersByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	PendingOrders(ctx context.Context) ([]Order, error)
	ApplyTransition(ctx context.Context, orderID string, from, to Status, set Fields, evt *OutboxEvent) (bool, error)
	SetTicketChannel(ctx context.Context, orderID, channelID string) error
	InsertTransaction(ctx context.Context, t *Transaction) (bool, error)
	TransactionsByOrder(ctx context.Context, orderID string) ([]Transaction, error)
	SoldOrders(ctx context.Context, guildID, sellerID string, since time.Time) ([]Order, error)
	Stats(ctx context.Context, guildID, sellerID string) (*Stats, error)
}

// StatusListener observes committed status changes (the websocket hub is
// one).
type StatusListener interface {
	OrderStatusChanged(orderID string, status string)
}

type Service struct {
	store     Store
	listeners []StatusListener
}

func NewService(store Store, listeners ...StatusListener) *Service {
	return &Service{store: store, listeners: listeners}
}

type CreateOrderInput struct {
	GuildID   string
	BuyerID   string
	SellerID  string
	ProductID string
	Quantity  int
	Address   string
	AmountLTC decimal.Decimal
	AmountUSD decimal.Decimal
}

func (s *Service) Create(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}
	if in.Address == "" {
		return nil, fmt.Errorf("receiving address must not be empty")
	}
	if !in.AmountLTC.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	id, err := ident.Unique(ident.PrefixOrder, func(id string) (bool, error) {
		return s.store.OrderExists(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("allocate order id: %w", err)
	}

	now := time.Now().UTC()
	o := &Order{
		ID:        id,
		GuildID:   in.GuildID,
		BuyerID:   in.BuyerID,
		SellerID:  in.SellerID,
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		Address:   in.Address,
		AmountLTC: in.AmountLTC,
		AmountUSD: in.AmountUSD,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	eventID := uuid.New().String()
	evt, err := marshalEvent(eventID, contracts.EventOrderCreated, contracts.OrderCreatedEvent{
		EventID:   eventID,
		OrderID:   o.ID,
		GuildID:   o.GuildID,
		BuyerID:   o.BuyerID,
		SellerID:  o.SellerID,
		ProductID: o.ProductID,
		Quantity:  o.Quantity,
		AmountLTC: o.AmountLTC.String(),
		AmountUSD: o.AmountUSD.String(),
		Address:   o.Address,
		CreatedAt: o.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.InsertOrder(ctx, o, evt); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

// Transition moves an order along one edge of the state machine. Illegal
// edges are rejected with ErrInvalidTransition and leave the order
// untouched.
func (s *Service) Transition(ctx context.Context, orderID string, to Status, set Fields) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	now := time.Now().UTC()
	switch to {
	case StatusDelivered:
		if set.DeliveredAt == nil {
			set.DeliveredAt = &now
		}
	case StatusRefunded:
		if set.RefundedAt == nil {
			set.RefundedAt = &now
		}
	}

	var txid string
	if set.TxID != nil {
		txid = *set.TxID
	}
	eventID := uuid.New().String()
	evt, err := marshalEvent(eventID, contracts.EventOrderStatusChanged, contracts.OrderStatusChangedEvent{
		EventID:   eventID,
		OrderID:   o.ID,
		GuildID:   o.GuildID,
		From:      string(o.Status),
		To:        string(to),
		TxID:      txid,
		ChangedAt: now,
	})
	if err != nil {
		return nil, err
	}

	ok, err := s.store.ApplyTransition(ctx, orderID, o.Status, to, set, evt)
	if err != nil {
		return nil, fmt.Errorf("apply transition: %w", err)
	}
	if !ok {
		// The order moved underneath us; whatever it moved to, this edge
		// no longer applies.
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	for _, l := range s.listeners {
		l.OrderStatusChanged(orderID, string(to))
	}
	return s.Get(ctx, orderID)
}

// RecordTransaction stores an observed payment. A txid already recorded for
// any order is skipped; the bool reports whether this call stored the row.
func (s *Service) RecordTransaction(ctx context.Context, orderID, txid string, amount decimal.Decimal, confirmations int) (bool, error) {
	inserted, err := s.store.InsertTransaction(ctx, &Transaction{
		OrderID:       orderID,
		TxID:          txid,
		Amount:        amount,
		Confirmations: confirmations,
		ObservedAt:    time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	return inserted, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) ByBuyer(ctx context.Context, buyerID string) ([]Order, error) {
	return s.store.OrdersByBuyer(ctx, buyerID)
}

func (s *Service) Pending(ctx context.Context) ([]Order, error) {
	return s.store.PendingOrders(ctx)
}

func (s *Service) SetTicketChannel(ctx context.Context, orderID, channelID string) error {
	return s.store.SetTicketChannel(ctx, orderID, channelID)
}

func (s *Service) Transactions(ctx context.Context, orderID string) ([]Transaction, error) {
	return s.store.TransactionsByOrder(ctx, orderID)
}

// Sold lists delivered orders for a guild, optionally one seller, created
// at or after since. A zero since means all time.
func (s *Service) Sold(ctx context.Context, guildID, sellerID string, since time.Time) ([]Order, error) {
	return s.store.SoldOrders(ctx, guildID, sellerID, since)
}

func (s *Service) Stats(ctx context.Context, guildID, sellerID string) (*Stats, error) {
	return s.store.Stats(ctx, guildID, sellerID)
}

func marshalEvent(id, eventType string, v any) (*OutboxEvent, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return &OutboxEvent{ID: id, Type: eventType, Payload: payload}, nil
}
