// Package memory implements the inventory, ledger and session stores on
// plain maps. It backs the package tests (and nothing else): PostgreSQL is
// the source of truth in production.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justenes1/purchasebot/internal/inventory"
	"github.com/justenes1/purchasebot/internal/ledger"
	"github.com/justenes1/purchasebot/internal/session"
)

type Store struct {
	mu sync.Mutex

	products map[string]inventory.Product
	units    []inventory.Unit

	orders   map[string]ledger.Order
	txs      map[string]ledger.Transaction
	sessions map[session.Key]session.Session

	// Events collects every outbox row for assertions.
	Events []ledger.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		products: make(map[string]inventory.Product),
		orders:   make(map[string]ledger.Order),
		txs:      make(map[string]ledger.Transaction),
		sessions: make(map[session.Key]session.Session),
	}
}

// --- inventory.Store ---

func (s *Store) InsertProduct(ctx context.Context, p *inventory.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("duplicate product id %s", p.ID)
	}
	s.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ProductExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.products[id]
	return ok, nil
}

func (s *Store) ListProducts(ctx context.Context, guildID string) ([]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []inventory.Product
	for _, p := range s.products {
		if p.GuildID == guildID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SellerID != result[j].SellerID {
			return result[i].SellerID < result[j].SellerID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ProductsBySeller(ctx context.Context, guildID, sellerID string) ([]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []inventory.Product
	for _, p := range s.products {
		if p.GuildID == guildID && p.SellerID == sellerID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) SellerIDsWithStock(ctx context.Context, guildID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var ids []string
	for _, p := range s.products {
		if p.GuildID == guildID && p.Stock > 0 && !seen[p.SellerID] {
			seen[p.SellerID] = true
			ids = append(ids, p.SellerID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id string, upd inventory.ProductUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return false, nil
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.PriceLTC != nil {
		p.PriceLTC = *upd.PriceLTC
	}
	if upd.PriceUSD != nil {
		p.PriceUSD = *upd.PriceUSD
	}
	if upd.Stock != nil {
		p.Stock = *upd.Stock
	}
	if upd.ImageURL != nil {
		p.ImageURL = *upd.ImageURL
	}
	s.products[id] = p
	return true, nil
}

func (s *Store) AdjustStock(ctx context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil
	}
	p.Stock += delta
	if p.Stock < 0 {
		p.Stock = 0
	}
	s.products[id] = p
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	kept := s.units[:0]
	for _, u := range s.units {
		if u.ProductID != id {
			kept = append(kept, u)
		}
	}
	s.units = kept
	return nil
}

func (s *Store) InsertUnit(ctx context.Context, u *inventory.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.units {
		if existing.ID == u.ID {
			return fmt.Errorf("duplicate unit id %s", u.ID)
		}
	}
	s.units = append(s.units, *u)
	return nil
}

func (s *Store) UnitExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.units {
		if u.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UnusedUnits(ctx context.Context, productID string, limit int) ([]inventory.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []inventory.Unit
	for _, u := range s.units {
		if len(result) == limit {
			break
		}
		if u.ProductID == productID && !u.Used {
			result = append(result, u)
		}
	}
	return result, nil
}

func (s *Store) MarkUnitUsed(ctx context.Context, unitID, usedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.units {
		if s.units[i].ID == unitID {
			if s.units[i].Used {
				return fmt.Errorf("unit %s already used", unitID)
			}
			s.units[i].Used = true
			s.units[i].UsedBy = usedBy
			t := at
			s.units[i].UsedAt = &t
			return nil
		}
	}
	return fmt.Errorf("unit %s not found", unitID)
}

func (s *Store) CountUnused(ctx context.Context, productID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.units {
		if u.ProductID == productID && !u.Used {
			n++
		}
	}
	return n, nil
}

// --- ledger.Store ---

func (s *Store) InsertOrder(ctx context.Context, o *ledger.Order, evt *ledger.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("duplicate order id %s", o.ID)
	}
	s.orders[o.ID] = *o
	if evt != nil {
		s.Events = append(s.Events, *evt)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*ledger.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *Store) OrderExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.orders[id]
	return ok, nil
}

func (s *Store) OrdersByBuyer(ctx context.Context, buyerID string) ([]ledger.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []ledger.Order
	for _, o := range s.orders {
		if o.BuyerID == buyerID {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) PendingOrders(ctx context.Context) ([]ledger.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []ledger.Order
	for _, o := range s.orders {
		if o.Status == ledger.StatusPending {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ApplyTransition(ctx context.Context, orderID string, from, to ledger.Status, set ledger.Fields, evt *ledger.OutboxEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if set.TxID != nil {
		o.TxID = *set.TxID
	}
	if set.AmountReceived != nil {
		o.AmountReceived = *set.AmountReceived
	}
	if set.DeliveredKeys != nil {
		o.DeliveredKeys = *set.DeliveredKeys
	}
	if set.RefundedBy != nil {
		o.RefundedBy = *set.RefundedBy
	}
	if set.DeliveredAt != nil {
		o.DeliveredAt = set.DeliveredAt
	}
	if set.RefundedAt != nil {
		o.RefundedAt = set.RefundedAt
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = o
	if evt != nil {
		s.Events = append(s.Events, *evt)
	}
	return true, nil
}

func (s *Store) SetTicketChannel(ctx context.Context, orderID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	o.TicketChannel = channelID
	s.orders[orderID] = o
	return nil
}

func (s *Store) InsertTransaction(ctx context.Context, t *ledger.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[t.TxID]; ok {
		return false, nil
	}
	s.txs[t.TxID] = *t
	return true, nil
}

func (s *Store) TransactionsByOrder(ctx context.Context, orderID string) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []ledger.Transaction
	for _, t := range s.txs {
		if t.OrderID == orderID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ObservedAt.Before(result[j].ObservedAt)
	})
	return result, nil
}

func (s *Store) SoldOrders(ctx context.Context, guildID, sellerID string, since time.Time) ([]ledger.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []ledger.Order
	for _, o := range s.orders {
		if o.GuildID != guildID || o.Status != ledger.StatusDelivered {
			continue
		}
		if sellerID != "" && o.SellerID != sellerID {
			continue
		}
		if o.CreatedAt.Before(since) {
			continue
		}
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) Stats(ctx context.Context, guildID, sellerID string) (*ledger.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &ledger.Stats{RevenueLTC: decimal.Zero, RevenueUSD: decimal.Zero}
	for _, o := range s.orders {
		if o.GuildID != guildID {
			continue
		}
		if sellerID != "" && o.SellerID != sellerID {
			continue
		}
		st.TotalOrders++
		switch o.Status {
		case ledger.StatusDelivered:
			st.DeliveredOrders++
			st.RevenueLTC = st.RevenueLTC.Add(o.AmountLTC)
			st.RevenueUSD = st.RevenueUSD.Add(o.AmountUSD)
		case ledger.StatusPending:
			st.PendingOrders++
		}
	}
	return st, nil
}

// --- session.Store ---

func (s *Store) Upsert(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Key()] = *sess
	return nil
}

func (s *Store) Get(ctx context.Context, key session.Key) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *Store) ByUserChannel(ctx context.Context, userID, channelID string) ([]session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []session.Session
	for key, sess := range s.sessions {
		if key.UserID == userID && key.ChannelID == channelID {
			result = append(result, sess)
		}
	}
	return result, nil
}

func (s *Store) Update(ctx context.Context, key session.Key, step string, data map[string]string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return fmt.Errorf("session not found")
	}
	sess.Step = step
	sess.Data = data
	sess.ExpiresAt = expiresAt
	s.sessions[key] = sess
	return nil
}

func (s *Store) Delete(ctx context.Context, key session.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *Store) DeleteAll(ctx context.Context, userID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.sessions {
		if key.UserID == userID && key.ChannelID == channelID {
			delete(s.sessions, key)
		}
	}
	return nil
}
