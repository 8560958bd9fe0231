package inventory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justenes1/purchasebot/internal/inventory"
	"github.com/justenes1/purchasebot/internal/storage/memory"
)

func newInventory(t *testing.T) (*inventory.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return inventory.NewService(store), store
}

func addProduct(t *testing.T, svc *inventory.Service) *inventory.Product {
	t.Helper()
	p, err := svc.AddProduct(context.Background(), inventory.AddProductInput{
		GuildID:  "g1",
		SellerID: "seller1",
		Name:     "Test Key",
		PriceLTC: decimal.RequireFromString("0.5"),
		PriceUSD: decimal.RequireFromString("40"),
	})
	require.NoError(t, err)
	return p
}

func TestAddProductValidation(t *testing.T) {
	svc, _ := newInventory(t)
	ctx := context.Background()

	_, err := svc.AddProduct(ctx, inventory.AddProductInput{GuildID: "g1", SellerID: "s"})
	assert.Error(t, err, "empty name must be rejected")

	_, err = svc.AddProduct(ctx, inventory.AddProductInput{
		GuildID: "g1", SellerID: "s", Name: "x",
		PriceLTC: decimal.RequireFromString("-1"),
	})
	assert.Error(t, err, "negative price must be rejected")
}

func TestAddUnitBumpsStock(t *testing.T) {
	svc, _ := newInventory(t)
	ctx := context.Background()
	p := addProduct(t, svc)

	for i := 0; i < 3; i++ {
		_, err := svc.AddUnit(ctx, p.ID, "KEY-PAYLOAD")
		require.NoError(t, err)
	}

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
}

func TestAddUnitUnknownProduct(t *testing.T) {
	svc, _ := newInventory(t)
	_, err := svc.AddUnit(context.Background(), "PROD-0000", "payload")
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestReserveFIFO(t *testing.T) {
	svc, _ := newInventory(t)
	ctx := context.Background()
	p := addProduct(t, svc)

	for _, payload := range []string{"first", "second", "third"} {
		_, err := svc.AddUnit(ctx, p.ID, payload)
		require.NoError(t, err)
	}

	got, err := svc.Reserve(ctx, p.ID, 2, "buyer1")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, got, "oldest units go out first")

	got, err = svc.Reserve(ctx, p.ID, 1, "buyer2")
	require.NoError(t, err)
	assert.Equal(t, []string{"third"}, got)
}

func TestReservePartialOnShortStock(t *testing.T) {
	svc, _ := newInventory(t)
	ctx := context.Background()
	p := addProduct(t, svc)

	_, err := svc.AddUnit(ctx, p.ID, "only-one")
	require.NoError(t, err)

	got, err := svc.Reserve(ctx, p.ID, 5, "buyer1")
	require.NoError(t, err, "short stock is not an error")
	assert.Equal(t, []string{"only-one"}, got)

	after, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.Stock, "stock never goes negative")
}

func TestReserveEmptyPool(t *testing.T) {
	svc, _ := newInventory(t)
	p := addProduct(t, svc)

	got, err := svc.Reserve(context.Background(), p.ID, 2, "buyer1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReserveMarksUnitsUsed(t *testing.T) {
	svc, _ := newInventory(t)
	ctx := context.Background()
	p := addProduct(t, svc)

	_, err := svc.AddUnit(ctx, p.ID, "k1")
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, p.ID, 1, "buyer1")
	require.NoError(t, err)

	// Already reserved units must not come back.
	again, err := svc.Reserve(ctx, p.ID, 1, "buyer2")
	require.NoError(t, err)
	assert.Empty(t, again)

	n, err := svc.UnusedCount(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestByNumber(t *testing.T) {
	svc, _ := newInventory(t)
	ctx := context.Background()

	first := addProduct(t, svc)
	second, err := svc.AddProduct(ctx, inventory.AddProductInput{
		GuildID: "g1", SellerID: "seller1", Name: "Another",
		PriceLTC: decimal.RequireFromString("1"),
		PriceUSD: decimal.RequireFromString("80"),
	})
	require.NoError(t, err)

	got, err := svc.ByNumber(ctx, "g1", "seller1", 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = svc.ByNumber(ctx, "g1", "seller1", 2)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = svc.ByNumber(ctx, "g1", "seller1", 3)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)

	_, err = svc.ByNumber(ctx, "g1", "seller1", 0)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestUpdateProduct(t *testing.T) {
	svc, _ := newInventory(t)
	ctx := context.Background()
	p := addProduct(t, svc)

	name := "Renamed"
	price := decimal.RequireFromString("0.75")
	got, err := svc.Update(ctx, p.ID, inventory.ProductUpdate{Name: &name, PriceLTC: &price})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.PriceLTC.Equal(price))
	assert.Equal(t, p.Description, got.Description, "untouched fields survive")

	_, err = svc.Update(ctx, "PROD-0000", inventory.ProductUpdate{Name: &name})
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestDeleteProductRemovesUnits(t *testing.T) {
	svc, _ := newInventory(t)
	ctx := context.Background()
	p := addProduct(t, svc)

	_, err := svc.AddUnit(ctx, p.ID, "k1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProduct(ctx, p.ID))

	_, err = svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)

	n, err := svc.UnusedCount(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
