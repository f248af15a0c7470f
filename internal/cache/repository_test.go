package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbong1010/printer-server/internal/domain"
	"github.com/qbong1010/printer-server/internal/testutil"
)

func sampleOrder(id int64) domain.Order {
	return domain.Order{
		ID:          id,
		CompanyName: "아토케토",
		CreatedAt:   time.Date(2025, 3, 14, 12, 30, 0, 0, time.UTC),
		DineIn:      true,
		Items: []domain.OrderItem{
			{Name: "Rice Bowl", Quantity: 2, UnitPrice: 5000,
				Options: []domain.OptionLine{{Name: "Extra Egg", Price: 1000}}},
			{Name: "Iced Tea", Quantity: 1, UnitPrice: 3000},
		},
	}
}

func TestRepository_UpsertAndDetail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(1001)))

	order, err := repo.OrderDetail(ctx, 1001)
	require.NoError(t, err)

	assert.Equal(t, int64(1001), order.ID)
	assert.Equal(t, "아토케토", order.CompanyName)
	assert.True(t, order.DineIn)
	assert.Equal(t, domain.PrintStatusNew, order.PrintStatus)
	assert.Equal(t, 0, order.PrintAttempts)
	assert.Nil(t, order.LastPrintAttempt)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Rice Bowl", order.Items[0].Name)
	require.Len(t, order.Items[0].Options, 1)
	assert.Equal(t, int64(1000), order.Items[0].Options[0].Price)
	assert.Equal(t, int64(15000), order.Total())
}

func TestRepository_UpsertPreservesPrintState(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(1001)))

	now := time.Date(2025, 3, 14, 12, 31, 0, 0, time.UTC)
	claimed, err := repo.MarkPrinting(ctx, 1001, now)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.SetPrintStatus(ctx, 1001, domain.PrintStatusFailed))

	// A re-sync of the same order must not reset the local print columns.
	updated := sampleOrder(1001)
	updated.CompanyName = "아토케토 2호점"
	require.NoError(t, repo.UpsertOrder(ctx, updated))

	status, attempts, lastAttempt, err := repo.GetPrintState(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, domain.PrintStatusFailed, status)
	assert.Equal(t, 1, attempts)
	require.NotNil(t, lastAttempt)
	assert.True(t, lastAttempt.Equal(now))

	order, err := repo.OrderDetail(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, "아토케토 2호점", order.CompanyName)
	require.Len(t, order.Items, 2)
}

func TestRepository_MarkPrintingClaimsOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(1001)))

	claimed, err := repo.MarkPrinting(ctx, 1001, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Already PRINTING: a second claim must lose.
	claimed, err = repo.MarkPrinting(ctx, 1001, now)
	require.NoError(t, err)
	assert.False(t, claimed)

	// PRINT_FAILED is claimable again.
	require.NoError(t, repo.SetPrintStatus(ctx, 1001, domain.PrintStatusFailed))
	claimed, err = repo.MarkPrinting(ctx, 1001, now)
	require.NoError(t, err)
	assert.True(t, claimed)

	_, attempts, _, err := repo.GetPrintState(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRepository_SetPrintedIsTerminal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(1001)))
	require.NoError(t, repo.SetPrinted(ctx, 1001))

	order, err := repo.OrderDetail(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, order.IsPrinted)
	assert.Equal(t, domain.PrintStatusPrinted, order.PrintStatus)

	claimed, err := repo.MarkPrinting(ctx, 1001, time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRepository_UnprintedOrders(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	for id := int64(1); id <= 4; id++ {
		require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(id)))
	}
	require.NoError(t, repo.SetPrinted(ctx, 2))
	require.NoError(t, repo.SetPrintStatus(ctx, 3, domain.PrintStatusFailed))

	// Exhaust order 4's attempt budget.
	for i := 0; i < 3; i++ {
		_, err := repo.MarkPrinting(ctx, 4, time.Now())
		require.NoError(t, err)
		require.NoError(t, repo.SetPrintStatus(ctx, 4, domain.PrintStatusFailed))
	}

	orders, err := repo.UnprintedOrders(ctx, 3)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(1), orders[0].ID)
	assert.Equal(t, int64(3), orders[1].ID)
	assert.NotEmpty(t, orders[0].Items)
}

func TestRepository_UpstreamPrintedOrderIsNotOffered(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	// Printed from another terminal: the upstream flag arrives true.
	printed := sampleOrder(77)
	printed.IsPrinted = true
	require.NoError(t, repo.UpsertOrder(ctx, printed))
	require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(78)))

	orders, err := repo.UnprintedOrders(ctx, 3)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(78), orders[0].ID)

	order, err := repo.OrderDetail(ctx, 77)
	require.NoError(t, err)
	assert.True(t, order.IsPrinted)
}

func TestRepository_UpsertNeverLowersPrintedFlag(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(1001)))
	require.NoError(t, repo.SetPrinted(ctx, 1001))

	// A refresh with a stale upstream flag must not un-print the order.
	require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(1001)))

	order, err := repo.OrderDetail(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, order.IsPrinted)

	orders, err := repo.UnprintedOrders(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRepository_AbandonOrderExhaustsBudget(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(1001)))

	claimed, err := repo.MarkPrinting(ctx, 1001, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.AbandonOrder(ctx, 1001, 4))

	status, attempts, _, err := repo.GetPrintState(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, domain.PrintStatusFailed, status)
	assert.Equal(t, 4, attempts)

	orders, err := repo.UnprintedOrders(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRepository_RecentOrdersNewestFirst(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, repo.UpsertOrder(ctx, sampleOrder(id)))
	}

	orders, err := repo.RecentOrders(ctx, 3)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, int64(5), orders[0].ID)
	assert.Equal(t, int64(3), orders[2].ID)
}

func TestRepository_Meta(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	value, err := repo.GetMeta(ctx, "last_order_id")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, repo.SetMeta(ctx, "last_order_id", "42"))
	require.NoError(t, repo.SetMeta(ctx, "last_order_id", "43"))

	value, err = repo.GetMeta(ctx, "last_order_id")
	require.NoError(t, err)
	assert.Equal(t, "43", value)
}
