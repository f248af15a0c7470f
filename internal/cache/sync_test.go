package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/domain"
	apperrors "github.com/qbong1010/printer-server/internal/errors"
	"github.com/qbong1010/printer-server/internal/testutil"
)

type fakeRemote struct {
	tables   map[string][]map[string]any
	orders   []domain.Order
	latestID int64
	err      error
}

func (f *fakeRemote) FetchTableRows(_ context.Context, table string) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tables[table], nil
}

func (f *fakeRemote) FetchRecentOrders(_ context.Context, limit int) ([]domain.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.orders) > limit {
		return f.orders[:limit], nil
	}
	return f.orders, nil
}

func (f *fakeRemote) LatestOrderID(_ context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.latestID, nil
}

func newTestSyncer(t *testing.T, remote *fakeRemote) (*Syncer, *Repository) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repo := NewRepository(db)
	return NewSyncer(db, repo, remote, zap.NewNop()), repo
}

func TestSyncer_RefreshTable(t *testing.T) {
	remote := &fakeRemote{tables: map[string][]map[string]any{
		"menu_item": {
			{"menu_item_id": float64(1), "menu_category_id": float64(10),
				"menu_item_name": "Rice Bowl", "price": float64(5000), "is_available": true},
			{"menu_item_id": float64(2), "menu_category_id": float64(10),
				"menu_item_name": "Iced Tea", "price": float64(3000), "is_available": false},
		},
	}}
	s, _ := newTestSyncer(t, remote)

	count, err := s.RefreshTable(context.Background(), "menu_item")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var name string
	var available int
	err = s.db.QueryRow(
		`SELECT menu_item_name, is_available FROM menu_item WHERE menu_item_id = 2`,
	).Scan(&name, &available)
	require.NoError(t, err)
	assert.Equal(t, "Iced Tea", name)
	assert.Equal(t, 0, available)
}

func TestSyncer_RefreshTableReplacesStaleRows(t *testing.T) {
	remote := &fakeRemote{tables: map[string][]map[string]any{
		"company": {{"company_id": float64(1), "company_name": "아토케토"}},
	}}
	s, _ := newTestSyncer(t, remote)

	_, err := s.db.Exec(`INSERT INTO company (company_id, company_name) VALUES (99, 'stale')`)
	require.NoError(t, err)

	count, err := s.RefreshTable(context.Background(), "company")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var total int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM company`).Scan(&total))
	assert.Equal(t, 1, total)
}

func TestSyncer_RefreshTableTwiceIsIdempotent(t *testing.T) {
	remote := &fakeRemote{tables: map[string][]map[string]any{
		"menu_item": {
			{"menu_item_id": float64(1), "menu_category_id": float64(10),
				"menu_item_name": "Rice Bowl", "price": float64(5000), "is_available": true},
			{"menu_item_id": float64(2), "menu_category_id": float64(10),
				"menu_item_name": "Iced Tea", "price": float64(3000), "is_available": false},
		},
	}}
	s, _ := newTestSyncer(t, remote)

	snapshot := func() []string {
		rows, err := s.db.Query(`
			SELECT menu_item_id, menu_category_id, menu_item_name, price, is_available
			FROM menu_item ORDER BY menu_item_id`)
		require.NoError(t, err)
		defer rows.Close()

		var out []string
		for rows.Next() {
			var id, catID, price, available int64
			var name string
			require.NoError(t, rows.Scan(&id, &catID, &name, &price, &available))
			out = append(out, fmt.Sprintf("%d|%d|%s|%d|%d", id, catID, name, price, available))
		}
		require.NoError(t, rows.Err())
		return out
	}

	_, err := s.RefreshTable(context.Background(), "menu_item")
	require.NoError(t, err)
	first := snapshot()

	// Same upstream payload again: the table must come out identical.
	_, err = s.RefreshTable(context.Background(), "menu_item")
	require.NoError(t, err)
	second := snapshot()

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
}

func TestSyncer_RefreshTableRejectsUnknownTable(t *testing.T) {
	s, _ := newTestSyncer(t, &fakeRemote{})

	_, err := s.RefreshTable(context.Background(), "order")
	require.Error(t, err)
	_, ok := apperrors.IsValidationError(err)
	assert.True(t, ok)

	_, err = s.RefreshTable(context.Background(), "sqlite_master; DROP TABLE company")
	require.Error(t, err)
}

func TestSyncer_SyncOrdersAdvancesCursor(t *testing.T) {
	remote := &fakeRemote{orders: []domain.Order{
		{ID: 7, CompanyName: "아토케토", CreatedAt: time.Now()},
		{ID: 9, CompanyName: "아토케토", CreatedAt: time.Now()},
	}}
	s, repo := newTestSyncer(t, remote)

	count, err := s.SyncOrders(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	last, err := s.LastSeenOrderID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), last)

	order, err := repo.OrderDetail(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, domain.PrintStatusNew, order.PrintStatus)
}

func TestSyncer_SyncOrdersKeepsUpstreamPrintedFlag(t *testing.T) {
	remote := &fakeRemote{orders: []domain.Order{
		{ID: 77, CompanyName: "아토케토", CreatedAt: time.Now(), IsPrinted: true},
		{ID: 78, CompanyName: "아토케토", CreatedAt: time.Now()},
	}}
	s, repo := newTestSyncer(t, remote)

	_, err := s.SyncOrders(context.Background(), 20)
	require.NoError(t, err)

	pending, err := repo.UnprintedOrders(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(78), pending[0].ID)
}

func TestSyncer_CursorNeverMovesBackwards(t *testing.T) {
	remote := &fakeRemote{orders: []domain.Order{{ID: 5, CreatedAt: time.Now()}}}
	s, repo := newTestSyncer(t, remote)

	require.NoError(t, repo.SetMeta(context.Background(), metaLastOrderID, "12"))

	_, err := s.SyncOrders(context.Background(), 20)
	require.NoError(t, err)

	last, err := s.LastSeenOrderID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), last)
}

func TestSyncer_HasNewOrders(t *testing.T) {
	remote := &fakeRemote{latestID: 10}
	s, repo := newTestSyncer(t, remote)

	fresh, latest, err := s.HasNewOrders(context.Background())
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, int64(10), latest)

	require.NoError(t, repo.SetMeta(context.Background(), metaLastOrderID, "10"))

	fresh, _, err = s.HasNewOrders(context.Background())
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestSyncer_RemoteFailurePropagates(t *testing.T) {
	remote := &fakeRemote{err: apperrors.NewRemoteUnavailableError("upstream timeout", nil)}
	s, _ := newTestSyncer(t, remote)

	_, err := s.SyncOrders(context.Background(), 20)
	require.Error(t, err)
	_, ok := apperrors.IsRemoteUnavailableError(err)
	assert.True(t, ok)
}
