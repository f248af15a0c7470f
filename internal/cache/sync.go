package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/domain"
	apperrors "github.com/qbong1010/printer-server/internal/errors"
)

const metaLastOrderID = "last_order_id"

// RemoteSource is the slice of the upstream API the syncer needs.
type RemoteSource interface {
	FetchTableRows(ctx context.Context, table string) ([]map[string]any, error)
	FetchRecentOrders(ctx context.Context, limit int) ([]domain.Order, error)
	LatestOrderID(ctx context.Context) (int64, error)
}

// refreshableTables is the allow-list for wholesale table refreshes, with
// the columns accepted from upstream rows. The "order" table is absent on
// purpose: its local print columns must survive every refresh, so orders go
// through UpsertOrder instead.
var refreshableTables = map[string][]string{
	"company":                {"company_id", "company_name"},
	"menu_category":          {"menu_category_id", "category_name"},
	"menu_item":              {"menu_item_id", "menu_category_id", "menu_item_name", "price", "is_available"},
	"menu_item_option_group": {"menu_item_id", "option_group_id"},
	"option_group":           {"option_group_id", "option_group_name"},
	"option_group_item":      {"option_group_id", "option_item_id"},
	"option_item":            {"option_item_id", "option_item_name", "price"},
}

// Syncer mirrors upstream reference tables into the local cache and tracks
// the newest order id it has seen.
type Syncer struct {
	db     *sql.DB
	repo   *Repository
	remote RemoteSource
	logger *zap.Logger
}

func NewSyncer(db *sql.DB, repo *Repository, remote RemoteSource, logger *zap.Logger) *Syncer {
	return &Syncer{db: db, repo: repo, remote: remote, logger: logger}
}

// RefreshTable replaces a reference table's contents with the upstream
// rows, atomically. Tables outside the allow-list are rejected before any
// network call happens.
func (s *Syncer) RefreshTable(ctx context.Context, table string) (int, error) {
	columns, ok := refreshableTables[table]
	if !ok {
		return 0, apperrors.NewValidationError(fmt.Sprintf("table %q is not refreshable", table))
	}

	rows, err := s.remote.FetchTableRows(ctx, table)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return 0, fmt.Errorf("clearing table %s: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)

	for _, row := range rows {
		values := make([]any, len(columns))
		for i, col := range columns {
			values[i] = normalizeValue(row[col])
		}
		if _, err := tx.ExecContext(ctx, insert, values...); err != nil {
			return 0, fmt.Errorf("inserting into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing refresh of %s: %w", table, err)
	}

	s.logger.Info("cache table refreshed",
		zap.String("table", table), zap.Int("rows", len(rows)))
	return len(rows), nil
}

// RefreshAll refreshes every allow-listed table. Failures are reported per
// table so one broken upstream view does not block the rest.
func (s *Syncer) RefreshAll(ctx context.Context) error {
	var firstErr error
	for table := range refreshableTables {
		if _, err := s.RefreshTable(ctx, table); err != nil {
			s.logger.Warn("table refresh failed",
				zap.String("table", table), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SyncOrders pulls the newest orders from upstream into the cache and
// advances the last-seen cursor. Existing rows keep their print state.
func (s *Syncer) SyncOrders(ctx context.Context, limit int) (int, error) {
	orders, err := s.remote.FetchRecentOrders(ctx, limit)
	if err != nil {
		return 0, err
	}

	var maxID int64
	for _, order := range orders {
		if err := s.repo.UpsertOrder(ctx, order); err != nil {
			return 0, err
		}
		if order.ID > maxID {
			maxID = order.ID
		}
	}

	if maxID > 0 {
		last, err := s.LastSeenOrderID(ctx)
		if err != nil {
			return 0, err
		}
		if maxID > last {
			if err := s.repo.SetMeta(ctx, metaLastOrderID, strconv.FormatInt(maxID, 10)); err != nil {
				return 0, err
			}
		}
	}

	s.logger.Debug("orders synced", zap.Int("count", len(orders)), zap.Int64("maxOrderId", maxID))
	return len(orders), nil
}

// HasNewOrders asks upstream for the newest order id and compares it with
// the local cursor. It does not move the cursor; SyncOrders does that once
// the orders actually land in the cache.
func (s *Syncer) HasNewOrders(ctx context.Context) (bool, int64, error) {
	latest, err := s.remote.LatestOrderID(ctx)
	if err != nil {
		return false, 0, err
	}
	last, err := s.LastSeenOrderID(ctx)
	if err != nil {
		return false, 0, err
	}
	return latest > last, latest, nil
}

// LastSeenOrderID reads the poll cursor; a fresh cache reports zero.
func (s *Syncer) LastSeenOrderID(ctx context.Context) (int64, error) {
	value, err := s.repo.GetMeta(ctx, metaLastOrderID)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s cursor %q: %w", metaLastOrderID, value, err)
	}
	return id, nil
}

// normalizeValue flattens JSON decoding artifacts into values the sqlite
// driver accepts directly.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case bool:
		return boolToInt(t)
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	default:
		return v
	}
}
