package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/qbong1010/printer-server/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Repository is the local order cache. All print-state transitions happen
// here; the upstream database only ever learns the final is_printed flag.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertOrder stores a fetched order with its items and options. Print
// tracking columns are preserved for rows that already exist, so a refresh
// can never reset an order back to NEW. The upstream is_printed flag only
// ever raises the local one: an order printed from another terminal stops
// being a candidate here, but a refresh cannot un-print a local success.
func (r *Repository) UpsertOrder(ctx context.Context, order domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO "order" (order_id, company_name, created_at, is_dine_in, total_price, is_printed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			company_name = excluded.company_name,
			created_at = excluded.created_at,
			is_dine_in = excluded.is_dine_in,
			total_price = excluded.total_price,
			is_printed = MAX("order".is_printed, excluded.is_printed)`,
		order.ID, order.CompanyName, order.CreatedAt.Format(timeLayout),
		boolToInt(order.DineIn), order.Total(), boolToInt(order.IsPrinted))
	if err != nil {
		return fmt.Errorf("upserting order %d: %w", order.ID, err)
	}

	// Items carry no stable upstream ids, so replace them wholesale.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM order_item_option WHERE order_item_id IN
			(SELECT order_item_id FROM order_item WHERE order_id = ?)`, order.ID); err != nil {
		return fmt.Errorf("clearing order %d options: %w", order.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_item WHERE order_id = ?`, order.ID); err != nil {
		return fmt.Errorf("clearing order %d items: %w", order.ID, err)
	}

	for _, item := range order.Items {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO order_item (order_id, item_name, quantity, unit_price)
			VALUES (?, ?, ?, ?)`,
			order.ID, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("inserting item for order %d: %w", order.ID, err)
		}
		itemID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting last insert id: %w", err)
		}
		for _, opt := range item.Options {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_item_option (order_item_id, option_name, option_price)
				VALUES (?, ?, ?)`,
				itemID, opt.Name, opt.Price); err != nil {
				return fmt.Errorf("inserting option for order %d: %w", order.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing order %d: %w", order.ID, err)
	}
	return nil
}

// RecentOrders returns the newest orders with their print state, items
// included. The HTTP order list is served from this.
func (r *Repository) RecentOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, company_name, created_at, is_dine_in, total_price,
		       is_printed, print_status, print_attempts, last_print_attempt
		FROM "order" ORDER BY order_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent orders: %w", err)
	}
	defer rows.Close()

	orders, err := r.scanOrders(rows)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		items, err := r.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// UnprintedOrders returns orders the auto-print loop may still act on:
// anything not yet printed, locally or upstream, whose attempt budget is
// not exhausted. Retry timing is the orchestrator's call, not the query's.
func (r *Repository) UnprintedOrders(ctx context.Context, maxAttempts int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, company_name, created_at, is_dine_in, total_price,
		       is_printed, print_status, print_attempts, last_print_attempt
		FROM "order"
		WHERE is_printed = 0 AND print_status IN (?, ?) AND print_attempts < ?
		ORDER BY order_id ASC`,
		domain.PrintStatusNew, domain.PrintStatusFailed, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("querying unprinted orders: %w", err)
	}
	defer rows.Close()

	orders, err := r.scanOrders(rows)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		items, err := r.orderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// OrderDetail loads a single order with items and options.
func (r *Repository) OrderDetail(ctx context.Context, orderID int64) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT order_id, company_name, created_at, is_dine_in, total_price,
		       is_printed, print_status, print_attempts, last_print_attempt
		FROM "order" WHERE order_id = ?`, orderID)

	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return domain.Order{}, fmt.Errorf("order %d not found: %w", orderID, err)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("querying order %d: %w", orderID, err)
	}

	order.Items, err = r.orderItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// MarkPrinting claims an order for a dispatch attempt: sets PRINTING,
// increments the attempt counter and stamps the attempt time. Returns false
// when the order is no longer claimable, which is how concurrent manual and
// automatic prints avoid double dispatch.
func (r *Repository) MarkPrinting(ctx context.Context, orderID int64, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE "order"
		SET print_status = ?, print_attempts = print_attempts + 1, last_print_attempt = ?
		WHERE order_id = ? AND print_status IN (?, ?)`,
		domain.PrintStatusPrinting, now.Format(timeLayout), orderID,
		domain.PrintStatusNew, domain.PrintStatusFailed)
	if err != nil {
		return false, fmt.Errorf("marking order %d printing: %w", orderID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected == 1, nil
}

// ForceMarkPrinting claims an order regardless of its current status.
// Manual re-prints go through this; the attempt counter still only moves
// forward.
func (r *Repository) ForceMarkPrinting(ctx context.Context, orderID int64, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE "order"
		SET print_status = ?, print_attempts = print_attempts + 1, last_print_attempt = ?
		WHERE order_id = ?`,
		domain.PrintStatusPrinting, now.Format(timeLayout), orderID)
	if err != nil {
		return fmt.Errorf("force-marking order %d printing: %w", orderID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("order %d not found", orderID)
	}
	return nil
}

// SetPrintStatus records the outcome of a dispatch attempt.
func (r *Repository) SetPrintStatus(ctx context.Context, orderID int64, status domain.PrintStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE "order" SET print_status = ? WHERE order_id = ?`, status, orderID)
	if err != nil {
		return fmt.Errorf("setting order %d status: %w", orderID, err)
	}
	return nil
}

// AbandonOrder marks an order PRINT_FAILED and exhausts its attempt
// budget, so the auto-print loop stops offering it. Used when the failure
// is a configuration problem retries cannot fix. The attempt counter only
// moves forward.
func (r *Repository) AbandonOrder(ctx context.Context, orderID int64, maxAttempts int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE "order"
		SET print_status = ?, print_attempts = MAX(print_attempts, ?)
		WHERE order_id = ?`,
		domain.PrintStatusFailed, maxAttempts, orderID)
	if err != nil {
		return fmt.Errorf("abandoning order %d: %w", orderID, err)
	}
	return nil
}

// SetPrinted marks an order fully printed.
func (r *Repository) SetPrinted(ctx context.Context, orderID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE "order" SET print_status = ?, is_printed = 1 WHERE order_id = ?`,
		domain.PrintStatusPrinted, orderID)
	if err != nil {
		return fmt.Errorf("marking order %d printed: %w", orderID, err)
	}
	return nil
}

// GetPrintState returns the print tracking columns for one order.
func (r *Repository) GetPrintState(ctx context.Context, orderID int64) (domain.PrintStatus, int, *time.Time, error) {
	var status string
	var attempts int
	var lastAttempt sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT print_status, print_attempts, last_print_attempt
		FROM "order" WHERE order_id = ?`, orderID).Scan(&status, &attempts, &lastAttempt)
	if err != nil {
		return "", 0, nil, fmt.Errorf("querying order %d print state: %w", orderID, err)
	}
	return domain.PrintStatus(status), attempts, parseNullTime(lastAttempt), nil
}

// GetMeta reads a cache_meta value; missing keys return the empty string.
func (r *Repository) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM cache_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %q: %w", key, err)
	}
	return value, nil
}

func (r *Repository) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing meta %q: %w", key, err)
	}
	return nil
}

func (r *Repository) orderItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_item_id, item_name, quantity, unit_price
		FROM order_item WHERE order_id = ? ORDER BY order_item_id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying order %d items: %w", orderID, err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	var itemIDs []int64
	for rows.Next() {
		var id int64
		var item domain.OrderItem
		if err := rows.Scan(&id, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		items = append(items, item)
		itemIDs = append(itemIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order items: %w", err)
	}

	for i, itemID := range itemIDs {
		opts, err := r.itemOptions(ctx, itemID)
		if err != nil {
			return nil, err
		}
		items[i].Options = opts
	}
	return items, nil
}

func (r *Repository) itemOptions(ctx context.Context, itemID int64) ([]domain.OptionLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT option_name, option_price
		FROM order_item_option WHERE order_item_id = ? ORDER BY order_item_option_id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("querying item %d options: %w", itemID, err)
	}
	defer rows.Close()

	var opts []domain.OptionLine
	for rows.Next() {
		var opt domain.OptionLine
		if err := rows.Scan(&opt.Name, &opt.Price); err != nil {
			return nil, fmt.Errorf("scanning item option: %w", err)
		}
		opts = append(opts, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item options: %w", err)
	}
	return opts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var createdAt string
	var dineIn, isPrinted int
	var status string
	var lastAttempt sql.NullString

	err := row.Scan(&order.ID, &order.CompanyName, &createdAt, &dineIn,
		&order.TotalPrice, &isPrinted, &status, &order.PrintAttempts, &lastAttempt)
	if err != nil {
		return domain.Order{}, err
	}

	order.CreatedAt = parseCachedTime(createdAt)
	order.DineIn = dineIn != 0
	order.IsPrinted = isPrinted != 0
	order.PrintStatus = domain.PrintStatus(status)
	order.LastPrintAttempt = parseNullTime(lastAttempt)
	return order, nil
}

func (r *Repository) scanOrders(rows *sql.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return orders, nil
}

// parseCachedTime is forgiving: the upstream sends RFC 3339 but older
// caches hold "2006-01-02 15:04:05" rows.
func parseCachedTime(value string) time.Time {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	ts := parseCachedTime(value.String)
	if ts.IsZero() {
		return nil
	}
	return &ts
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
