package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/config"
	"github.com/qbong1010/printer-server/internal/domain"
	apperrors "github.com/qbong1010/printer-server/internal/errors"
)

// Client talks to the upstream PostgREST API. Every call degrades to a
// RemoteUnavailableError so callers can keep serving from the local cache.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(cfg config.SupabaseConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Configured reports whether the agent has an upstream to talk to. The
// agent runs fine fully offline; callers skip remote work when this is
// false.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// FetchTableRows pulls an entire table. Used for the small reference
// tables; orders go through FetchRecentOrders.
func (c *Client) FetchTableRows(ctx context.Context, table string) ([]map[string]any, error) {
	query := url.Values{"select": {"*"}}

	var rows []map[string]any
	if err := c.get(ctx, table, query, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// orderRow mirrors the nested shape PostgREST returns for the embedded
// order select.
type orderRow struct {
	OrderID    int64  `json:"order_id"`
	CreatedAt  string `json:"created_at"`
	IsDineIn   bool   `json:"is_dine_in"`
	IsPrinted  bool   `json:"is_printed"`
	TotalPrice int64  `json:"total_price"`
	Company    *struct {
		CompanyName string `json:"company_name"`
	} `json:"company"`
	Items []struct {
		Quantity int   `json:"quantity"`
		Price    int64 `json:"item_price"`
		MenuItem *struct {
			Name string `json:"menu_item_name"`
		} `json:"menu_item"`
		Options []struct {
			OptionItem *struct {
				Name  string `json:"option_item_name"`
				Price int64  `json:"price"`
			} `json:"option_item"`
		} `json:"order_item_option"`
	} `json:"order_item"`
}

const orderSelect = "order_id,created_at,is_dine_in,is_printed,total_price," +
	"company:company_id(company_name)," +
	"order_item(quantity,item_price,menu_item:menu_item_id(menu_item_name)," +
	"order_item_option(option_item:option_item_id(option_item_name,price)))"

// FetchRecentOrders returns the newest orders with items and options in a
// single round trip, newest first.
func (c *Client) FetchRecentOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	query := url.Values{
		"select": {orderSelect},
		"order":  {"order_id.desc"},
		"limit":  {fmt.Sprintf("%d", limit)},
	}

	var rows []orderRow
	if err := c.get(ctx, "order", query, &rows); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toDomain())
	}
	return orders, nil
}

// LatestOrderID returns the newest order id upstream, zero when the table
// is empty.
func (c *Client) LatestOrderID(ctx context.Context) (int64, error) {
	query := url.Values{
		"select": {"order_id"},
		"order":  {"order_id.desc"},
		"limit":  {"1"},
	}

	var rows []struct {
		OrderID int64 `json:"order_id"`
	}
	if err := c.get(ctx, "order", query, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].OrderID, nil
}

// MarkOrderPrinted flips the upstream is_printed flag. Best effort: the
// local cache is authoritative for print state.
func (c *Client) MarkOrderPrinted(ctx context.Context, orderID int64) error {
	endpoint := fmt.Sprintf("%s/rest/v1/order?order_id=eq.%d", c.baseURL, orderID)
	body := bytes.NewReader([]byte(`{"is_printed":true}`))

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, body)
	if err != nil {
		return fmt.Errorf("building patch request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewRemoteUnavailableError(
			fmt.Sprintf("patching order %d", orderID), err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewRemoteUnavailableError(
			fmt.Sprintf("patching order %d: status %d", orderID, resp.StatusCode), nil)
	}
	return nil
}

// InsertLog ships one telemetry entry to the app_logs table.
func (c *Client) InsertLog(ctx context.Context, entry map[string]any) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding log entry: %w", err)
	}

	endpoint := c.baseURL + "/rest/v1/app_logs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building log request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewRemoteUnavailableError("shipping log entry", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewRemoteUnavailableError(
			fmt.Sprintf("shipping log entry: status %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *Client) get(ctx context.Context, table string, query url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, url.PathEscape(table), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", table, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewRemoteUnavailableError(
			fmt.Sprintf("fetching %s", table), err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.NewRemoteUnavailableError(
			fmt.Sprintf("fetching %s: status %d", table, resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", table, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}

func (r orderRow) toDomain() domain.Order {
	order := domain.Order{
		ID:         r.OrderID,
		CreatedAt:  parseUpstreamTime(r.CreatedAt),
		DineIn:     r.IsDineIn,
		IsPrinted:  r.IsPrinted,
		TotalPrice: r.TotalPrice,
	}
	if r.Company != nil {
		order.CompanyName = r.Company.CompanyName
	}
	for _, item := range r.Items {
		domainItem := domain.OrderItem{
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		}
		if item.MenuItem != nil {
			domainItem.Name = item.MenuItem.Name
		}
		for _, opt := range item.Options {
			if opt.OptionItem == nil {
				continue
			}
			domainItem.Options = append(domainItem.Options, domain.OptionLine{
				Name:  opt.OptionItem.Name,
				Price: opt.OptionItem.Price,
			})
		}
		order.Items = append(order.Items, domainItem)
	}
	return order
}

// parseUpstreamTime accepts the timestamp variants PostgREST emits
// depending on the column type.
func parseUpstreamTime(value string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}
