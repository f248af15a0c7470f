package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/domain"
	apperrors "github.com/qbong1010/printer-server/internal/errors"
	"github.com/qbong1010/printer-server/internal/printer"
	"github.com/qbong1010/printer-server/internal/receipt"
)

// OrderStore is the cache slice the operator API reads and mutates.
type OrderStore interface {
	RecentOrders(ctx context.Context, limit int) ([]domain.Order, error)
	OrderDetail(ctx context.Context, orderID int64) (domain.Order, error)
	ForceMarkPrinting(ctx context.Context, orderID int64, now time.Time) error
	SetPrinted(ctx context.Context, orderID int64) error
	SetPrintStatus(ctx context.Context, orderID int64, status domain.PrintStatus) error
}

// PrintService dispatches receipts and answers health probes.
type PrintService interface {
	Dispatch(ctx context.Context, role printer.Role, order domain.Order) printer.DispatchResult
	PrintBoth(ctx context.Context, order domain.Order) (customer, kitchen printer.DispatchResult)
	CheckHealth(ctx context.Context, role printer.Role) error
	BackupPath() string
}

// ConfigStore exposes the printer and policy configuration.
type ConfigStore interface {
	Printer(role printer.Role) printer.PrinterConfig
	AutoPrint() printer.AutoPrintPolicy
	SetPrinter(role printer.Role, cfg printer.PrinterConfig) error
	SetAutoPrint(policy printer.AutoPrintPolicy) error
}

// CacheSyncer triggers cache refreshes on demand.
type CacheSyncer interface {
	SyncOrders(ctx context.Context, limit int) (int, error)
	RefreshAll(ctx context.Context) error
}

// RemoteMarker reflects manual print results upstream, best effort.
type RemoteMarker interface {
	Configured() bool
	MarkOrderPrinted(ctx context.Context, orderID int64) error
}

type Handler struct {
	orders    OrderStore
	printSvc  PrintService
	config    ConfigStore
	syncer    CacheSyncer
	remote    RemoteMarker
	pullLimit int
	logger    *zap.Logger
}

func NewHandler(orders OrderStore, printSvc PrintService, config ConfigStore,
	syncer CacheSyncer, remote RemoteMarker, pullLimit int, logger *zap.Logger) *Handler {
	if pullLimit <= 0 {
		pullLimit = 20
	}
	return &Handler{
		orders:    orders,
		printSvc:  printSvc,
		config:    config,
		syncer:    syncer,
		remote:    remote,
		pullLimit: pullLimit,
		logger:    logger,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if err := h.printSvc.CheckHealth(r.Context(), printer.RoleCustomer); err != nil {
		status["customer_printer"] = err.Error()
	}
	if err := h.printSvc.CheckHealth(r.Context(), printer.RoleKitchen); err != nil {
		status["kitchen_printer"] = err.Error()
	}
	writeJSON(w, http.StatusOK, status)
}

type orderResponse struct {
	OrderID          int64          `json:"order_id"`
	CompanyName      string         `json:"company_name"`
	CreatedAt        time.Time      `json:"created_at"`
	DineIn           bool           `json:"is_dine_in"`
	TotalPrice       int64          `json:"total_price"`
	IsPrinted        bool           `json:"is_printed"`
	PrintStatus      string         `json:"print_status"`
	PrintAttempts    int            `json:"print_attempts"`
	LastPrintAttempt *time.Time     `json:"last_print_attempt,omitempty"`
	Items            []itemResponse `json:"items"`
}

type itemResponse struct {
	Name      string           `json:"name"`
	Quantity  int              `json:"quantity"`
	UnitPrice int64            `json:"unit_price"`
	Options   []optionResponse `json:"options,omitempty"`
}

type optionResponse struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:          order.ID,
		CompanyName:      order.CompanyName,
		CreatedAt:        order.CreatedAt,
		DineIn:           order.DineIn,
		TotalPrice:       order.Total(),
		IsPrinted:        order.IsPrinted,
		PrintStatus:      string(order.PrintStatus),
		PrintAttempts:    order.PrintAttempts,
		LastPrintAttempt: order.LastPrintAttempt,
		Items:            []itemResponse{},
	}
	for _, item := range order.Items {
		ir := itemResponse{Name: item.Name, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
		for _, opt := range item.Options {
			ir.Options = append(ir.Options, optionResponse{Name: opt.Name, Price: opt.Price})
		}
		resp.Items = append(resp.Items, ir)
	}
	return resp
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := h.pullLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	orders, err := h.orders.RecentOrders(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing orders failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PrintOrder is the manual print: both receipts, full state transition.
// Unlike the auto-print loop it also accepts orders already PRINTED.
func (h *Handler) PrintOrder(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()
	logger := h.logger.With(zap.String("traceId", traceID))

	orderID, ok := h.orderIDFromPath(w, r)
	if !ok {
		return
	}

	order, err := h.orders.OrderDetail(r.Context(), orderID)
	if err != nil {
		logger.Warn("order not found", zap.Int64("orderId", orderID), zap.Error(err))
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if err := h.orders.ForceMarkPrinting(r.Context(), orderID, time.Now()); err != nil {
		logger.Error("claiming order failed", zap.Int64("orderId", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to claim order")
		return
	}

	customer, kitchen := h.printSvc.PrintBoth(r.Context(), order)
	succeeded := customer.Succeeded && kitchen.Succeeded
	if succeeded {
		if err := h.orders.SetPrinted(r.Context(), orderID); err != nil {
			logger.Error("marking order printed failed", zap.Int64("orderId", orderID), zap.Error(err))
		}
		if h.remote != nil && h.remote.Configured() {
			if err := h.remote.MarkOrderPrinted(r.Context(), orderID); err != nil {
				logger.Warn("upstream is_printed update failed",
					zap.Int64("orderId", orderID), zap.Error(err))
			}
		}
	} else {
		if err := h.orders.SetPrintStatus(r.Context(), orderID, domain.PrintStatusFailed); err != nil {
			logger.Error("marking order failed errored", zap.Int64("orderId", orderID), zap.Error(err))
		}
	}

	writeJSON(w, statusForResult(succeeded), map[string]any{
		"order_id":  orderID,
		"succeeded": succeeded,
		"customer":  resultPayload(customer),
		"kitchen":   resultPayload(kitchen),
	})
}

// PrintRole reprints a single receipt without touching print state. Used
// to re-run one device after a partial failure.
func (h *Handler) PrintRole(role printer.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, ok := h.orderIDFromPath(w, r)
		if !ok {
			return
		}

		order, err := h.orders.OrderDetail(r.Context(), orderID)
		if err != nil {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}

		result := h.printSvc.Dispatch(r.Context(), role, order)
		writeJSON(w, statusForResult(result.Succeeded), map[string]any{
			"order_id": orderID,
			"role":     string(role),
			"result":   resultPayload(result),
		})
	}
}

// Preview decodes the last written file backup back into readable text.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(h.printSvc.BackupPath())
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no receipt has been printed yet")
			return
		}
		h.logger.Error("reading receipt backup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read receipt backup")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": receipt.Decode(data)})
}

type printersResponse struct {
	Customer printer.PrinterConfig `json:"customer_printer"`
	Kitchen  printer.PrinterConfig `json:"kitchen_printer"`
}

func (h *Handler) GetPrinters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, printersResponse{
		Customer: h.config.Printer(printer.RoleCustomer),
		Kitchen:  h.config.Printer(printer.RoleKitchen),
	})
}

func (h *Handler) PutPrinters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Customer *printer.PrinterConfig `json:"customer_printer"`
		Kitchen  *printer.PrinterConfig `json:"kitchen_printer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}
	if req.Customer == nil && req.Kitchen == nil {
		writeError(w, http.StatusBadRequest, "customer_printer or kitchen_printer is required")
		return
	}

	if req.Customer != nil {
		if err := h.config.SetPrinter(printer.RoleCustomer, *req.Customer); err != nil {
			h.writeConfigError(w, err)
			return
		}
	}
	if req.Kitchen != nil {
		if err := h.config.SetPrinter(printer.RoleKitchen, *req.Kitchen); err != nil {
			h.writeConfigError(w, err)
			return
		}
	}

	h.logger.Info("printer configuration updated")
	h.GetPrinters(w, r)
}

func (h *Handler) GetAutoPrint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.AutoPrint())
}

func (h *Handler) PutAutoPrint(w http.ResponseWriter, r *http.Request) {
	var policy printer.AutoPrintPolicy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}
	if err := h.config.SetAutoPrint(policy); err != nil {
		h.writeConfigError(w, err)
		return
	}
	h.logger.Info("auto-print policy updated", zap.Bool("enabled", policy.Enabled))
	writeJSON(w, http.StatusOK, h.config.AutoPrint())
}

// TestKitchenPrinter sends a fixed sample ticket to the kitchen device.
func (h *Handler) TestKitchenPrinter(w http.ResponseWriter, r *http.Request) {
	sample := domain.Order{
		ID:          0,
		CompanyName: "프린터 테스트",
		CreatedAt:   time.Now(),
		DineIn:      true,
		Items: []domain.OrderItem{
			{Name: "테스트 메뉴", Quantity: 1, UnitPrice: 0},
		},
	}
	result := h.printSvc.Dispatch(r.Context(), printer.RoleKitchen, sample)
	writeJSON(w, statusForResult(result.Succeeded), map[string]any{
		"result": resultPayload(result),
	})
}

// RefreshOrders pulls the newest orders from upstream into the cache.
func (h *Handler) RefreshOrders(w http.ResponseWriter, r *http.Request) {
	count, err := h.syncer.SyncOrders(r.Context(), h.pullLimit)
	if err != nil {
		h.logger.Warn("manual order refresh failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "order refresh failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": count})
}

// RefreshCache re-snapshots the reference tables.
func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.RefreshAll(r.Context()); err != nil {
		h.logger.Warn("manual cache refresh failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "cache refresh failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *Handler) orderIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "orderId")
	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "orderId must be a positive integer")
		return 0, false
	}
	return orderID, true
}

func (h *Handler) writeConfigError(w http.ResponseWriter, err error) {
	if _, ok := apperrors.IsConfigurationError(err); ok {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := apperrors.IsValidationError(err); ok {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("persisting configuration failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to persist configuration")
}

func resultPayload(result printer.DispatchResult) map[string]any {
	payload := map[string]any{
		"succeeded":      result.Succeeded,
		"transport_used": result.TransportUsed,
		"file_backup_ok": result.FileBackupOK,
	}
	if result.DeviceErr != nil {
		payload["device_error"] = result.DeviceErr.Error()
	}
	return payload
}

func statusForResult(succeeded bool) int {
	if succeeded {
		return http.StatusOK
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
