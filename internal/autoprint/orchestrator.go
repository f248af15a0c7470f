package autoprint

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/domain"
	apperrors "github.com/qbong1010/printer-server/internal/errors"
	"github.com/qbong1010/printer-server/internal/printer"
)

// OrderSource is the cache slice the orchestrator drives print state
// through.
type OrderSource interface {
	UnprintedOrders(ctx context.Context, maxAttempts int) ([]domain.Order, error)
	MarkPrinting(ctx context.Context, orderID int64, now time.Time) (bool, error)
	SetPrinted(ctx context.Context, orderID int64) error
	SetPrintStatus(ctx context.Context, orderID int64, status domain.PrintStatus) error
	AbandonOrder(ctx context.Context, orderID int64, maxAttempts int) error
}

// OrderSyncer pulls fresh orders from upstream into the cache.
type OrderSyncer interface {
	HasNewOrders(ctx context.Context) (bool, int64, error)
	SyncOrders(ctx context.Context, limit int) (int, error)
}

// Printer dispatches receipts for one order.
type Printer interface {
	PrintBoth(ctx context.Context, order domain.Order) (customer, kitchen printer.DispatchResult)
	CheckHealth(ctx context.Context, role printer.Role) error
}

// PolicySource exposes the live auto-print policy; re-read every tick so
// config changes apply without a restart.
type PolicySource interface {
	AutoPrint() printer.AutoPrintPolicy
}

// RemoteMarker reflects final print state back upstream, best effort.
type RemoteMarker interface {
	Configured() bool
	MarkOrderPrinted(ctx context.Context, orderID int64) error
}

// Orchestrator is the poll loop: every interval it syncs new orders into
// the cache and prints whatever the policy allows.
type Orchestrator struct {
	orders    OrderSource
	syncer    OrderSyncer
	printer   Printer
	policy    PolicySource
	remote    RemoteMarker
	logger    *zap.Logger
	interval  time.Duration
	pullLimit int

	// now is swapped out by tests.
	now func() time.Time

	ticking atomic.Bool
}

func NewOrchestrator(orders OrderSource, syncer OrderSyncer, printerSvc Printer,
	policy PolicySource, remote RemoteMarker, interval time.Duration, pullLimit int,
	logger *zap.Logger) *Orchestrator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if pullLimit <= 0 {
		pullLimit = 20
	}
	return &Orchestrator{
		orders:    orders,
		syncer:    syncer,
		printer:   printerSvc,
		policy:    policy,
		remote:    remote,
		logger:    logger,
		interval:  interval,
		pullLimit: pullLimit,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.logger.Info("auto-print loop started", zap.Duration("interval", o.interval))
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("auto-print loop stopped")
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one poll-and-print pass. A tick still running when the next
// one fires wins; the late tick is skipped rather than stacked.
func (o *Orchestrator) Tick(ctx context.Context) {
	if !o.ticking.CompareAndSwap(false, true) {
		o.logger.Debug("previous tick still running, skipping")
		return
	}
	defer o.ticking.Store(false)

	policy := o.policy.AutoPrint()
	if !policy.Enabled {
		return
	}
	if !policy.WithinBusinessHours(o.now()) {
		return
	}

	o.syncNewOrders(ctx)
	o.printPending(ctx, policy)
}

func (o *Orchestrator) syncNewOrders(ctx context.Context) {
	if o.remote == nil || !o.remote.Configured() {
		return
	}

	fresh, latest, err := o.syncer.HasNewOrders(ctx)
	if err != nil {
		o.logger.Warn("order poll failed", zap.Error(err))
		return
	}
	if !fresh {
		return
	}

	count, err := o.syncer.SyncOrders(ctx, o.pullLimit)
	if err != nil {
		o.logger.Warn("order sync failed", zap.Error(err))
		return
	}
	o.logger.Info("new orders synced",
		zap.Int64("latestOrderId", latest), zap.Int("count", count))
}

func (o *Orchestrator) printPending(ctx context.Context, policy printer.AutoPrintPolicy) {
	maxAttempts := 1 + policy.RetryCount
	pending, err := o.orders.UnprintedOrders(ctx, maxAttempts)
	if err != nil {
		o.logger.Error("listing unprinted orders failed", zap.Error(err))
		return
	}

	for _, order := range pending {
		if ctx.Err() != nil {
			return
		}
		if !o.eligible(order, policy) {
			continue
		}
		if policy.DineInOnly && !order.DineIn {
			continue
		}

		if policy.CheckPrinterStatus {
			// A disabled kitchen role reports healthy.
			for _, role := range []printer.Role{printer.RoleCustomer, printer.RoleKitchen} {
				if err := o.printer.CheckHealth(ctx, role); err != nil {
					// Unhealthy printer: leave attempt budgets untouched and
					// try again next tick.
					o.logger.Warn("printer unhealthy, deferring auto print",
						zap.Int64("orderId", order.ID),
						zap.String("role", string(role)), zap.Error(err))
					return
				}
			}
		}

		o.printOne(ctx, order, maxAttempts)
	}
}

// eligible decides whether this order may be attempted now. First attempts
// go out immediately; retries wait out the policy's interval.
func (o *Orchestrator) eligible(order domain.Order, policy printer.AutoPrintPolicy) bool {
	if order.PrintAttempts == 0 {
		return true
	}
	if order.PrintStatus != domain.PrintStatusFailed {
		return false
	}
	if order.LastPrintAttempt == nil {
		return true
	}
	return !o.now().Before(order.LastPrintAttempt.Add(policy.RetryInterval()))
}

func (o *Orchestrator) printOne(ctx context.Context, order domain.Order, maxAttempts int) {
	claimed, err := o.orders.MarkPrinting(ctx, order.ID, o.now())
	if err != nil {
		o.logger.Error("claiming order failed", zap.Int64("orderId", order.ID), zap.Error(err))
		return
	}
	if !claimed {
		// Someone else (manual print, a racing tick) got there first.
		return
	}

	customer, kitchen := o.printer.PrintBoth(ctx, order)
	if customer.Succeeded && kitchen.Succeeded {
		if err := o.orders.SetPrinted(ctx, order.ID); err != nil {
			o.logger.Error("marking order printed failed",
				zap.Int64("orderId", order.ID), zap.Error(err))
			return
		}
		o.logger.Info("order auto printed",
			zap.Int64("orderId", order.ID),
			zap.String("customerTransport", customer.TransportUsed),
			zap.String("kitchenTransport", kitchen.TransportUsed))
		o.reportPrinted(ctx, order.ID)
		return
	}

	deviceErr := firstError(customer.DeviceErr, kitchen.DeviceErr)

	// Bad config fails the same way on every attempt; burn the budget now
	// instead of retrying until someone fixes the printer settings.
	if hasConfigurationError(customer.DeviceErr, kitchen.DeviceErr) {
		if err := o.orders.AbandonOrder(ctx, order.ID, maxAttempts); err != nil {
			o.logger.Error("abandoning misconfigured order failed",
				zap.Int64("orderId", order.ID), zap.Error(err))
			return
		}
		o.logger.Error("auto print abandoned, printer misconfigured",
			zap.Int64("orderId", order.ID), zap.Error(deviceErr))
		return
	}

	if err := o.orders.SetPrintStatus(ctx, order.ID, domain.PrintStatusFailed); err != nil {
		o.logger.Error("marking order failed errored",
			zap.Int64("orderId", order.ID), zap.Error(err))
		return
	}
	o.logger.Warn("auto print failed",
		zap.Int64("orderId", order.ID),
		zap.Bool("customerSucceeded", customer.Succeeded),
		zap.Bool("kitchenSucceeded", kitchen.Succeeded),
		zap.Error(deviceErr))
}

// reportPrinted pushes the final flag upstream. Failures are logged and
// forgotten; the cache already holds the truth.
func (o *Orchestrator) reportPrinted(ctx context.Context, orderID int64) {
	if o.remote == nil || !o.remote.Configured() {
		return
	}
	if err := o.remote.MarkOrderPrinted(ctx, orderID); err != nil {
		o.logger.Warn("upstream is_printed update failed",
			zap.Int64("orderId", orderID), zap.Error(err))
	}
}

func hasConfigurationError(errs ...error) bool {
	for _, err := range errs {
		if _, ok := apperrors.IsConfigurationError(err); ok {
			return true
		}
	}
	return false
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
