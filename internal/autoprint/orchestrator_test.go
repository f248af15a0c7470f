package autoprint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/domain"
	apperrors "github.com/qbong1010/printer-server/internal/errors"
	"github.com/qbong1010/printer-server/internal/printer"
)

type fakeOrders struct {
	pending       []domain.Order
	claimDenied   bool
	claims        []int64
	printed       []int64
	failed        []int64
	abandoned     []int64
	abandonBudget int
	maxAttempts   int
}

func (f *fakeOrders) UnprintedOrders(_ context.Context, maxAttempts int) ([]domain.Order, error) {
	f.maxAttempts = maxAttempts
	return f.pending, nil
}

func (f *fakeOrders) MarkPrinting(_ context.Context, orderID int64, _ time.Time) (bool, error) {
	if f.claimDenied {
		return false, nil
	}
	f.claims = append(f.claims, orderID)
	return true, nil
}

func (f *fakeOrders) SetPrinted(_ context.Context, orderID int64) error {
	f.printed = append(f.printed, orderID)
	return nil
}

func (f *fakeOrders) SetPrintStatus(_ context.Context, orderID int64, status domain.PrintStatus) error {
	if status == domain.PrintStatusFailed {
		f.failed = append(f.failed, orderID)
	}
	return nil
}

func (f *fakeOrders) AbandonOrder(_ context.Context, orderID int64, maxAttempts int) error {
	f.abandoned = append(f.abandoned, orderID)
	f.abandonBudget = maxAttempts
	return nil
}

type fakeSyncer struct {
	fresh    bool
	synced   int
	polls    int
	syncRuns int
}

func (f *fakeSyncer) HasNewOrders(_ context.Context) (bool, int64, error) {
	f.polls++
	return f.fresh, 99, nil
}

func (f *fakeSyncer) SyncOrders(_ context.Context, _ int) (int, error) {
	f.syncRuns++
	return f.synced, nil
}

type fakePrinter struct {
	customerOK       bool
	kitchenOK        bool
	customerErr      error
	kitchenErr       error
	healthErr        error
	kitchenHealthErr error
	printedIDs       []int64
}

func (f *fakePrinter) PrintBoth(_ context.Context, order domain.Order) (printer.DispatchResult, printer.DispatchResult) {
	f.printedIDs = append(f.printedIDs, order.ID)
	return printer.DispatchResult{Succeeded: f.customerOK, DeviceErr: f.customerErr},
		printer.DispatchResult{Succeeded: f.kitchenOK, DeviceErr: f.kitchenErr}
}

func (f *fakePrinter) CheckHealth(_ context.Context, role printer.Role) error {
	if role == printer.RoleKitchen && f.kitchenHealthErr != nil {
		return f.kitchenHealthErr
	}
	return f.healthErr
}

type fakePolicy struct {
	policy printer.AutoPrintPolicy
}

func (f *fakePolicy) AutoPrint() printer.AutoPrintPolicy { return f.policy }

type fakeMarker struct {
	configured bool
	marked     []int64
}

func (f *fakeMarker) Configured() bool { return f.configured }

func (f *fakeMarker) MarkOrderPrinted(_ context.Context, orderID int64) error {
	f.marked = append(f.marked, orderID)
	return nil
}

func enabledPolicy() printer.AutoPrintPolicy {
	return printer.AutoPrintPolicy{
		Enabled:              true,
		RetryCount:           3,
		RetryIntervalSeconds: 30,
	}
}

type fixture struct {
	orders  *fakeOrders
	syncer  *fakeSyncer
	printer *fakePrinter
	policy  *fakePolicy
	marker  *fakeMarker
	orch    *Orchestrator
}

func newFixture(policy printer.AutoPrintPolicy) *fixture {
	f := &fixture{
		orders:  &fakeOrders{},
		syncer:  &fakeSyncer{},
		printer: &fakePrinter{customerOK: true, kitchenOK: true},
		policy:  &fakePolicy{policy: policy},
		marker:  &fakeMarker{configured: true},
	}
	f.orch = NewOrchestrator(f.orders, f.syncer, f.printer, f.policy, f.marker,
		5*time.Second, 20, zap.NewNop())
	return f
}

func TestTick_PrintsNewOrder(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.orders.pending = []domain.Order{{ID: 1001, DineIn: true, PrintStatus: domain.PrintStatusNew}}

	f.orch.Tick(context.Background())

	assert.Equal(t, []int64{1001}, f.orders.claims)
	assert.Equal(t, []int64{1001}, f.printer.printedIDs)
	assert.Equal(t, []int64{1001}, f.orders.printed)
	assert.Equal(t, []int64{1001}, f.marker.marked)
	// Attempt budget is the first try plus the configured retries.
	assert.Equal(t, 4, f.orders.maxAttempts)
}

func TestTick_DisabledPolicyDoesNothing(t *testing.T) {
	policy := enabledPolicy()
	policy.Enabled = false
	f := newFixture(policy)
	f.orders.pending = []domain.Order{{ID: 1001, PrintStatus: domain.PrintStatusNew}}

	f.orch.Tick(context.Background())

	assert.Empty(t, f.printer.printedIDs)
	assert.Zero(t, f.syncer.polls)
}

func TestTick_OutsideBusinessHours(t *testing.T) {
	policy := enabledPolicy()
	policy.BusinessHoursStart = "09:00"
	policy.BusinessHoursEnd = "18:00"
	f := newFixture(policy)
	f.orders.pending = []domain.Order{{ID: 1001, PrintStatus: domain.PrintStatusNew}}
	f.orch.now = func() time.Time {
		return time.Date(2025, 3, 14, 22, 0, 0, 0, time.Local)
	}

	f.orch.Tick(context.Background())

	assert.Empty(t, f.printer.printedIDs)
}

func TestTick_DineInOnlySkipsTakeout(t *testing.T) {
	policy := enabledPolicy()
	policy.DineInOnly = true
	f := newFixture(policy)
	f.orders.pending = []domain.Order{
		{ID: 1, DineIn: false, PrintStatus: domain.PrintStatusNew},
		{ID: 2, DineIn: true, PrintStatus: domain.PrintStatusNew},
	}

	f.orch.Tick(context.Background())

	assert.Equal(t, []int64{2}, f.printer.printedIDs)
}

func TestTick_FailureMarksFailed(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.printer.customerOK = false
	f.orders.pending = []domain.Order{{ID: 1001, DineIn: true, PrintStatus: domain.PrintStatusNew}}

	f.orch.Tick(context.Background())

	assert.Equal(t, []int64{1001}, f.orders.failed)
	assert.Empty(t, f.orders.printed)
	assert.Empty(t, f.marker.marked)
}

func TestTick_ConfigurationErrorExhaustsRetries(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.printer.customerOK = false
	f.printer.customerErr = apperrors.NewConfigurationError("usb", "vendor id missing")
	f.orders.pending = []domain.Order{{ID: 1001, DineIn: true, PrintStatus: domain.PrintStatusNew}}

	f.orch.Tick(context.Background())

	assert.Equal(t, []int64{1001}, f.orders.abandoned)
	assert.Equal(t, 4, f.orders.abandonBudget)
	assert.Empty(t, f.orders.failed)
	assert.Empty(t, f.orders.printed)
}

func TestTick_KitchenConfigurationErrorAlsoAbandons(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.printer.customerOK = false
	f.printer.customerErr = assert.AnError
	f.printer.kitchenOK = false
	f.printer.kitchenErr = apperrors.NewConfigurationError("network", "printer ip missing")
	f.orders.pending = []domain.Order{{ID: 1001, DineIn: true, PrintStatus: domain.PrintStatusNew}}

	f.orch.Tick(context.Background())

	assert.Equal(t, []int64{1001}, f.orders.abandoned)
	assert.Empty(t, f.orders.failed)
}

func TestTick_RetryWaitsOutInterval(t *testing.T) {
	f := newFixture(enabledPolicy())
	lastAttempt := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	f.orders.pending = []domain.Order{{
		ID:               1001,
		DineIn:           true,
		PrintStatus:      domain.PrintStatusFailed,
		PrintAttempts:    1,
		LastPrintAttempt: &lastAttempt,
	}}

	// 10s after the failed attempt: the 30s interval has not elapsed.
	f.orch.now = func() time.Time { return lastAttempt.Add(10 * time.Second) }
	f.orch.Tick(context.Background())
	assert.Empty(t, f.printer.printedIDs)

	// Exactly at the interval boundary the retry goes out.
	f.orch.now = func() time.Time { return lastAttempt.Add(30 * time.Second) }
	f.orch.Tick(context.Background())
	assert.Equal(t, []int64{1001}, f.printer.printedIDs)
}

func TestTick_PrintingStatusNotRetried(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.orders.pending = []domain.Order{{
		ID:            1001,
		DineIn:        true,
		PrintStatus:   domain.PrintStatusPrinting,
		PrintAttempts: 1,
	}}

	f.orch.Tick(context.Background())

	assert.Empty(t, f.printer.printedIDs)
}

func TestTick_LostClaimSkipsDispatch(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.orders.claimDenied = true
	f.orders.pending = []domain.Order{{ID: 1001, DineIn: true, PrintStatus: domain.PrintStatusNew}}

	f.orch.Tick(context.Background())

	assert.Empty(t, f.printer.printedIDs)
	assert.Empty(t, f.orders.printed)
}

func TestTick_UnhealthyPrinterDefersWithoutAttempt(t *testing.T) {
	policy := enabledPolicy()
	policy.CheckPrinterStatus = true
	f := newFixture(policy)
	f.printer.healthErr = assert.AnError
	f.orders.pending = []domain.Order{{ID: 1001, DineIn: true, PrintStatus: domain.PrintStatusNew}}

	f.orch.Tick(context.Background())

	assert.Empty(t, f.orders.claims)
	assert.Empty(t, f.printer.printedIDs)
}

func TestTick_UnhealthyKitchenPrinterDefers(t *testing.T) {
	policy := enabledPolicy()
	policy.CheckPrinterStatus = true
	f := newFixture(policy)
	f.printer.kitchenHealthErr = assert.AnError
	f.orders.pending = []domain.Order{{ID: 1001, DineIn: true, PrintStatus: domain.PrintStatusNew}}

	f.orch.Tick(context.Background())

	assert.Empty(t, f.orders.claims)
	assert.Empty(t, f.printer.printedIDs)
}

func TestTick_SyncsWhenUpstreamHasNewOrders(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.syncer.fresh = true
	f.syncer.synced = 3

	f.orch.Tick(context.Background())

	assert.Equal(t, 1, f.syncer.polls)
	assert.Equal(t, 1, f.syncer.syncRuns)
}

func TestTick_NoSyncWhenRemoteUnconfigured(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.marker.configured = false
	f.syncer.fresh = true

	f.orch.Tick(context.Background())

	assert.Zero(t, f.syncer.polls)
}

func TestTick_OverlapGuard(t *testing.T) {
	f := newFixture(enabledPolicy())
	f.orders.pending = []domain.Order{{ID: 1001, DineIn: true, PrintStatus: domain.PrintStatusNew}}

	require.True(t, f.orch.ticking.CompareAndSwap(false, true))
	f.orch.Tick(context.Background())
	assert.Empty(t, f.printer.printedIDs)

	f.orch.ticking.Store(false)
	f.orch.Tick(context.Background())
	assert.Equal(t, []int64{1001}, f.printer.printedIDs)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(enabledPolicy())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.orch.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
