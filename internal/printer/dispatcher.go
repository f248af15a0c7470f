package printer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qbong1010/printer-server/internal/domain"
	apperrors "github.com/qbong1010/printer-server/internal/errors"
	"github.com/qbong1010/printer-server/internal/receipt"
)

// DispatchResult reports one dispatch attempt. Succeeded is the role's
// overall outcome: for the customer role a file-backup-only success still
// counts, which keeps an order from being retried forever when only the
// device is down.
type DispatchResult struct {
	Succeeded     bool
	TransportUsed string
	FileBackupOK  bool
	DeviceErr     error
}

// Dispatcher selects a backend by role, renders and encodes the receipt,
// sends it, and runs the file fallback. One Dispatcher serializes nothing
// itself; the orchestrator guarantees at most one concurrent dispatch.
type Dispatcher struct {
	store      *Store
	renderer   *receipt.Renderer
	logger     *zap.Logger
	backupPath string

	// newBackend is swapped out by tests.
	newBackend backendFactory
}

func NewDispatcher(store *Store, backupPath string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		renderer:   receipt.NewRenderer(),
		logger:     logger,
		backupPath: backupPath,
		newBackend: NewBackend,
	}
}

// Dispatch prints one receipt for role. A disabled kitchen role is a
// successful no-op. Device, network and serial failures do not cascade to
// another device backend: the single authoritative fallback is the file
// backend, which for the customer role always runs so an operator has a
// durable record even when physical printing fails.
func (d *Dispatcher) Dispatch(ctx context.Context, role Role, order domain.Order) DispatchResult {
	cfg := d.store.Printer(role)

	if role == RoleKitchen && !cfg.Enabled {
		d.logger.Debug("kitchen printer disabled, skipping",
			zap.Int64("orderId", order.ID))
		return DispatchResult{Succeeded: true, TransportUsed: "disabled"}
	}

	variant := receipt.VariantFull
	if role == RoleKitchen {
		variant = receipt.VariantKitchenSummary
	}
	text := d.renderer.Render(order, variant)

	data, encErr := d.encodeFor(cfg, text)
	var deviceErr error
	var transport string

	if encErr != nil {
		deviceErr = encErr
	} else {
		transport, deviceErr = d.sendToDevice(ctx, cfg, data)
	}

	if deviceErr != nil {
		d.logger.Error("device print failed",
			zap.Int64("orderId", order.ID),
			zap.String("role", string(role)),
			zap.String("backend", string(cfg.Type)),
			zap.String("errorKind", classifyDeviceError(deviceErr)),
			zap.Error(deviceErr))
	}

	result := DispatchResult{
		Succeeded:     deviceErr == nil,
		TransportUsed: transport,
		DeviceErr:     deviceErr,
	}

	if role == RoleCustomer {
		result.FileBackupOK = d.writeBackup(ctx, order, data, text, encErr)
		if result.FileBackupOK && !result.Succeeded {
			result.Succeeded = true
			result.TransportUsed = "file"
		}
	}

	return result
}

// PrintBoth prints the customer receipt and, when enabled, the kitchen
// ticket. Used by the manual print surface.
func (d *Dispatcher) PrintBoth(ctx context.Context, order domain.Order) (customer, kitchen DispatchResult) {
	customer = d.Dispatch(ctx, RoleCustomer, order)
	kitchen = d.Dispatch(ctx, RoleKitchen, order)
	return customer, kitchen
}

func (d *Dispatcher) encodeFor(cfg PrinterConfig, text string) ([]byte, error) {
	if !cfg.UsesESCPOS() {
		// Spooler path: plain text, no control bytes.
		return []byte(text), nil
	}
	encoded, err := receipt.Encode(text, cfg.codePage())
	if err != nil {
		return nil, err
	}
	return receipt.Frame(encoded, receipt.CodePageKorean, cfg.LegacyCut), nil
}

func (d *Dispatcher) sendToDevice(ctx context.Context, cfg PrinterConfig, data []byte) (string, error) {
	backend, err := d.newBackend(cfg)
	if err != nil {
		return string(cfg.Type), err
	}
	if err := backend.Open(ctx); err != nil {
		return backend.Describe(), err
	}
	defer backend.Close()

	if err := backend.Send(data); err != nil {
		return backend.Describe(), err
	}
	return backend.Describe(), nil
}

// writeBackup always runs for the customer role. When the device path never
// produced encoded bytes it falls back to encoding the plain text so the
// audit trail survives even a configuration error.
func (d *Dispatcher) writeBackup(ctx context.Context, order domain.Order, data []byte, text string, encErr error) bool {
	if data == nil || encErr != nil {
		fallback, err := receipt.Encode(text, receipt.CodePageCP949)
		if err != nil {
			fallback = []byte(text)
		}
		data = fallback
	}

	backup := newFileBackend(d.backupPath)
	if err := backup.Open(ctx); err != nil {
		d.logger.Error("receipt backup failed", zap.Int64("orderId", order.ID), zap.Error(err))
		return false
	}
	if err := backup.Send(data); err != nil {
		d.logger.Error("receipt backup failed", zap.Int64("orderId", order.ID), zap.Error(err))
		return false
	}
	d.logger.Debug("receipt backup written",
		zap.Int64("orderId", order.ID), zap.String("path", d.backupPath))
	return true
}

// CheckHealth performs the cheap pre-flight the auto-print policy can
// request before burning a retry attempt. USB and serial report healthy as
// long as they are configured; actually opening the device is what Dispatch
// does anyway, and doing it twice makes some firmwares drop the first job.
func (d *Dispatcher) CheckHealth(ctx context.Context, role Role) error {
	cfg := d.store.Printer(role)
	if role == RoleKitchen && !cfg.Enabled {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Type == TransportNetwork {
		backend, err := d.newBackend(cfg)
		if err != nil {
			return err
		}
		prober, ok := backend.(interface{ Probe(context.Context) error })
		if !ok {
			return nil
		}
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		return prober.Probe(probeCtx)
	}
	return nil
}

// BackupPath exposes the audit-trail location for the preview feature.
func (d *Dispatcher) BackupPath() string {
	return d.backupPath
}

// classifyDeviceError keeps the taxonomy stable for callers that branch on
// failure categories.
func classifyDeviceError(err error) string {
	switch {
	case err == nil:
		return ""
	default:
		if _, ok := apperrors.IsDeviceNotFoundError(err); ok {
			return "device_not_found"
		}
		if _, ok := apperrors.IsConnectionError(err); ok {
			return "connection"
		}
		if _, ok := apperrors.IsConfigurationError(err); ok {
			return "configuration"
		}
		if _, ok := apperrors.IsEncodingError(err); ok {
			return "encoding"
		}
		return "unknown"
	}
}
