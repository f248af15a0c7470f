package printer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	apperrors "github.com/qbong1010/printer-server/internal/errors"
)

const spoolTimeout = 30 * time.Second

// spoolerBackend submits a raw text job through the host's printing
// subsystem: lp on unix-likes, PowerShell Out-Printer on Windows. There is
// no ESC/POS framing on this path.
type spoolerBackend struct {
	printerName string
	ctx         context.Context
}

func newSpoolerBackend(cfg PrinterConfig) (Backend, error) {
	return &spoolerBackend{printerName: cfg.Spooler.PrinterName}, nil
}

func (b *spoolerBackend) Describe() string {
	if b.printerName == "" {
		return "os-spooler (default printer)"
	}
	return "os-spooler " + b.printerName
}

func (b *spoolerBackend) Open(ctx context.Context) error {
	b.ctx = ctx
	return nil
}

func (b *spoolerBackend) Send(data []byte) error {
	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, spoolTimeout)
	defer cancel()

	tmp, err := os.CreateTemp("", "receipt-*.txt")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing spool file: %w", err)
	}

	cmd := b.spoolCommand(ctx, tmp.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		return apperrors.NewConnectionError(
			fmt.Sprintf("submitting job to %s: %s", b.Describe(), string(out)), err)
	}
	return nil
}

func (b *spoolerBackend) spoolCommand(ctx context.Context, path string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		script := fmt.Sprintf("Get-Content -Raw %q | Out-Printer", path)
		if b.printerName != "" {
			script = fmt.Sprintf("Get-Content -Raw %q | Out-Printer -Name %q", path, b.printerName)
		}
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script)
	}
	if b.printerName != "" {
		return exec.CommandContext(ctx, "lp", "-d", b.printerName, path)
	}
	return exec.CommandContext(ctx, "lp", path)
}

func (b *spoolerBackend) Close() error {
	b.ctx = nil
	return nil
}
