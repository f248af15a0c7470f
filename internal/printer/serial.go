package printer

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"

	apperrors "github.com/qbong1010/printer-server/internal/errors"
)

const serialReadTimeout = 5 * time.Second

// serialBackend drives a COM/tty thermal printer. It carries the same
// ESC/POS framing as the USB path so kitchen tickets render identically
// regardless of transport.
type serialBackend struct {
	portName string
	baudRate int
	port     serial.Port
}

func newSerialBackend(cfg PrinterConfig) (Backend, error) {
	return &serialBackend{
		portName: cfg.Serial.ComPort,
		baudRate: cfg.Serial.BaudRate,
	}, nil
}

func (b *serialBackend) Describe() string {
	return fmt.Sprintf("serial %s@%d", b.portName, b.baudRate)
}

func (b *serialBackend) Open(_ context.Context) error {
	mode := &serial.Mode{BaudRate: b.baudRate}
	port, err := serial.Open(b.portName, mode)
	if err != nil {
		if portErr, ok := err.(*serial.PortError); ok && portErr.Code() == serial.PortNotFound {
			return apperrors.NewDeviceNotFoundError(fmt.Sprintf("serial port %s not found", b.portName))
		}
		return apperrors.NewConnectionError(fmt.Sprintf("opening %s", b.Describe()), err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return apperrors.NewConnectionError(fmt.Sprintf("configuring %s", b.Describe()), err)
	}
	b.port = port
	return nil
}

func (b *serialBackend) Send(data []byte) error {
	if b.port == nil {
		return apperrors.NewConnectionError("serial port not open", nil)
	}
	written := 0
	for written < len(data) {
		n, err := b.port.Write(data[written:])
		if err != nil {
			return apperrors.NewConnectionError(fmt.Sprintf("writing to %s", b.Describe()), err)
		}
		written += n
	}
	if err := b.port.Drain(); err != nil {
		return apperrors.NewConnectionError(fmt.Sprintf("draining %s", b.Describe()), err)
	}
	return nil
}

func (b *serialBackend) Close() error {
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	return err
}
