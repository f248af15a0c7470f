package printer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	apperrors "github.com/qbong1010/printer-server/internal/errors"
)

const (
	networkDialTimeout  = 5 * time.Second
	networkWriteTimeout = 10 * time.Second
)

// networkBackend sends raw ESC/POS bytes to a JetDirect-style TCP port.
type networkBackend struct {
	addr string
	conn net.Conn
}

func newNetworkBackend(cfg PrinterConfig) (Backend, error) {
	port := cfg.Network.Port
	if port == 0 {
		port = DefaultNetworkPort
	}
	return &networkBackend{
		addr: net.JoinHostPort(cfg.Network.Host, strconv.Itoa(port)),
	}, nil
}

func (b *networkBackend) Describe() string {
	return "network " + b.addr
}

func (b *networkBackend) Open(ctx context.Context) error {
	dialer := net.Dialer{Timeout: networkDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return apperrors.NewConnectionError(fmt.Sprintf("connecting to %s", b.addr), err)
	}
	b.conn = conn
	return nil
}

func (b *networkBackend) Send(data []byte) error {
	if b.conn == nil {
		return apperrors.NewConnectionError("network printer not connected", nil)
	}
	if err := b.conn.SetWriteDeadline(time.Now().Add(networkWriteTimeout)); err != nil {
		return apperrors.NewConnectionError(fmt.Sprintf("setting write deadline for %s", b.addr), err)
	}
	if _, err := b.conn.Write(data); err != nil {
		return apperrors.NewConnectionError(fmt.Sprintf("sending to %s", b.addr), err)
	}
	return nil
}

func (b *networkBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// Probe attempts a connect-and-close to short-circuit the retry path with a
// clear signal before a real dispatch.
func (b *networkBackend) Probe(ctx context.Context) error {
	dialer := net.Dialer{Timeout: networkDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return apperrors.NewConnectionError(fmt.Sprintf("probing %s", b.addr), err)
	}
	return conn.Close()
}
