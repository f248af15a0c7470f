package printer

import (
	"context"
	"fmt"
)

// Backend is the single capability all transports implement. A backend owns
// its connection lifecycle: Open acquires the device, Send writes one
// complete receipt, Close releases it. Backends are not safe for concurrent
// use; the dispatcher serializes access.
type Backend interface {
	Open(ctx context.Context) error
	Send(data []byte) error
	Close() error
	Describe() string
}

// backendFactory builds a transport backend from its validated config.
type backendFactory func(cfg PrinterConfig) (Backend, error)

// factories is the strategy table over the closed transport set, resolved
// here once rather than branching on strings per dispatch.
var factories = map[TransportKind]backendFactory{
	TransportUSB:     newUSBBackend,
	TransportNetwork: newNetworkBackend,
	TransportSerial:  newSerialBackend,
	TransportSpooler: newSpoolerBackend,
}

// NewBackend validates cfg and constructs the matching transport backend.
func NewBackend(cfg PrinterConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("no backend for printer type %q", cfg.Type)
	}
	return factory(cfg)
}
