package printer

import (
	"context"
	"fmt"

	"github.com/google/gousb"

	apperrors "github.com/qbong1010/printer-server/internal/errors"
)

// usbBackend drives an ESC/POS printer over a bulk-OUT USB endpoint via
// libusb.
type usbBackend struct {
	vendorID  gousb.ID
	productID gousb.ID
	ifaceNum  int

	ctx     *gousb.Context
	dev     *gousb.Device
	iface   *gousb.Interface
	release func()
	out     *gousb.OutEndpoint
}

func newUSBBackend(cfg PrinterConfig) (Backend, error) {
	vid, err := ParseUSBID(cfg.USB.VendorID)
	if err != nil {
		return nil, apperrors.NewConfigurationError("vendor_id", err.Error())
	}
	pid, err := ParseUSBID(cfg.USB.ProductID)
	if err != nil {
		return nil, apperrors.NewConfigurationError("product_id", err.Error())
	}
	return &usbBackend{
		vendorID:  gousb.ID(vid),
		productID: gousb.ID(pid),
		ifaceNum:  cfg.USB.Interface,
	}, nil
}

func (b *usbBackend) Describe() string {
	return fmt.Sprintf("escpos-usb %04x:%04x", uint16(b.vendorID), uint16(b.productID))
}

func (b *usbBackend) Open(ctx context.Context) error {
	b.ctx = gousb.NewContext()

	dev, err := b.openDevice()
	if err != nil {
		b.ctx.Close()
		b.ctx = nil
		return err
	}
	b.dev = dev

	// No-op on platforms without kernel drivers to detach.
	_ = dev.SetAutoDetach(true)

	iface, release, err := b.claimInterface()
	if err != nil {
		b.closeQuietly()
		return apperrors.NewConnectionError(fmt.Sprintf("claiming interface on %s", b.Describe()), err)
	}
	b.iface = iface
	b.release = release

	out, err := b.findBulkOut(iface)
	if err != nil {
		b.closeQuietly()
		return apperrors.NewConnectionError(fmt.Sprintf("opening OUT endpoint on %s", b.Describe()), err)
	}
	b.out = out
	return nil
}

// openDevice first asks libusb for an exact VID/PID match and, when that
// comes back empty, falls back to enumerating every device so hubs that
// misreport descriptors on the fast path still get found.
func (b *usbBackend) openDevice() (*gousb.Device, error) {
	dev, err := b.ctx.OpenDeviceWithVIDPID(b.vendorID, b.productID)
	if err == nil && dev != nil {
		return dev, nil
	}

	devs, scanErr := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == b.vendorID && desc.Product == b.productID
	})
	if scanErr != nil && len(devs) == 0 {
		return nil, apperrors.NewConnectionError(fmt.Sprintf("enumerating USB devices for %s", b.Describe()), scanErr)
	}
	if len(devs) == 0 {
		return nil, apperrors.NewDeviceNotFoundError(fmt.Sprintf("no USB device %s", b.Describe()))
	}
	for _, extra := range devs[1:] {
		extra.Close()
	}
	return devs[0], nil
}

func (b *usbBackend) claimInterface() (*gousb.Interface, func(), error) {
	cfg, err := b.dev.Config(1)
	if err != nil {
		// Fall back to whatever libusb decides is the default.
		iface, release, derr := b.dev.DefaultInterface()
		if derr != nil {
			return nil, nil, derr
		}
		return iface, release, nil
	}
	iface, err := cfg.Interface(b.ifaceNum, 0)
	if err != nil {
		cfg.Close()
		return nil, nil, err
	}
	return iface, func() {
		iface.Close()
		cfg.Close()
	}, nil
}

// findBulkOut scans the claimed interface's endpoint descriptors for a
// bulk-OUT endpoint, defaulting to the first OUT endpoint of any type when
// discovery finds no bulk one.
func (b *usbBackend) findBulkOut(iface *gousb.Interface) (*gousb.OutEndpoint, error) {
	var fallback *gousb.EndpointDesc
	for _, ep := range iface.Setting.Endpoints {
		if ep.Direction != gousb.EndpointDirectionOut {
			continue
		}
		if ep.TransferType == gousb.TransferTypeBulk {
			return iface.OutEndpoint(ep.Number)
		}
		if fallback == nil {
			epCopy := ep
			fallback = &epCopy
		}
	}
	if fallback != nil {
		return iface.OutEndpoint(fallback.Number)
	}
	return nil, fmt.Errorf("interface %d has no OUT endpoint", b.ifaceNum)
}

func (b *usbBackend) Send(data []byte) error {
	if b.out == nil {
		return apperrors.NewConnectionError("USB endpoint not open", nil)
	}
	written := 0
	for written < len(data) {
		n, err := b.out.Write(data[written:])
		if err != nil {
			return apperrors.NewConnectionError(fmt.Sprintf("writing to %s", b.Describe()), err)
		}
		if n == 0 {
			return apperrors.NewConnectionError(fmt.Sprintf("short write to %s", b.Describe()), nil)
		}
		written += n
	}
	return nil
}

func (b *usbBackend) Close() error {
	b.closeQuietly()
	return nil
}

func (b *usbBackend) closeQuietly() {
	if b.release != nil {
		b.release()
		b.release = nil
		b.iface = nil
	}
	if b.dev != nil {
		b.dev.Close()
		b.dev = nil
	}
	if b.ctx != nil {
		b.ctx.Close()
		b.ctx = nil
	}
	b.out = nil
}
