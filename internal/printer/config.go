package printer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/qbong1010/printer-server/internal/errors"
	"github.com/qbong1010/printer-server/internal/receipt"
)

// Role distinguishes the two configured printers.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleKitchen  Role = "kitchen"
)

// TransportKind is the closed set of supported printer transports.
type TransportKind string

const (
	TransportUSB     TransportKind = "escpos-usb"
	TransportNetwork TransportKind = "network"
	TransportSerial  TransportKind = "serial"
	TransportSpooler TransportKind = "os-spooler"
)

const DefaultNetworkPort = 9100

type USBConfig struct {
	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`
	Interface int    `json:"interface"`
}

type NetworkConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type SerialConfig struct {
	ComPort  string `json:"com_port"`
	BaudRate int    `json:"baud_rate"`
}

type SpoolerConfig struct {
	// PrinterName empty means the system default printer.
	PrinterName string `json:"printer_name"`
}

// PrinterConfig is a tagged union over the four transport kinds. Exactly the
// payload matching Type is populated.
type PrinterConfig struct {
	Type    TransportKind  `json:"type"`
	Enabled bool           `json:"enabled"`
	USB     *USBConfig     `json:"usb,omitempty"`
	Network *NetworkConfig `json:"network,omitempty"`
	Serial  *SerialConfig  `json:"serial,omitempty"`
	Spooler *SpoolerConfig `json:"spooler,omitempty"`

	CodePage  receipt.CodePage `json:"code_page,omitempty"`
	LegacyCut bool             `json:"legacy_cut,omitempty"`
}

// AutoPrintPolicy controls the orchestrator. BusinessHoursStart/End are
// "HH:MM" local-time strings; both empty disables the window check.
type AutoPrintPolicy struct {
	Enabled              bool   `json:"enabled"`
	RetryCount           int    `json:"retry_count"`
	RetryIntervalSeconds int    `json:"retry_interval"`
	CheckPrinterStatus   bool   `json:"check_printer_status"`
	BusinessHoursStart   string `json:"business_hours_start,omitempty"`
	BusinessHoursEnd     string `json:"business_hours_end,omitempty"`
	DineInOnly           bool   `json:"dine_in_only"`
}

func (p AutoPrintPolicy) RetryInterval() time.Duration {
	return time.Duration(p.RetryIntervalSeconds) * time.Second
}

// WithinBusinessHours reports whether t falls in [start, end). A window that
// wraps midnight (start > end) is honored.
func (p AutoPrintPolicy) WithinBusinessHours(t time.Time) bool {
	if p.BusinessHoursStart == "" && p.BusinessHoursEnd == "" {
		return true
	}
	start, err := parseClock(p.BusinessHoursStart)
	if err != nil {
		return true
	}
	end, err := parseClock(p.BusinessHoursEnd)
	if err != nil {
		return true
	}
	minutes := t.Hour()*60 + t.Minute()
	if start == end {
		return true
	}
	if start < end {
		return minutes >= start && minutes < end
	}
	return minutes >= start || minutes < end
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed minute in %q", s)
	}
	return h*60 + m, nil
}

// ParseUSBID accepts the plain hex forms "0x1504" and "1504" as well as the
// Windows device-address form "VID_1504" / "PID_0006".
func ParseUSBID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty USB id")
	}
	upper := strings.ToUpper(s)
	for _, prefix := range []string{"VID_", "PID_"} {
		if strings.HasPrefix(upper, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("malformed USB id %q: %w", s, err)
	}
	return uint16(v), nil
}

// ParseUSBAddress splits the alternate "VID_1504&PID_0006" address format
// into its two ids.
func ParseUSBAddress(addr string) (vendor, product uint16, err error) {
	parts := strings.Split(addr, "&")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed USB address %q", addr)
	}
	vendor, err = ParseUSBID(parts[0])
	if err != nil {
		return 0, 0, err
	}
	product, err = ParseUSBID(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return vendor, product, nil
}

// Validate checks the payload matching the config's transport kind. It
// returns a ConfigurationError for missing required fields and a
// ValidationError for structurally malformed values.
func (c PrinterConfig) Validate() error {
	switch c.Type {
	case TransportUSB:
		if c.USB == nil {
			return apperrors.NewConfigurationError("usb", "missing USB settings")
		}
		if c.USB.VendorID == "" {
			return apperrors.NewConfigurationError("vendor_id", "missing USB vendor id")
		}
		if c.USB.ProductID == "" {
			return apperrors.NewConfigurationError("product_id", "missing USB product id")
		}
		if _, err := ParseUSBID(c.USB.VendorID); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("invalid vendor_id: %v", err))
		}
		if _, err := ParseUSBID(c.USB.ProductID); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("invalid product_id: %v", err))
		}
	case TransportNetwork:
		if c.Network == nil || c.Network.Host == "" {
			return apperrors.NewConfigurationError("host", "missing network printer host")
		}
		if c.Network.Port < 0 || c.Network.Port > 65535 {
			return apperrors.NewValidationError(fmt.Sprintf("invalid network port: %d", c.Network.Port))
		}
	case TransportSerial:
		if c.Serial == nil || c.Serial.ComPort == "" {
			return apperrors.NewConfigurationError("com_port", "missing serial port name")
		}
		if c.Serial.BaudRate <= 0 {
			return apperrors.NewValidationError(fmt.Sprintf("invalid baud rate: %d", c.Serial.BaudRate))
		}
	case TransportSpooler:
		// An empty printer name falls back to the system default.
	default:
		return apperrors.NewConfigurationError("type", fmt.Sprintf("unsupported printer type %q", c.Type))
	}
	return nil
}

func (c PrinterConfig) codePage() receipt.CodePage {
	if c.CodePage == "" {
		return receipt.CodePageCP949
	}
	return c.CodePage
}

// UsesESCPOS reports whether this transport receives raw ESC/POS framing.
// The OS spooler path is plain text only.
func (c PrinterConfig) UsesESCPOS() bool {
	return c.Type == TransportUSB || c.Type == TransportNetwork || c.Type == TransportSerial
}
