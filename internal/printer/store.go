package printer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/qbong1010/printer-server/internal/errors"
)

// configVersion is bumped whenever the on-disk document shape changes.
// Migration runs once on load and the result is persisted, so older
// documents are rewritten a single time instead of being patched on every
// read.
const configVersion = 2

// Document is the persisted printer configuration file.
type Document struct {
	Version         int             `json:"config_version"`
	CustomerPrinter PrinterConfig   `json:"customer_printer"`
	KitchenPrinter  PrinterConfig   `json:"kitchen_printer"`
	AutoPrint       AutoPrintPolicy `json:"auto_print"`
}

// Store owns the JSON-backed printer configuration. All reads and writes go
// through its mutex so a poll tick never observes a half-written document.
type Store struct {
	path   string
	logger *zap.Logger

	mu  sync.Mutex
	doc Document
}

func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// DefaultDocument returns the configuration generated on first run. The
// customer printer starts on the OS spooler (system default printer), the
// kitchen printer on the platform's conventional serial port, disabled until
// an operator turns it on.
func defaultSerialPort() string {
	if runtime.GOOS == "windows" {
		return "COM3"
	}
	return "/dev/ttyUSB0"
}

func DefaultDocument() Document {
	serialPort := defaultSerialPort()
	return Document{
		Version: configVersion,
		CustomerPrinter: PrinterConfig{
			Type:    TransportSpooler,
			Enabled: true,
			Spooler: &SpoolerConfig{},
		},
		KitchenPrinter: PrinterConfig{
			Type:    TransportSerial,
			Enabled: false,
			Serial:  &SerialConfig{ComPort: serialPort, BaudRate: 9600},
		},
		AutoPrint: AutoPrintPolicy{
			Enabled:              false,
			RetryCount:           3,
			RetryIntervalSeconds: 30,
			CheckPrinterStatus:   true,
		},
	}
}

// Load reads the document from disk, migrating and re-persisting older
// versions. A missing file produces the defaults, persisted immediately.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Info("printer config missing, writing defaults", zap.String("path", s.path))
		s.doc = DefaultDocument()
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("reading printer config: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("printer config unreadable, writing defaults", zap.Error(err))
		s.doc = DefaultDocument()
		return s.persistLocked()
	}

	migrated := migrate(&doc)
	s.doc = doc
	if migrated {
		s.logger.Info("printer config migrated", zap.Int("version", doc.Version))
		return s.persistLocked()
	}
	return nil
}

// migrate upgrades older documents in place and reports whether anything
// changed. Version 0/1 documents carried the legacy type tags "escpos" and
// "default" and no kitchen enabled flag default.
func migrate(doc *Document) bool {
	if doc.Version >= configVersion {
		return false
	}

	upgrade := func(cfg *PrinterConfig) {
		switch string(cfg.Type) {
		case "escpos":
			cfg.Type = TransportUSB
		case "default", "":
			cfg.Type = TransportSpooler
			if cfg.Spooler == nil {
				cfg.Spooler = &SpoolerConfig{}
			}
		case "com":
			cfg.Type = TransportSerial
		}
		if cfg.Type == TransportUSB && cfg.USB == nil {
			cfg.USB = &USBConfig{}
		}
		if cfg.Type == TransportSerial && cfg.Serial == nil {
			cfg.Serial = &SerialConfig{ComPort: defaultSerialPort(), BaudRate: 9600}
		}
	}
	upgrade(&doc.CustomerPrinter)
	upgrade(&doc.KitchenPrinter)

	doc.CustomerPrinter.Enabled = true
	if doc.AutoPrint.RetryIntervalSeconds <= 0 {
		doc.AutoPrint.RetryIntervalSeconds = 30
	}
	if doc.AutoPrint.RetryCount < 0 {
		doc.AutoPrint.RetryCount = 0
	}

	doc.Version = configVersion
	return true
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding printer config: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing printer config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing printer config: %w", err)
	}
	return nil
}

// Printer returns a copy of the configuration for the given role.
func (s *Store) Printer(role Role) PrinterConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == RoleKitchen {
		return s.doc.KitchenPrinter
	}
	return s.doc.CustomerPrinter
}

// AutoPrint returns a copy of the current auto-print policy.
func (s *Store) AutoPrint() AutoPrintPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.AutoPrint
}

// SetPrinter validates and persists a new printer configuration for role.
func (s *Store) SetPrinter(role Role, cfg PrinterConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == RoleKitchen {
		s.doc.KitchenPrinter = cfg
	} else {
		cfg.Enabled = true
		s.doc.CustomerPrinter = cfg
	}
	return s.persistLocked()
}

// SetAutoPrint validates and persists a new auto-print policy.
func (s *Store) SetAutoPrint(policy AutoPrintPolicy) error {
	if policy.RetryCount < 0 {
		return apperrors.NewValidationError("retry_count must be non-negative")
	}
	if policy.RetryIntervalSeconds <= 0 {
		return apperrors.NewValidationError("retry_interval must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.AutoPrint = policy
	return s.persistLocked()
}
