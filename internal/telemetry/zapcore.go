package telemetry

import (
	"go.uber.org/zap/zapcore"
)

// shipperCore forwards warn-and-above log entries to a Shipper. Wired as a
// tee behind the main logger so the print path never waits on the network.
type shipperCore struct {
	shipper *Shipper
	fields  []zapcore.Field
}

// NewCore wraps the shipper as a zapcore.Core.
func NewCore(shipper *Shipper) zapcore.Core {
	return &shipperCore{shipper: shipper}
}

func (c *shipperCore) Enabled(level zapcore.Level) bool {
	return level >= zapcore.WarnLevel
}

func (c *shipperCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &shipperCore{shipper: c.shipper}
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return clone
}

func (c *shipperCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *shipperCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range c.fields {
		field.AddTo(enc)
	}
	for _, field := range fields {
		field.AddTo(enc)
	}

	var details string
	if err, ok := enc.Fields["error"].(string); ok {
		details = err
	}

	c.shipper.Enqueue(Entry{
		Timestamp:    entry.Time,
		Level:        entry.Level.CapitalString(),
		Message:      entry.Message,
		Module:       entry.LoggerName,
		ErrorDetails: details,
	})
	return nil
}

func (c *shipperCore) Sync() error { return nil }
