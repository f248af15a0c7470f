package errors

import "fmt"

// DeviceNotFoundError indicates that backend enumeration found no matching
// printer device.
type DeviceNotFoundError struct {
	Message string
}

func (e *DeviceNotFoundError) Error() string {
	return e.Message
}

func NewDeviceNotFoundError(message string) *DeviceNotFoundError {
	return &DeviceNotFoundError{Message: message}
}

func IsDeviceNotFoundError(err error) (*DeviceNotFoundError, bool) {
	if de, ok := err.(*DeviceNotFoundError); ok {
		return de, true
	}
	return nil, false
}

// ConnectionError indicates that opening or connecting to a printer failed
// or timed out.
type ConnectionError struct {
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

func NewConnectionError(message string, cause error) *ConnectionError {
	return &ConnectionError{Message: message, Cause: cause}
}

func IsConnectionError(err error) (*ConnectionError, bool) {
	if ce, ok := err.(*ConnectionError); ok {
		return ce, true
	}
	return nil, false
}

// EncodingError indicates that receipt text could not be represented in any
// of the fallback code pages.
type EncodingError struct {
	Message string
	Cause   error
}

func (e *EncodingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *EncodingError) Unwrap() error {
	return e.Cause
}

func NewEncodingError(message string, cause error) *EncodingError {
	return &EncodingError{Message: message, Cause: cause}
}

func IsEncodingError(err error) (*EncodingError, bool) {
	if ee, ok := err.(*EncodingError); ok {
		return ee, true
	}
	return nil, false
}

// ConfigurationError indicates malformed or missing required configuration.
// Retrying a structurally invalid config cannot succeed, so it is surfaced
// immediately instead of feeding the retry counter.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

func IsConfigurationError(err error) (*ConfigurationError, bool) {
	if ce, ok := err.(*ConfigurationError); ok {
		return ce, true
	}
	return nil, false
}

// RemoteUnavailableError indicates an API timeout or non-2xx response from
// the remote order source.
type RemoteUnavailableError struct {
	Message string
	Cause   error
}

func (e *RemoteUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RemoteUnavailableError) Unwrap() error {
	return e.Cause
}

func NewRemoteUnavailableError(message string, cause error) *RemoteUnavailableError {
	return &RemoteUnavailableError{Message: message, Cause: cause}
}

func IsRemoteUnavailableError(err error) (*RemoteUnavailableError, bool) {
	if re, ok := err.(*RemoteUnavailableError); ok {
		return re, true
	}
	return nil, false
}

// ValidationError indicates disallowed or malformed input, such as a table
// name outside the sync allow-list or a non-positive baud rate.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func IsValidationError(err error) (*ValidationError, bool) {
	if ve, ok := err.(*ValidationError); ok {
		return ve, true
	}
	return nil, false
}
