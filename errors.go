package cryptdev

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches exactly one of
// these through errors.Is.
var (
	ErrInvalidArguments        = errors.New("invalid arguments")
	ErrUnsupportedAlgorithm    = errors.New("unsupported algorithm")
	ErrUnsupportedKeyLength    = errors.New("unsupported key length")
	ErrUnsupportedChainingMode = errors.New("unsupported chaining mode")
	ErrUnsupportedIVMode       = errors.New("unsupported iv mode")
	ErrDeviceNotFound          = errors.New("device not found")
	ErrSessionCreationFailed   = errors.New("cipher session creation failed")
	ErrSectorCryptoFailed      = errors.New("sector crypto failed")
	ErrUnderlyingIOFailed      = errors.New("underlying io failed")
	ErrInvalidRequest          = errors.New("request size must be a non-zero multiple of the sector size")
	ErrTargetDestroyed         = errors.New("target destroyed")
)

// Provider errors
var (
	// ErrBusy is a transient provider status. A job completing with ErrBusy
	// is resubmitted unchanged and never counts as a completion.
	ErrBusy           = errors.New("cipher provider busy")
	ErrProviderClosed = errors.New("cipher provider closed")
	ErrUnknownSession = errors.New("unknown cipher session")
)

// ConfigError represents a failure to construct a target from its parameters
type ConfigError struct {
	Kind    error  // One of the error kind sentinels
	Field   string // Parameter that failed validation
	Value   any    // Offending value; never key material
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error: %s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s: %s", e.Kind, e.Message)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// SectorError reports the aggregated crypto failure of a request
type SectorError struct {
	Direction Direction // Direction of the failing jobs
	Sector    int64     // Absolute index of the first failing sector observed
	Failed    int       // Number of failed sectors in the request
	Err       error     // Error of the first failing sector observed
}

func (e *SectorError) Error() string {
	if e.Failed > 1 {
		return fmt.Sprintf("%s error: sector %d (and %d more): %v", e.Direction, e.Sector, e.Failed-1, e.Err)
	}
	return fmt.Sprintf("%s error: sector %d: %v", e.Direction, e.Sector, e.Err)
}

func (e *SectorError) Unwrap() []error {
	return []error{ErrSectorCryptoFailed, e.Err}
}

// IOError represents a failure of the underlying device
type IOError struct {
	Operation string // "read", "write" or "flush"
	Device    string // Device path
	Offset    int64  // Device offset, -1 if not applicable
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("io error: %s %s at offset %d: %v", e.Operation, e.Device, e.Offset, e.Err)
	}
	return fmt.Sprintf("io error: %s %s: %v", e.Operation, e.Device, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrUnderlyingIOFailed, e.Err}
}

// NewConfigError creates a new configuration error of the given kind
func NewConfigError(kind error, field string, value any, message string) error {
	return &ConfigError{
		Kind:    kind,
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// wrapConfigError creates a configuration error carrying a cause
func wrapConfigError(kind error, field string, err error) error {
	return &ConfigError{
		Kind:    kind,
		Field:   field,
		Message: err.Error(),
		Err:     err,
	}
}

// NewIOError creates a new device error
func NewIOError(operation, device string, offset int64, err error) error {
	return &IOError{
		Operation: operation,
		Device:    device,
		Offset:    offset,
		Err:       err,
	}
}

// IsConfigError checks if an error is a configuration error
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsSectorError checks if an error is an aggregated sector failure
func IsSectorError(err error) bool {
	var se *SectorError
	return errors.As(err, &se)
}

// IsIOError checks if an error is a device error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}
