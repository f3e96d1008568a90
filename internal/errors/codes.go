package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrNotReady        ErrorCode = "service_not_ready"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrReadConfig    ErrorCode = "read_config_failed"
	ErrWriteConfig   ErrorCode = "write_config_failed"
	ErrBindFlags     ErrorCode = "bind_flags_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Profile errors
	ErrInvalidProfile    ErrorCode = "invalid_profile"
	ErrSetProfile        ErrorCode = "set_profile_failed"
	ErrDegradedSignal    ErrorCode = "performance_degraded"
	ErrPlaceholderDriver ErrorCode = "placeholder_driver"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrUnavailable:       "Service unavailable",
	ErrNotReady:          "Service not ready",
	ErrInvalidConfig:     "Invalid configuration",
	ErrReadConfig:        "Failed to read configuration",
	ErrWriteConfig:       "Failed to write configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInvalidProfile:    "Profile is not available",
	ErrSetProfile:        "Failed to set power profile",
	ErrDegradedSignal:    "Performance degraded",
	ErrPlaceholderDriver: "No system-specific platform driver is available",
	ErrOperationFailed:   "Operation failed",
	ErrTimeout:           "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
