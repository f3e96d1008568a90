package config

import (
	"context"

	"codeberg.org/mutker/autoprofiled/internal/event"
	"github.com/spf13/pflag"
)

// Provider gives read access to the current configuration snapshot.
type Provider interface {
	// Config returns a copy of the full configuration
	Config() Config

	// Settings returns a copy of the profile selection settings
	Settings() Settings

	// OnChange registers fn to run whenever a reload or write changes the
	// configuration
	OnChange(fn func()) event.Subscription
}

// Writer persists preferences learned at runtime.
type Writer interface {
	SetACProfile(profile string) error
	SetBatteryProfile(profile string) error
}

// Watcher enables live configuration updates
type Watcher interface {
	// Watch blocks, reloading the configuration file whenever it changes,
	// until ctx is cancelled.
	Watch(ctx context.Context) error
}

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
	systemDir  string
	flags      *pflag.FlagSet
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithSystemDir reads the system-wide config.toml from dir instead of
// /etc/autoprofiled.
func WithSystemDir(dir string) Option {
	return func(o *options) error {
		o.systemDir = dir
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "AUTOPROFILED"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithFlags binds command line flags; flags that were set explicitly take
// precedence over the configuration file.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(o *options) error {
		o.flags = fs
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// LowBatteryMode selects how a low battery is detected.
type LowBatteryMode string

const (
	// LowBatteryPercentage compares the charge percentage against a threshold.
	LowBatteryPercentage LowBatteryMode = "percentage"
	// LowBatteryWarningLevel trusts the warning level reported by UPower.
	LowBatteryWarningLevel LowBatteryMode = "warning-level"
)

func (m LowBatteryMode) IsValid() bool {
	return m == LowBatteryPercentage || m == LowBatteryWarningLevel
}

// PowerSource selects the power source monitor implementation.
type PowerSource string

const (
	PowerSourceAuto    PowerSource = "auto"
	PowerSourceUPower  PowerSource = "upower"
	PowerSourceBattery PowerSource = "battery"
)

func (p PowerSource) IsValid() bool {
	switch p {
	case PowerSourceAuto, PowerSourceUPower, PowerSourceBattery:
		return true
	default:
		return false
	}
}
