package session

import (
	"context"

	"codeberg.org/mutker/autoprofiled/internal/config"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/journal"
	"codeberg.org/mutker/autoprofiled/internal/power"
	"codeberg.org/mutker/autoprofiled/internal/ppd"
)

// PowerSource reports the power supply state.
type PowerSource interface {
	State() (power.State, error)
	OnChange(fn func()) event.Subscription
}

// ThresholdSource supplies the platform low-battery percentage, 0 when
// unknown.
type ThresholdSource interface {
	PercentageLow() int
	OnChange(fn func()) event.Subscription
}

// ProfileController reads and switches the active power profile.
type ProfileController interface {
	// ActiveProfile returns the active profile, empty when unknown
	ActiveProfile() string

	// Profiles lists the profiles the controller accepts
	Profiles() []string

	SetActiveProfile(name string) error
	OnChange(fn func(ppd.Change)) event.Subscription
	ValidateDrivers() ppd.DriverStatus
}

// ConfigStore provides the settings snapshot and persists learned defaults.
type ConfigStore interface {
	Settings() config.Settings
	SetACProfile(profile string) error
	SetBatteryProfile(profile string) error
	OnChange(fn func()) event.Subscription
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(kind, summary, body string) error
}

// Journal records profile transitions.
type Journal interface {
	Record(ctx context.Context, entry *journal.Entry) error
	Close() error
}

// Connector is implemented by collaborators that must connect to a service
// before use. The session connects them concurrently and treats the
// collaborator as not ready until Connect returns nil.
type Connector interface {
	Connect(ctx context.Context) error
}
