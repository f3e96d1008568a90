// Package power holds the power-supply and profile domain types shared by the
// decision core and the adapters that observe the system.
package power

// Well-known profile names exposed by power-profiles-daemon.
const (
	ProfilePerformance = "performance"
	ProfileBalanced    = "balanced"
	ProfilePowerSaver  = "power-saver"
)

// DefaultProfile is the profile forced on teardown.
const DefaultProfile = ProfileBalanced

// DeviceState mirrors the UPower device State enumeration.
type DeviceState uint32

const (
	StateUnknown DeviceState = iota
	StateCharging
	StateDischarging
	StateEmpty
	StateFullyCharged
	StatePendingCharge
	StatePendingDischarge
)

// Discharging reports whether the device is running off its battery.
func (s DeviceState) Discharging() bool {
	return s == StateDischarging || s == StatePendingDischarge
}

func (s DeviceState) String() string {
	switch s {
	case StateCharging:
		return "charging"
	case StateDischarging:
		return "discharging"
	case StateEmpty:
		return "empty"
	case StateFullyCharged:
		return "fully-charged"
	case StatePendingCharge:
		return "pending-charge"
	case StatePendingDischarge:
		return "pending-discharge"
	default:
		return "unknown"
	}
}

// WarningLevel mirrors the UPower device WarningLevel enumeration.
type WarningLevel uint32

const (
	WarningUnknown WarningLevel = iota
	WarningNone
	WarningDischarging
	WarningLow
	WarningCritical
	WarningAction
)

// AtLeastLow reports whether the level is Low, Critical or Action.
func (l WarningLevel) AtLeastLow() bool {
	return l >= WarningLow && l <= WarningAction
}

func (l WarningLevel) String() string {
	switch l {
	case WarningNone:
		return "none"
	case WarningDischarging:
		return "discharging"
	case WarningLow:
		return "low"
	case WarningCritical:
		return "critical"
	case WarningAction:
		return "action"
	default:
		return "unknown"
	}
}

// State is a raw reading from a power source monitor.
type State struct {
	HasBattery   bool
	OnBattery    bool
	Percentage   float64
	WarningLevel WarningLevel
}

// Axes are the condition axes whose change re-opens a profile decision.
type Axes struct {
	OnBattery  bool
	LowBattery bool
	PerfApps   bool
}

// OnAC is the negation of OnBattery.
func (a Axes) OnAC() bool {
	return !a.OnBattery
}

// Condition is recomputed on every signal and never cached.
type Condition struct {
	HasBattery        bool
	OnBattery         bool
	LowBattery        bool
	PerfAppsActive    bool
	ConfiguredProfile string
}

// OnAC is the negation of OnBattery.
func (c Condition) OnAC() bool {
	return !c.OnBattery
}

// Axes projects the condition onto its decision axes.
func (c Condition) Axes() Axes {
	return Axes{
		OnBattery:  c.OnBattery,
		LowBattery: c.LowBattery,
		PerfApps:   c.PerfAppsActive,
	}
}
