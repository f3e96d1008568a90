package ppd

import (
	"github.com/godbus/dbus/v5"
)

// LapDetected is the PerformanceDegraded reason reported when the platform
// detects the machine sitting on a lap.
const LapDetected = "lap-detected"

const placeholderDriver = "placeholder"

// Service is a D-Bus name under which power-profiles-daemon is reachable.
type Service struct {
	Name      string
	Path      dbus.ObjectPath
	Interface string
}

// Services lists the known names, newest first.
var Services = []Service{
	{
		Name:      "org.freedesktop.UPower.PowerProfiles",
		Path:      "/org/freedesktop/UPower/PowerProfiles",
		Interface: "org.freedesktop.UPower.PowerProfiles",
	},
	{
		Name:      "net.hadess.PowerProfiles",
		Path:      "/net/hadess/PowerProfiles",
		Interface: "net.hadess.PowerProfiles",
	},
}

// Profile is one entry of the Profiles property.
type Profile struct {
	Name           string
	Driver         string
	PlatformDriver string
	CPUDriver      string
}

// Change is a property update from the daemon. Has* report whether the
// property was part of the update.
type Change struct {
	ActiveProfile       string
	HasActiveProfile    bool
	PerformanceDegraded string
	HasDegraded         bool
}

// Degraded reports whether the update carries a degradation reason.
func (c Change) Degraded() bool {
	return c.HasDegraded && c.PerformanceDegraded != ""
}

// DriverStatus is the result of driver validation.
type DriverStatus struct {
	// Active is true when a profile is active
	Active bool
	// HasDrivers is true when the active profile is backed by a real driver
	HasDrivers bool
}

// Validate checks that the active profile is served by at least one driver
// other than the placeholder.
func Validate(active string, profiles []Profile) DriverStatus {
	st := DriverStatus{Active: active != ""}

	for _, p := range profiles {
		if p.Name != active {
			continue
		}
		for _, d := range []string{p.Driver, p.PlatformDriver, p.CPUDriver} {
			if d != "" && d != placeholderDriver {
				st.HasDrivers = true
			}
		}
		break
	}

	return st
}

// DecodeProfiles converts the aa{sv} Profiles property.
func DecodeProfiles(v dbus.Variant) ([]Profile, error) {
	var raw []map[string]dbus.Variant
	if err := dbus.Store([]interface{}{v.Value()}, &raw); err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(raw))
	for _, entry := range raw {
		p := Profile{
			Name:           variantString(entry["Profile"]),
			Driver:         variantString(entry["Driver"]),
			PlatformDriver: variantString(entry["PlatformDriver"]),
			CPUDriver:      variantString(entry["CpuDriver"]),
		}
		if p.Name != "" {
			profiles = append(profiles, p)
		}
	}

	return profiles, nil
}

// Names returns the profile names in order.
func Names(profiles []Profile) []string {
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	return names
}

// ChangeFromProperties builds a Change from a PropertiesChanged payload.
func ChangeFromProperties(changed map[string]dbus.Variant) Change {
	var ch Change
	if v, ok := changed["ActiveProfile"]; ok {
		ch.ActiveProfile = variantString(v)
		ch.HasActiveProfile = true
	}
	if v, ok := changed["PerformanceDegraded"]; ok {
		ch.PerformanceDegraded = variantString(v)
		ch.HasDegraded = true
	}
	return ch
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}
