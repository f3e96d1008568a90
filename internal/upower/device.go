package upower

import (
	"codeberg.org/mutker/autoprofiled/internal/power"
	"github.com/godbus/dbus/v5"
)

// DeviceType mirrors the UPower device Type enumeration.
type DeviceType uint32

const (
	TypeUnknown DeviceType = iota
	TypeLinePower
	TypeBattery
)

// Device is the subset of org.freedesktop.UPower.Device properties the
// daemon reads.
type Device struct {
	Type         DeviceType
	State        power.DeviceState
	Percentage   float64
	WarningLevel power.WarningLevel
	IsPresent    bool
	Online       bool
}

// DeviceFromProperties decodes a property map. Missing or mistyped
// properties keep their zero value.
func DeviceFromProperties(props map[string]dbus.Variant) Device {
	var d Device
	d.apply(props)
	return d
}

func (d *Device) apply(props map[string]dbus.Variant) {
	for name, v := range props {
		switch name {
		case "Type":
			if t, ok := v.Value().(uint32); ok {
				d.Type = DeviceType(t)
			}
		case "State":
			if s, ok := v.Value().(uint32); ok {
				d.State = power.DeviceState(s)
			}
		case "Percentage":
			if p, ok := v.Value().(float64); ok {
				d.Percentage = p
			}
		case "WarningLevel":
			if w, ok := v.Value().(uint32); ok {
				d.WarningLevel = power.WarningLevel(w)
			}
		case "IsPresent":
			if b, ok := v.Value().(bool); ok {
				d.IsPresent = b
			}
		case "Online":
			if b, ok := v.Value().(bool); ok {
				d.Online = b
			}
		}
	}
}

// ReadState combines the display device and, when known, the line power
// supply into a power.State. The line power Online property is preferred
// over the display device state for AC detection.
func ReadState(display Device, line *Device) power.State {
	st := power.State{
		HasBattery:   display.IsPresent || display.State != power.StateUnknown,
		Percentage:   display.Percentage,
		WarningLevel: display.WarningLevel,
	}

	if line != nil {
		st.OnBattery = st.HasBattery && !line.Online
	} else {
		st.OnBattery = display.State.Discharging()
	}

	return st
}
