package ppd

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// busObject answers GetAll with props and records the requested interface.
type busObject struct {
	dbus.BusObject
	props  map[string]dbus.Variant
	err    error
	iface  string
	called int
}

func (o *busObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	o.called++
	if len(args) > 0 {
		o.iface, _ = args[0].(string)
	}
	if o.err != nil {
		return &dbus.Call{Method: method, Err: o.err}
	}
	return &dbus.Call{Method: method, Body: []interface{}{o.props}}
}

func platformEntry(name string) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Profile": dbus.MakeVariant(name),
		"Driver":  dbus.MakeVariant("platform_profile"),
	}
}

func boundClient(obj dbus.BusObject) (*Client, *[]Change) {
	c := New()
	c.obj = obj
	c.service = Services[0]
	c.active = "performance"
	c.profiles = []Profile{{Name: "balanced", Driver: "platform_profile"}, {Name: "performance", Driver: "platform_profile"}}

	var changes []Change
	c.OnChange(func(ch Change) { changes = append(changes, ch) })
	return c, &changes
}

func propertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: propertiesInterface + ".PropertiesChanged",
		Body: []interface{}{iface, changed, []string{}},
	}
}

func ownerChanged(name, oldOwner, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Path: "/org/freedesktop/DBus",
		Name: busName + ".NameOwnerChanged",
		Body: []interface{}{name, oldOwner, newOwner},
	}
}

func TestHandlePropertiesChanged(t *testing.T) {
	c, changes := boundClient(&busObject{})
	svc := Services[0]

	c.handle(propertiesChanged(svc.Path, svc.Interface, map[string]dbus.Variant{
		"ActiveProfile": dbus.MakeVariant("balanced"),
	}))
	assert.Equal(t, "balanced", c.ActiveProfile())
	require.Len(t, *changes, 1)
	assert.Equal(t, Change{ActiveProfile: "balanced", HasActiveProfile: true}, (*changes)[0])

	c.handle(propertiesChanged(svc.Path, svc.Interface, map[string]dbus.Variant{
		"PerformanceDegraded": dbus.MakeVariant(LapDetected),
	}))
	assert.Equal(t, LapDetected, c.PerformanceDegraded())
	require.Len(t, *changes, 2)
	assert.True(t, (*changes)[1].Degraded())

	c.handle(propertiesChanged(svc.Path, svc.Interface, map[string]dbus.Variant{
		"Profiles": dbus.MakeVariant([]map[string]dbus.Variant{platformEntry("power-saver")}),
	}))
	assert.Equal(t, []string{"power-saver"}, c.Profiles())
	assert.Len(t, *changes, 2, "a profile list change alone is not published")
}

func TestHandleIgnoresOtherSources(t *testing.T) {
	c, changes := boundClient(&busObject{})
	svc := Services[0]
	balanced := map[string]dbus.Variant{"ActiveProfile": dbus.MakeVariant("balanced")}

	c.handle(propertiesChanged("/org/other", svc.Interface, balanced))
	c.handle(propertiesChanged(svc.Path, "org.other.Interface", balanced))
	c.handle(&dbus.Signal{Path: svc.Path, Name: propertiesInterface + ".PropertiesChanged", Body: []interface{}{svc.Interface}})
	c.handle(ownerChanged("org.other.Service", ":1.5", ""))
	c.handle(&dbus.Signal{Name: busName + ".NameOwnerChanged", Body: []interface{}{svc.Name}})

	assert.Equal(t, "performance", c.ActiveProfile())
	assert.Empty(t, *changes)
}

func TestHandleServiceRestart(t *testing.T) {
	obj := &busObject{props: map[string]dbus.Variant{
		"ActiveProfile": dbus.MakeVariant("balanced"),
		"Profiles": dbus.MakeVariant([]map[string]dbus.Variant{
			platformEntry("power-saver"), platformEntry("balanced"), platformEntry("performance"),
		}),
	}}
	c, changes := boundClient(obj)
	svc := Services[0]

	c.handle(ownerChanged(svc.Name, ":1.5", ""))
	assert.Empty(t, c.ActiveProfile())
	assert.Empty(t, c.Profiles())
	require.Len(t, *changes, 1)
	assert.Equal(t, Change{HasActiveProfile: true}, (*changes)[0])

	c.handle(ownerChanged(svc.Name, "", ":1.99"))
	assert.Equal(t, 1, obj.called)
	assert.Equal(t, svc.Interface, obj.iface)
	assert.Equal(t, "balanced", c.ActiveProfile())
	assert.Equal(t, []string{"power-saver", "balanced", "performance"}, c.Profiles())
	assert.True(t, c.ValidateDrivers().HasDrivers)
	require.Len(t, *changes, 2)
	assert.Equal(t, Change{ActiveProfile: "balanced", HasActiveProfile: true}, (*changes)[1])
}

func TestHandleServiceRestartReloadFails(t *testing.T) {
	obj := &busObject{err: dbus.ErrMsgNoObject}
	c, changes := boundClient(obj)
	svc := Services[0]

	c.handle(ownerChanged(svc.Name, ":1.5", ""))
	c.handle(ownerChanged(svc.Name, "", ":1.99"))

	assert.Equal(t, 1, obj.called)
	assert.Empty(t, c.ActiveProfile())
	assert.Len(t, *changes, 1, "nothing is published without fresh properties")
}
