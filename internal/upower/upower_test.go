package upower_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/power"
	"codeberg.org/mutker/autoprofiled/internal/upower"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFromProperties(t *testing.T) {
	d := upower.DeviceFromProperties(map[string]dbus.Variant{
		"Type":         dbus.MakeVariant(uint32(2)),
		"State":        dbus.MakeVariant(uint32(2)),
		"Percentage":   dbus.MakeVariant(42.5),
		"WarningLevel": dbus.MakeVariant(uint32(3)),
		"IsPresent":    dbus.MakeVariant(true),
		"Model":        dbus.MakeVariant("ignored"),
		"Online":       dbus.MakeVariant("not a bool"),
	})

	assert.Equal(t, upower.Device{
		Type:         upower.TypeBattery,
		State:        power.StateDischarging,
		Percentage:   42.5,
		WarningLevel: power.WarningLow,
		IsPresent:    true,
	}, d)
}

func TestReadState(t *testing.T) {
	discharging := upower.Device{State: power.StateDischarging, Percentage: 30, IsPresent: true}
	charging := upower.Device{State: power.StateCharging, Percentage: 30, IsPresent: true}

	tests := []struct {
		name    string
		display upower.Device
		line    *upower.Device
		want    power.State
	}{
		{
			name:    "display discharging",
			display: discharging,
			want:    power.State{HasBattery: true, OnBattery: true, Percentage: 30},
		},
		{
			name:    "pending discharge",
			display: upower.Device{State: power.StatePendingDischarge, IsPresent: true, Percentage: 99},
			want:    power.State{HasBattery: true, OnBattery: true, Percentage: 99},
		},
		{
			name:    "line power online overrides display state",
			display: discharging,
			line:    &upower.Device{Type: upower.TypeLinePower, Online: true},
			want:    power.State{HasBattery: true, Percentage: 30},
		},
		{
			name:    "line power offline",
			display: charging,
			line:    &upower.Device{Type: upower.TypeLinePower},
			want:    power.State{HasBattery: true, OnBattery: true, Percentage: 30},
		},
		{
			name:    "desktop without battery",
			display: upower.Device{},
			line:    &upower.Device{Type: upower.TypeLinePower},
			want:    power.State{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, upower.ReadState(tt.display, tt.line))
		})
	}
}

func writeConf(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestReadPercentageLow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "UPower.conf")

	writeConf(t, path, `
# comment
[UPower]
UsePercentageForPolicy=true
PercentageLow=20
PercentageCritical=5
`)
	low, ok, err := upower.ReadPercentageLow(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20, low)

	writeConf(t, path, "[UPower]\nPercentageLow=20.0\n")
	low, ok, err = upower.ReadPercentageLow(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20, low)

	writeConf(t, path, "[UPower]\nPercentageLow=150\n")
	_, ok, err = upower.ReadPercentageLow(path)
	require.NoError(t, err)
	assert.False(t, ok)

	writeConf(t, path, "[UPower]\nPercentageCritical=5\n")
	_, ok, err = upower.ReadPercentageLow(path)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = upower.ReadPercentageLow(filepath.Join(dir, "missing.conf"))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestConfWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "UPower.conf")
	writeConf(t, path, "[UPower]\nPercentageLow=20\n")

	conf := upower.NewConf(path)
	assert.Equal(t, 20, conf.PercentageLow())

	changed := make(chan struct{}, 1)
	sub := conf.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conf.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeConf(t, path, "[UPower]\nPercentageLow=12\n")

	// The write may be observed as a truncation first.
	require.Eventually(t, func() bool {
		return conf.PercentageLow() == 12
	}, 5*time.Second, 10*time.Millisecond)
	select {
	case <-changed:
	default:
		t.Fatal("change was not published")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestConfMissingFile(t *testing.T) {
	conf := upower.NewConf(filepath.Join(t.TempDir(), "UPower.conf"))
	assert.Zero(t, conf.PercentageLow())
}

func TestMonitorNotConnected(t *testing.T) {
	m := upower.New()
	_, err := m.State()
	assert.Error(t, err)
	assert.NoError(t, m.Close())
}
