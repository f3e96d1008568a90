// Package upower reads the power supply state from UPower over the system
// bus.
package upower

import (
	"context"
	"sync"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"codeberg.org/mutker/autoprofiled/internal/power"
	"github.com/godbus/dbus/v5"
)

const (
	busName             = "org.freedesktop.UPower"
	objectPath          = dbus.ObjectPath("/org/freedesktop/UPower")
	displayDevicePath   = dbus.ObjectPath("/org/freedesktop/UPower/devices/DisplayDevice")
	deviceInterface     = "org.freedesktop.UPower.Device"
	propertiesInterface = "org.freedesktop.DBus.Properties"
	signalBuffer        = 16
)

// Monitor caches the display device and line power properties and notifies
// on every change. It is safe for concurrent use.
type Monitor struct {
	mu       sync.RWMutex
	conn     *dbus.Conn
	display  Device
	line     *Device
	linePath dbus.ObjectPath

	changed *event.Hub[struct{}]
	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup
	log     logger.Logger
}

// New returns an unconnected monitor.
func New() *Monitor {
	return &Monitor{
		changed: event.NewHub[struct{}](),
		log:     logger.Component("upower"),
	}
}

// Connect opens a private system bus connection, reads the display device
// and locates the line power supply.
func (m *Monitor) Connect(ctx context.Context) error {
	errFactory := errors.New()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errFactory.Wrap(ErrBusConnect, err)
	}

	display, err := getAll(ctx, conn, displayDevicePath)
	if err != nil {
		conn.Close()
		return errFactory.Wrap(ErrReadProperties, err)
	}

	linePath, line := m.findLinePower(ctx, conn)

	err = conn.AddMatchSignal(
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	if err != nil {
		conn.Close()
		return errFactory.Wrap(ErrBusConnect, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.display = DeviceFromProperties(display)
	m.line = line
	m.linePath = linePath
	m.signals = make(chan *dbus.Signal, signalBuffer)
	m.done = make(chan struct{})
	m.mu.Unlock()

	conn.Signal(m.signals)

	m.wg.Add(1)
	go m.loop(m.signals, m.done)

	st, _ := m.State()
	m.log.Info().
		Bool("has_battery", st.HasBattery).
		Bool("on_battery", st.OnBattery).
		Float64("percentage", st.Percentage).
		Bool("line_power", line != nil).
		Msg("Connected to UPower")

	return nil
}

func getAll(ctx context.Context, conn *dbus.Conn, path dbus.ObjectPath) (map[string]dbus.Variant, error) {
	props := make(map[string]dbus.Variant)
	err := conn.Object(busName, path).
		CallWithContext(ctx, propertiesInterface+".GetAll", 0, deviceInterface).
		Store(&props)
	return props, err
}

// findLinePower returns the first line power device, if any.
func (m *Monitor) findLinePower(ctx context.Context, conn *dbus.Conn) (dbus.ObjectPath, *Device) {
	var paths []dbus.ObjectPath
	err := conn.Object(busName, objectPath).
		CallWithContext(ctx, busName+".EnumerateDevices", 0).
		Store(&paths)
	if err != nil {
		m.log.Debug().Err(err).Msg("Failed to enumerate devices")
		return "", nil
	}

	for _, path := range paths {
		props, err := getAll(ctx, conn, path)
		if err != nil {
			continue
		}
		d := DeviceFromProperties(props)
		if d.Type == TypeLinePower {
			m.log.Debug().Str("path", string(path)).Bool("online", d.Online).Msg("Found line power supply")
			return path, &d
		}
	}

	return "", nil
}

func (m *Monitor) loop(signals <-chan *dbus.Signal, done <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			m.handle(sig)
		}
	}
}

func (m *Monitor) handle(sig *dbus.Signal) {
	if sig.Name != propertiesInterface+".PropertiesChanged" || len(sig.Body) < 2 {
		return
	}
	if iface, _ := sig.Body[0].(string); iface != deviceInterface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	m.mu.Lock()
	switch {
	case sig.Path == displayDevicePath:
		m.display.apply(changed)
	case m.line != nil && sig.Path == m.linePath:
		m.line.apply(changed)
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.changed.Publish(struct{}{})
}

// State returns the cached power state.
func (m *Monitor) State() (power.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conn == nil {
		return power.State{}, errors.New().New(ErrNotConnected)
	}

	var line *Device
	if m.line != nil {
		l := *m.line
		line = &l
	}

	return ReadState(m.display, line), nil
}

// OnChange registers fn for every property change of the tracked devices.
func (m *Monitor) OnChange(fn func()) event.Subscription {
	return m.changed.Subscribe(func(struct{}) { fn() })
}

// Close stops signal delivery and closes the bus connection.
func (m *Monitor) Close() error {
	m.mu.Lock()
	conn, done := m.conn, m.done
	m.conn, m.done = nil, nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}

	close(done)
	conn.RemoveSignal(m.signals)
	err := conn.Close()
	m.wg.Wait()

	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}
