// Package ppd talks to power-profiles-daemon over the system bus.
package ppd

import (
	"context"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	propertiesInterface = "org.freedesktop.DBus.Properties"
	busName             = "org.freedesktop.DBus"
	signalBuffer        = 16
	reloadTimeout       = 5 * time.Second
)

// Client caches the daemon's properties and forwards property changes.
// It is safe for concurrent use.
type Client struct {
	mu       sync.RWMutex
	conn     *dbus.Conn
	obj      dbus.BusObject
	service  Service
	active   string
	profiles []Profile
	degraded string

	changed *event.Hub[Change]
	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup
	log     logger.Logger
}

// New returns an unconnected client.
func New() *Client {
	return &Client{
		changed: event.NewHub[Change](),
		log:     logger.Component("ppd"),
	}
}

// Connect opens a private system bus connection and binds to the first
// service in Services that answers.
func (c *Client) Connect(ctx context.Context) error {
	errFactory := errors.New()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errFactory.Wrap(ErrBusConnect, err)
	}

	var lastErr error
	for _, svc := range Services {
		obj := conn.Object(svc.Name, svc.Path)

		props := make(map[string]dbus.Variant)
		err := obj.CallWithContext(ctx, propertiesInterface+".GetAll", 0, svc.Interface).Store(&props)
		if err != nil {
			c.log.Debug().Err(err).Str("service", svc.Name).Msg("Service not available")
			lastErr = err
			continue
		}

		if err := c.bind(conn, obj, svc, props); err != nil {
			conn.Close()
			return err
		}
		return nil
	}

	conn.Close()
	return errFactory.Wrap(ErrNoService, lastErr)
}

func (c *Client) bind(conn *dbus.Conn, obj dbus.BusObject, svc Service, props map[string]dbus.Variant) error {
	errFactory := errors.New()

	var profiles []Profile
	if v, ok := props["Profiles"]; ok {
		var err error
		if profiles, err = DecodeProfiles(v); err != nil {
			return errFactory.Wrap(ErrDecodeProfiles, err)
		}
	}

	err := conn.AddMatchSignal(
		dbus.WithMatchSender(svc.Name),
		dbus.WithMatchObjectPath(svc.Path),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	if err != nil {
		return errFactory.Wrap(ErrBusConnect, err)
	}
	err = conn.AddMatchSignal(
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(busName),
		dbus.WithMatchMember("NameOwnerChanged"),
	)
	if err != nil {
		return errFactory.Wrap(ErrBusConnect, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.obj = obj
	c.service = svc
	c.active = variantString(props["ActiveProfile"])
	c.degraded = variantString(props["PerformanceDegraded"])
	c.profiles = profiles
	c.signals = make(chan *dbus.Signal, signalBuffer)
	c.done = make(chan struct{})
	c.mu.Unlock()

	conn.Signal(c.signals)

	c.wg.Add(1)
	go c.loop(c.signals, c.done)

	c.log.Info().
		Str("service", svc.Name).
		Str("active", c.ActiveProfile()).
		Strs("profiles", Names(profiles)).
		Msg("Connected to power-profiles-daemon")

	return nil
}

func (c *Client) loop(signals <-chan *dbus.Signal, done <-chan struct{}) {
	defer c.wg.Done()

	for {
		select {
		case <-done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			c.handle(sig)
		}
	}
}

func (c *Client) handle(sig *dbus.Signal) {
	c.mu.RLock()
	svc := c.service
	c.mu.RUnlock()

	switch sig.Name {
	case propertiesInterface + ".PropertiesChanged":
		if sig.Path != svc.Path || len(sig.Body) < 2 {
			return
		}
		if iface, _ := sig.Body[0].(string); iface != svc.Interface {
			return
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		c.apply(changed)

	case busName + ".NameOwnerChanged":
		if len(sig.Body) < 3 {
			return
		}
		name, _ := sig.Body[0].(string)
		owner, _ := sig.Body[2].(string)
		if name != svc.Name {
			return
		}
		if owner != "" {
			c.log.Info().Str("service", svc.Name).Str("owner", owner).Msg("power-profiles-daemon returned to the bus")
			c.reload()
			return
		}
		c.log.Warn().Str("service", svc.Name).Msg("power-profiles-daemon left the bus")
		c.mu.Lock()
		c.active = ""
		c.profiles = nil
		c.mu.Unlock()
		c.changed.Publish(Change{HasActiveProfile: true})
	}
}

// reload refreshes the cached properties from the service's new owner and
// publishes the active profile.
func (c *Client) reload() {
	c.mu.RLock()
	obj, svc := c.obj, c.service
	c.mu.RUnlock()
	if obj == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	props := make(map[string]dbus.Variant)
	err := obj.CallWithContext(ctx, propertiesInterface+".GetAll", 0, svc.Interface).Store(&props)
	if err != nil {
		c.log.Warn().Err(errors.New().Wrap(ErrReadProperties, err)).Msg("Failed to reload properties")
		return
	}

	var profiles []Profile
	if v, ok := props["Profiles"]; ok {
		if profiles, err = DecodeProfiles(v); err != nil {
			c.log.Warn().Err(err).Msg("Failed to decode profiles")
		}
	}
	active := variantString(props["ActiveProfile"])

	c.mu.Lock()
	c.active = active
	c.degraded = variantString(props["PerformanceDegraded"])
	c.profiles = profiles
	c.mu.Unlock()

	c.changed.Publish(Change{ActiveProfile: active, HasActiveProfile: true})
}

func (c *Client) apply(changed map[string]dbus.Variant) {
	ch := ChangeFromProperties(changed)

	c.mu.Lock()
	if ch.HasActiveProfile {
		c.active = ch.ActiveProfile
	}
	if ch.HasDegraded {
		c.degraded = ch.PerformanceDegraded
	}
	if v, ok := changed["Profiles"]; ok {
		if profiles, err := DecodeProfiles(v); err == nil {
			c.profiles = profiles
		} else {
			c.log.Warn().Err(err).Msg("Failed to decode profiles")
		}
	}
	c.mu.Unlock()

	if !ch.HasActiveProfile && !ch.HasDegraded {
		return
	}

	c.log.Debug().
		Str("active", ch.ActiveProfile).
		Str("degraded", ch.PerformanceDegraded).
		Msg("Properties changed")
	c.changed.Publish(ch)
}

// Close stops signal delivery and closes the bus connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn, c.obj, c.done = nil, nil, nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	close(done)
	conn.RemoveSignal(c.signals)
	err := conn.Close()
	c.wg.Wait()

	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

// Service returns the bus name the client is bound to.
func (c *Client) Service() Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

// ActiveProfile returns the cached active profile, empty when unknown.
func (c *Client) ActiveProfile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// PerformanceDegraded returns the cached degradation reason.
func (c *Client) PerformanceDegraded() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Profiles returns the names of the available profiles.
func (c *Client) Profiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Names(c.profiles)
}

// ProfileDetails returns the available profiles with their drivers.
func (c *Client) ProfileDetails() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.profiles)
}

// SetActiveProfile asks the daemon to switch profiles. The cache is updated
// when the daemon confirms through PropertiesChanged.
func (c *Client) SetActiveProfile(name string) error {
	errFactory := errors.New()

	c.mu.RLock()
	obj, svc := c.obj, c.service
	known := slices.Contains(Names(c.profiles), name)
	c.mu.RUnlock()

	if obj == nil {
		return errFactory.New(ErrNotConnected)
	}
	if !known {
		return errFactory.WithData(ErrInvalidProfile, name)
	}

	if err := obj.SetProperty(svc.Interface+".ActiveProfile", dbus.MakeVariant(name)); err != nil {
		return errFactory.Wrap(ErrSetProfile, err)
	}

	return nil
}

// OnChange registers fn for ActiveProfile and PerformanceDegraded updates.
func (c *Client) OnChange(fn func(Change)) event.Subscription {
	return c.changed.Subscribe(fn)
}

// ValidateDrivers reports whether the active profile has a real driver.
func (c *Client) ValidateDrivers() DriverStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Validate(c.active, c.profiles)
}
