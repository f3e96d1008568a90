package session_test

import (
	"context"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/apptracker"
	"codeberg.org/mutker/autoprofiled/internal/config"
	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/journal"
	"codeberg.org/mutker/autoprofiled/internal/power"
	"codeberg.org/mutker/autoprofiled/internal/ppd"
	"codeberg.org/mutker/autoprofiled/internal/session"
)

type fakePower struct {
	mu    sync.Mutex
	state power.State
	hub   *event.Hub[struct{}]
}

func newPower(st power.State) *fakePower {
	return &fakePower{state: st, hub: event.NewHub[struct{}]()}
}

func (p *fakePower) State() (power.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

func (p *fakePower) OnChange(fn func()) event.Subscription {
	return p.hub.Subscribe(func(struct{}) { fn() })
}

func (p *fakePower) set(st power.State) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
	p.hub.Publish(struct{}{})
}

func onAC() power.State {
	return power.State{HasBattery: true, Percentage: 80}
}

func onBattery(pct float64) power.State {
	return power.State{HasBattery: true, OnBattery: true, Percentage: pct}
}

type fakeController struct {
	mu         sync.Mutex
	active     string
	profiles   []string
	writes     []string
	drivers    ppd.DriverStatus
	connectErr error
	hub        *event.Hub[ppd.Change]
}

func newController(active string) *fakeController {
	return &fakeController{
		active:   active,
		profiles: []string{power.ProfilePowerSaver, power.ProfileBalanced, power.ProfilePerformance},
		drivers:  ppd.DriverStatus{Active: true, HasDrivers: true},
		hub:      event.NewHub[ppd.Change](),
	}
}

func (c *fakeController) Connect(context.Context) error {
	return c.connectErr
}

func (c *fakeController) ActiveProfile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *fakeController) Profiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.profiles)
}

// SetActiveProfile applies name and emits the confirming signal, as
// power-profiles-daemon does.
func (c *fakeController) SetActiveProfile(name string) error {
	c.mu.Lock()
	if !slices.Contains(c.profiles, name) {
		c.mu.Unlock()
		return errors.New().New(errors.ErrInvalidProfile)
	}
	c.active = name
	c.writes = append(c.writes, name)
	c.mu.Unlock()

	c.hub.Publish(ppd.Change{ActiveProfile: name, HasActiveProfile: true})
	return nil
}

func (c *fakeController) OnChange(fn func(ppd.Change)) event.Subscription {
	return c.hub.Subscribe(fn)
}

func (c *fakeController) ValidateDrivers() ppd.DriverStatus {
	return c.drivers
}

// userSet simulates a profile change made outside the daemon.
func (c *fakeController) userSet(name string) {
	c.mu.Lock()
	c.active = name
	c.mu.Unlock()
	c.hub.Publish(ppd.Change{ActiveProfile: name, HasActiveProfile: true})
}

// restart simulates the daemon leaving the bus and coming back with active.
func (c *fakeController) restart(active string) {
	c.mu.Lock()
	c.active = ""
	c.mu.Unlock()
	c.hub.Publish(ppd.Change{HasActiveProfile: true})

	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
	c.hub.Publish(ppd.Change{ActiveProfile: active, HasActiveProfile: true})
}

func (c *fakeController) degraded(reason string) {
	c.hub.Publish(ppd.Change{PerformanceDegraded: reason, HasDegraded: true})
}

func (c *fakeController) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.writes)
}

type fakeConfig struct {
	mu       sync.Mutex
	settings config.Settings
	hub      *event.Hub[struct{}]
	acWrites int
	batWrite int
	// onSet runs on every write, before subscribers are notified.
	onSet func()
}

func newConfig() *fakeConfig {
	s := config.Default().Settings
	s.ACProfile = power.ProfilePerformance
	s.BatteryProfile = power.ProfileBalanced
	s.LowBatteryThreshold = 20
	return &fakeConfig{settings: s, hub: event.NewHub[struct{}]()}
}

func (c *fakeConfig) Settings() config.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

func (c *fakeConfig) SetACProfile(p string) error {
	c.mu.Lock()
	c.settings.ACProfile = p
	c.acWrites++
	c.mu.Unlock()
	c.written()
	return nil
}

func (c *fakeConfig) SetBatteryProfile(p string) error {
	c.mu.Lock()
	c.settings.BatteryProfile = p
	c.batWrite++
	c.mu.Unlock()
	c.written()
	return nil
}

func (c *fakeConfig) written() {
	if c.onSet != nil {
		c.onSet()
	}
	c.hub.Publish(struct{}{})
}

func (c *fakeConfig) writes() (ac, bat int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acWrites, c.batWrite
}

func (c *fakeConfig) OnChange(fn func()) event.Subscription {
	return c.hub.Subscribe(func(struct{}) { fn() })
}

func (c *fakeConfig) update(fn func(*config.Settings)) {
	c.mu.Lock()
	fn(&c.settings)
	c.mu.Unlock()
	c.hub.Publish(struct{}{})
}

type window struct{ pid int }

func (w window) Title() string { return "window" }

type fakeWindows struct {
	open    []apptracker.Window
	owners  map[apptracker.Window]string
	created *event.Hub[apptracker.Window]
	closed  map[apptracker.Window]*event.Hub[apptracker.Window]
}

func newWindows() *fakeWindows {
	return &fakeWindows{
		owners:  make(map[apptracker.Window]string),
		created: event.NewHub[apptracker.Window](),
		closed:  make(map[apptracker.Window]*event.Hub[apptracker.Window]),
	}
}

func (f *fakeWindows) Windows() []apptracker.Window { return f.open }

func (f *fakeWindows) AppID(w apptracker.Window) (string, bool) {
	id, ok := f.owners[w]
	return id, ok
}

func (f *fakeWindows) OnWindowCreated(fn func(apptracker.Window)) event.Subscription {
	return f.created.Subscribe(fn)
}

func (f *fakeWindows) OnWindowClosed(w apptracker.Window, fn func(apptracker.Window)) event.Subscription {
	h, ok := f.closed[w]
	if !ok {
		h = event.NewHub[apptracker.Window]()
		f.closed[w] = h
	}
	return h.Subscribe(fn)
}

func (f *fakeWindows) launch(w window, app string) {
	f.owners[w] = app
	f.open = append(f.open, w)
	f.created.Publish(w)
}

func (f *fakeWindows) exit(w window) {
	f.open = slices.DeleteFunc(f.open, func(o apptracker.Window) bool { return o == apptracker.Window(w) })
	if h, ok := f.closed[w]; ok {
		h.Publish(w)
	}
}

type notification struct{ kind, summary string }

type fakeNotifier struct {
	sent []notification
}

func (n *fakeNotifier) Notify(kind, summary, _ string) error {
	n.sent = append(n.sent, notification{kind, summary})
	return nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	closed  bool
}

func (j *fakeJournal) Record(_ context.Context, e *journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *e)
	return nil
}

func (j *fakeJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

func (j *fakeJournal) sources() []journal.Source {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journal.Source, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Source)
	}
	return out
}

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) session.Timer {
	t := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now += d
	for _, t := range slices.Clone(c.timers) {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			t.f()
		}
	}
}

func (c *fakeClock) pending() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
