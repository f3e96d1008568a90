// Package session wires the power source, the profile controller, the
// configuration and the performance application tracker to the policy and
// the transition engine.
//
// All state is owned by a single goroutine. Adapters run their own
// goroutines and post closures into the session loop; session state is
// never locked.
package session

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/apptracker"
	"codeberg.org/mutker/autoprofiled/internal/config"
	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/journal"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"codeberg.org/mutker/autoprofiled/internal/policy"
	"codeberg.org/mutker/autoprofiled/internal/power"
	"codeberg.org/mutker/autoprofiled/internal/ppd"
	"codeberg.org/mutker/autoprofiled/internal/transition"
)

const (
	journalTimeout = 2 * time.Second

	// Notification kinds, each shown at most once per session.
	KindUnavailable = "service-unavailable"
	KindPlaceholder = "placeholder-driver"

	driversURL = "https://upower.pages.freedesktop.org/power-profiles-daemon/power-profiles-daemon-Platform-Profile-Drivers.html"
)

// Deps are the collaborators of a session. Power, Controller, Config and
// Windows are required.
type Deps struct {
	Power      PowerSource
	Controller ProfileController
	Config     ConfigStore
	Windows    apptracker.WindowSource
	Thresholds ThresholdSource
	Notifier   Notifier
	Journal    Journal
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the clock used for the lap-detected debounce.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithDebounceDelay overrides DefaultDebounceDelay.
func WithDebounceDelay(d time.Duration) Option {
	return func(s *Session) { s.delay = d }
}

// WithSyncDispatch runs posted work immediately on the posting goroutine
// instead of queueing it for Run. Collaborators are connected inline by
// Start. Only meaningful when every callback arrives on one goroutine.
func WithSyncDispatch() Option {
	return func(s *Session) { s.sync = true }
}

// Session is one running instance of the profile selection logic.
type Session struct {
	deps  Deps
	log   logger.Logger
	clock Clock
	delay time.Duration
	sync  bool

	// pending is unbounded so the session goroutine never blocks posting
	// to itself; wake holds at most one signal.
	qmu     sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	engine   *transition.Engine
	tracker  *apptracker.Tracker
	debounce *debouncer
	subs     event.Group

	settings        config.Settings
	powerReady      bool
	controllerReady bool
	rescanning      bool
	notified        map[string]bool
	appsConfigured  atomic.Bool

	started   bool
	stopOnce  sync.Once
	closeDone sync.Once
}

// New validates deps and returns an idle session.
func New(deps Deps, opts ...Option) (*Session, error) {
	errFactory := errors.New()

	switch {
	case deps.Power == nil:
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "power source is required")
	case deps.Controller == nil:
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "profile controller is required")
	case deps.Config == nil:
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "config store is required")
	case deps.Windows == nil:
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "window source is required")
	}

	s := &Session{
		deps:     deps,
		log:      logger.Component("session"),
		clock:    realClock{},
		delay:    DefaultDebounceDelay,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		notified: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = transition.NewEngine(s.onUserChange)
	s.debounce = &debouncer{
		clock: s.clock,
		delay: s.delay,
		post:  s.post,
		fire:  s.onDebounceExpired,
	}

	return s, nil
}

// Start subscribes to configuration and window events and begins connecting
// the power source and the profile controller. Decisions are deferred until
// both are ready.
func (s *Session) Start(ctx context.Context) error {
	if s.started {
		return errors.New().WithMessage(errors.ErrInitFailed, "session already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.settings = s.deps.Config.Settings()
	s.subs.Add(s.deps.Config.OnChange(func() { s.post(s.onSettingsChange) }))

	s.tracker = apptracker.New(&loopWindows{s: s}, s.onAppsChange)
	s.rescan()

	if s.deps.Thresholds != nil {
		s.subs.Add(s.deps.Thresholds.OnChange(func() { s.post(s.checkProfile) }))
	}

	s.connect("power source", s.deps.Power, s.onPowerReady)
	s.connect("profile controller", s.deps.Controller, s.onControllerReady)

	return nil
}

// Run starts the session if needed and processes events until ctx is
// cancelled, then tears the session down.
func (s *Session) Run(ctx context.Context) error {
	if !s.started {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-s.wake:
			s.drain(ctx)
		case <-ctx.Done():
			s.Stop()
			return nil
		}
	}
}

// Stop cancels the debounce timer, forces the default profile, releases
// every subscription and flushes the journal. It must not be called while
// Run is processing events; cancel Run's context instead.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.closeDone.Do(func() { close(s.done) })
		if s.cancel != nil {
			s.cancel()
		}

		s.debounce.cancel()

		// Forget history first so the forced write is not taken for a user
		// change.
		axes := s.engine.Axes()
		s.engine.Reset()
		if s.controllerReady {
			s.switchProfile(power.DefaultProfile, journal.SourceReset, axes)
		}

		s.subs.Close()
		if s.tracker != nil {
			s.tracker.Close()
		}

		s.wg.Wait()

		if s.deps.Journal != nil {
			if err := s.deps.Journal.Close(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to close journal")
			}
		}

		s.log.Debug().Msg("Session stopped")
	})
}

// post runs fn on the session goroutine.
func (s *Session) post(fn func()) {
	if s.sync {
		fn()
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	s.qmu.Lock()
	s.pending = append(s.pending, fn)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drain runs posted work, including work posted while draining, until the
// queue is empty or ctx is cancelled.
func (s *Session) drain(ctx context.Context) {
	for {
		s.qmu.Lock()
		batch := s.pending
		s.pending = nil
		s.qmu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			if ctx.Err() != nil {
				return
			}
			fn()
		}
	}
}

// connect readies c, connecting first when it is a Connector.
func (s *Session) connect(name string, c any, ready func()) {
	conn, ok := c.(Connector)
	if !ok {
		s.post(ready)
		return
	}

	attempt := func() {
		err := conn.Connect(s.ctx)
		s.post(func() {
			if err != nil {
				s.onUnavailable(name, err)
				return
			}
			ready()
		})
	}

	if s.sync {
		attempt()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		attempt()
	}()
}

func (s *Session) ready() bool {
	return s.powerReady && s.controllerReady
}

func (s *Session) onPowerReady() {
	s.powerReady = true
	s.subs.Add(s.deps.Power.OnChange(func() { s.post(s.checkProfile) }))
	s.log.Debug().Msg("Power source ready")
	s.onReady()
}

func (s *Session) onControllerReady() {
	s.controllerReady = true
	s.subs.Add(s.deps.Controller.OnChange(func(ch ppd.Change) {
		s.post(func() { s.onProfileChange(ch) })
	}))
	s.log.Debug().
		Strs("profiles", s.deps.Controller.Profiles()).
		Str("active", s.deps.Controller.ActiveProfile()).
		Msg("Profile controller ready")

	if st := s.deps.Controller.ValidateDrivers(); st.Active && !st.HasDrivers {
		s.log.ErrorWithCode(errors.New().New(errors.ErrPlaceholderDriver)).Msg("Profile switching has no effect")
		s.notifyOnce(KindPlaceholder,
			"No system-specific platform driver is available",
			"Power profiles will have little effect. See "+driversURL)
	}

	s.onReady()
}

func (s *Session) onReady() {
	if !s.ready() {
		return
	}

	s.log.Info().Msg("Power source and profile controller connected")

	if cond, ok := s.conditions(); ok {
		s.engine.Report(s.deps.Controller.ActiveProfile(), cond.Axes())
	}
	s.checkProfile()
}

func (s *Session) onUnavailable(name string, err error) {
	s.log.ErrorWithCode(errors.New().Wrap(errors.ErrUnavailable, err)).
		Str("service", name).
		Msg("Service unavailable")

	s.notifyOnce(KindUnavailable,
		"Power profile service unavailable",
		"Could not connect to the "+name+". Check your installation.")
}

func (s *Session) onSettingsChange() {
	s.settings = s.deps.Config.Settings()
	s.log.Debug().Msg("Settings changed")

	s.engine.Reset()
	s.rescan()
	s.checkProfile()
}

// rescan updates the tracked applications without triggering a recheck;
// the caller decides.
func (s *Session) rescan() {
	s.rescanning = true
	s.appsConfigured.Store(len(s.settings.PerformanceApps) > 0)
	s.tracker.SetPerformanceApps(s.settings.PerformanceApps)
	s.rescanning = false
}

func (s *Session) onAppsChange(active bool) {
	if s.rescanning {
		return
	}
	s.log.Info().Bool("active", active).Msg("Performance applications changed")
	s.checkProfile()
}

func (s *Session) conditions() (power.Condition, bool) {
	st, err := s.deps.Power.State()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read power state")
		return power.Condition{}, false
	}

	system := 0
	if s.deps.Thresholds != nil {
		system = s.deps.Thresholds.PercentageLow()
	}

	cond, res := policy.Conditions(st, s.tracker.HasActiveApps(), s.settings, system)

	s.log.Debug().
		Bool("on_battery", cond.OnBattery).
		Bool("low_battery", cond.LowBattery).
		Bool("perf_apps", cond.PerfAppsActive).
		Float64("percentage", st.Percentage).
		Str("rule", string(res.Rule)).
		Str("profile", cond.ConfiguredProfile).
		Msg("Evaluated power conditions")

	return cond, true
}

func (s *Session) checkProfile() {
	if !s.ready() {
		s.log.Debug().
			Bool("power", s.powerReady).
			Bool("controller", s.controllerReady).
			Msg("Not ready, skipping profile check")
		return
	}

	cond, ok := s.conditions()
	if !ok {
		return
	}

	axes := cond.Axes()
	if !s.engine.Request(cond.ConfiguredProfile, axes) {
		s.log.Debug().Str("profile", cond.ConfiguredProfile).Msg("Conditions unchanged, keeping current profile")
		return
	}
	if !s.engine.NeedsWrite() {
		return
	}

	// No signal follows a no-op write, so confirm it here.
	if active := s.deps.Controller.ActiveProfile(); active == cond.ConfiguredProfile {
		s.engine.Report(active, axes)
		return
	}

	s.switchProfile(cond.ConfiguredProfile, journal.SourceAuto, axes)
}

func (s *Session) switchProfile(profile string, source journal.Source, axes power.Axes) {
	errFactory := errors.New()

	active := s.deps.Controller.ActiveProfile()
	if profile == active {
		return
	}

	profiles := s.deps.Controller.Profiles()
	if !slices.Contains(profiles, profile) {
		s.log.ErrorWithCode(errFactory.WithData(errors.ErrInvalidProfile, profile)).
			Strs("available", profiles).
			Msg("Cannot switch profile")
		return
	}

	if err := s.deps.Controller.SetActiveProfile(profile); err != nil {
		s.log.ErrorWithCode(errFactory.Wrap(errors.ErrSetProfile, err)).
			Str("profile", profile).
			Msg("Cannot switch profile")
		return
	}

	s.log.Info().
		Str("from", active).
		Str("to", profile).
		Str("source", string(source)).
		Msg("Switched power profile")

	s.record(profile, active, source, axes)
}

func (s *Session) onProfileChange(ch ppd.Change) {
	if !s.ready() {
		s.log.Debug().Msg("Not ready, ignoring profile change")
		return
	}

	axes := s.engine.Axes()
	onAC := axes.OnAC()
	if cond, ok := s.conditions(); ok {
		axes = cond.Axes()
		onAC = cond.OnAC()
	}

	if ch.HasActiveProfile && !ch.Degraded() {
		s.debounce.cancel()
		fresh := s.engine.Effective() == "" && s.engine.Requested() == ""
		s.engine.Report(ch.ActiveProfile, axes)
		// A controller that came back starts from its own default.
		if fresh && ch.ActiveProfile != "" {
			s.checkProfile()
		}
	}

	if !ch.Degraded() {
		return
	}

	switch {
	case ch.PerformanceDegraded == ppd.LapDetected && onAC && s.settings.LapMode:
		s.log.Debug().Dur("delay", s.delay).Msg("Lap detected, debouncing")
		s.debounce.start()
	case ch.PerformanceDegraded == ppd.LapDetected:
		s.log.Debug().Bool("on_ac", onAC).Bool("lap_mode", s.settings.LapMode).Msg("Lap detected, ignored")
	default:
		s.log.Info().
			Err(errors.New().WithData(errors.ErrDegradedSignal, ch.PerformanceDegraded)).
			Str("active", s.deps.Controller.ActiveProfile()).
			Msg("Performance degraded")
	}
}

func (s *Session) onDebounceExpired() {
	s.log.Info().Msg("Lap detection persisted, re-evaluating profile")
	s.engine.Reset()
	s.checkProfile()
}

func (s *Session) onUserChange(profile string, axes power.Axes) {
	s.log.Info().
		Str("profile", profile).
		Bool("on_battery", axes.OnBattery).
		Msg("Profile changed by user")
	s.record(profile, "", journal.SourceUser, axes)

	if !s.settings.RememberUserProfile || axes.LowBattery || axes.PerfApps {
		return
	}

	var err error
	switch {
	case axes.OnBattery && s.settings.BatteryProfile != profile:
		err = s.deps.Config.SetBatteryProfile(profile)
	case !axes.OnBattery && s.settings.ACProfile != profile:
		err = s.deps.Config.SetACProfile(profile)
	default:
		return
	}

	if err != nil {
		s.log.Warn().Err(err).Str("profile", profile).Msg("Failed to remember profile")
	}
}

func (s *Session) notifyOnce(kind, summary, body string) {
	if s.deps.Notifier == nil || !s.settings.NotificationsEnabled || s.notified[kind] {
		return
	}
	s.notified[kind] = true

	if err := s.deps.Notifier.Notify(kind, summary, body); err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Msg("Failed to send notification")
	}
}

func (s *Session) record(profile, previous string, source journal.Source, axes power.Axes) {
	if s.deps.Journal == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	err := s.deps.Journal.Record(ctx, &journal.Entry{
		Timestamp:  time.Now(),
		Profile:    profile,
		Previous:   previous,
		Source:     source,
		OnBattery:  axes.OnBattery,
		LowBattery: axes.LowBattery,
		PerfApps:   axes.PerfApps,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to record transition")
	}
}

// loopWindows delivers window events on the session goroutine.
type loopWindows struct {
	s *Session
}

func (w *loopWindows) Windows() []apptracker.Window {
	return w.s.deps.Windows.Windows()
}

func (w *loopWindows) AppID(win apptracker.Window) (string, bool) {
	return w.s.deps.Windows.AppID(win)
}

func (w *loopWindows) OnWindowCreated(fn func(apptracker.Window)) event.Subscription {
	return w.s.deps.Windows.OnWindowCreated(func(win apptracker.Window) {
		// Nothing can be tracked without performance applications.
		if !w.s.appsConfigured.Load() {
			return
		}
		w.s.post(func() { fn(win) })
	})
}

func (w *loopWindows) OnWindowClosed(win apptracker.Window, fn func(apptracker.Window)) event.Subscription {
	return w.s.deps.Windows.OnWindowClosed(win, func(win apptracker.Window) {
		w.s.post(func() { fn(win) })
	})
}
