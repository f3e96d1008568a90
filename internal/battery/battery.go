// Package battery is a polling power source for systems without UPower. It
// reads the kernel battery interface through github.com/distatus/battery.
package battery

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"codeberg.org/mutker/autoprofiled/internal/power"
	"github.com/distatus/battery"
)

const (
	ErrNoBatteryInfo = errors.ErrorCode("battery_info_unavailable")
	ErrNotPolled     = errors.ErrNotReady

	DefaultInterval = 5 * time.Second
)

// Reader returns every battery in the system.
type Reader func() ([]*battery.Battery, error)

// Option configures a Source.
type Option func(*Source)

// WithReader replaces battery.GetAll.
func WithReader(r Reader) Option {
	return func(s *Source) { s.read = r }
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Source) { s.interval = d }
}

// Source polls the batteries and notifies when the derived state changes.
// It does not report a warning level. It is safe for concurrent use.
type Source struct {
	read     Reader
	interval time.Duration

	mu     sync.RWMutex
	state  power.State
	polled bool

	changed *event.Hub[struct{}]
	log     logger.Logger
}

// New returns a Source that has not polled yet.
func New(opts ...Option) *Source {
	s := &Source{
		read:     battery.GetAll,
		interval: DefaultInterval,
		changed:  event.NewHub[struct{}](),
		log:      logger.Component("battery"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect performs the first poll.
func (s *Source) Connect(context.Context) error {
	if _, err := s.Poll(); err != nil {
		return err
	}

	st, _ := s.State()
	s.log.Info().
		Bool("has_battery", st.HasBattery).
		Bool("on_battery", st.OnBattery).
		Float64("percentage", st.Percentage).
		Dur("interval", s.interval).
		Msg("Polling batteries")

	return nil
}

// Run polls until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			changed, err := s.Poll()
			if err != nil {
				s.log.Warn().Err(err).Msg("Failed to read batteries")
				continue
			}
			if changed {
				s.changed.Publish(struct{}{})
			}
		}
	}
}

// Poll reads the batteries once and reports whether the state changed.
func (s *Source) Poll() (bool, error) {
	bats, err := s.read()
	if err != nil && len(bats) == 0 {
		return false, errors.New().Wrap(ErrNoBatteryInfo, err)
	}

	st := Aggregate(bats)

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.polled || st != s.state
	s.state = st
	s.polled = true

	return changed, nil
}

// State returns the state from the last poll.
func (s *Source) State() (power.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.polled {
		return power.State{}, errors.New().New(ErrNotPolled)
	}
	return s.state, nil
}

// OnChange registers fn for state changes seen by Run.
func (s *Source) OnChange(fn func()) event.Subscription {
	return s.changed.Subscribe(func(struct{}) { fn() })
}

// Aggregate combines several batteries into one power state. The system is
// on battery when some battery discharges and none charges. Nil entries are
// skipped.
func Aggregate(bats []*battery.Battery) power.State {
	var (
		st                  power.State
		current, full       float64
		charging, discharge bool
	)

	for _, bat := range bats {
		if bat == nil {
			continue
		}
		st.HasBattery = true
		current += bat.Current
		full += bat.Full

		switch bat.State {
		case battery.Charging:
			charging = true
		case battery.Discharging:
			discharge = true
		}
	}

	if full > 0 {
		st.Percentage = current / full * 100
	}
	st.OnBattery = discharge && !charging

	return st
}
