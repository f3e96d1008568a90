package main

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/battery"
	"codeberg.org/mutker/autoprofiled/internal/config"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"codeberg.org/mutker/autoprofiled/internal/power"
	"codeberg.org/mutker/autoprofiled/internal/session"
	"codeberg.org/mutker/autoprofiled/internal/upower"
)

// monitor is a power source that connects before use.
type monitor interface {
	session.PowerSource
	session.Connector
}

// poller is a monitor that needs a goroutine to follow changes.
type poller interface {
	Run(ctx context.Context) error
}

// fallbackSource connects to primary and, when that fails, to secondary.
// Calls made before Connect succeeds go to primary.
type fallbackSource struct {
	primary   monitor
	secondary monitor

	mu     sync.RWMutex
	active monitor
	log    logger.Logger
}

func newFallbackSource(primary, secondary monitor) *fallbackSource {
	return &fallbackSource{
		primary:   primary,
		secondary: secondary,
		active:    primary,
		log:       logger.Component("power"),
	}
}

func (f *fallbackSource) Connect(ctx context.Context) error {
	err := f.primary.Connect(ctx)
	if err == nil {
		return nil
	}
	f.log.Warn().Err(err).Msg("UPower unavailable, polling batteries instead")

	if err := f.secondary.Connect(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	f.active = f.secondary
	f.mu.Unlock()

	if p, ok := f.secondary.(poller); ok {
		go func() {
			if err := p.Run(ctx); err != nil {
				f.log.Warn().Err(err).Msg("Battery polling stopped")
			}
		}()
	}

	return nil
}

func (f *fallbackSource) current() monitor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

func (f *fallbackSource) State() (power.State, error) {
	return f.current().State()
}

func (f *fallbackSource) OnChange(fn func()) event.Subscription {
	return f.current().OnChange(fn)
}

// newPowerSource builds the monitor selected by cfg. The returned closer
// releases bus connections.
func newPowerSource(ctx context.Context, cfg config.Config) (monitor, func()) {
	interval := time.Duration(cfg.Battery.Interval) * time.Second

	switch cfg.PowerSource {
	case config.PowerSourceUPower:
		m := upower.New()
		return m, func() { m.Close() }
	case config.PowerSourceBattery:
		src := battery.New(battery.WithInterval(interval))
		go func() {
			if err := src.Run(ctx); err != nil {
				logger.Warn().Err(err).Msg("Battery polling stopped")
			}
		}()
		return src, func() {}
	default:
		m := upower.New()
		return newFallbackSource(m, battery.New(battery.WithInterval(interval))), func() { m.Close() }
	}
}
