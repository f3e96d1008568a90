package upower

import (
	"context"
	"path/filepath"
	"sync"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/ini.v1"
)

// DefaultConfPath is where UPower keeps its daemon configuration.
const DefaultConfPath = "/etc/UPower/UPower.conf"

// ReadPercentageLow returns PercentageLow from the [UPower] section of the
// file at path. ok is false when the file or key is missing or out of range.
func ReadPercentageLow(path string) (int, bool, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return 0, false, errors.New().Wrap(ErrReadConf, err)
	}

	key, err := cfg.Section("UPower").GetKey("PercentageLow")
	if err != nil {
		return 0, false, nil
	}

	// UPower accepts fractional percentages.
	v, err := key.Float64()
	if err != nil || v < 0 || v > 100 {
		return 0, false, nil
	}

	return int(v), true, nil
}

// Conf exposes the UPower low-battery percentage and follows edits to the
// file. It is safe for concurrent use.
type Conf struct {
	path    string
	mu      sync.RWMutex
	low     int
	changed *event.Hub[struct{}]
	log     logger.Logger
}

// NewConf reads path once. A missing or unreadable file yields 0.
func NewConf(path string) *Conf {
	c := &Conf{
		path:    path,
		changed: event.NewHub[struct{}](),
		log:     logger.Component("upower"),
	}
	c.reload()
	return c
}

// PercentageLow returns the configured low-battery percentage, 0 when
// unknown.
func (c *Conf) PercentageLow() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.low
}

// OnChange registers fn to run when PercentageLow changes.
func (c *Conf) OnChange(fn func()) event.Subscription {
	return c.changed.Subscribe(func(struct{}) { fn() })
}

func (c *Conf) reload() bool {
	low, ok, err := ReadPercentageLow(c.path)
	if err != nil {
		c.log.Debug().Err(err).Str("path", c.path).Msg("UPower configuration not readable")
	}
	if !ok {
		low = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if low == c.low {
		return false
	}
	c.low = low
	c.log.Info().Int("percentage_low", low).Msg("Read UPower low-battery percentage")

	return true
}

// Watch reloads the file whenever it changes until ctx is cancelled.
func (c *Conf) Watch(ctx context.Context) error {
	errFactory := errors.New()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	defer watcher.Close()

	target := filepath.Clean(c.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if c.reload() {
				c.changed.Publish(struct{}{})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn().Err(err).Msg("UPower configuration watcher error")
		}
	}
}
