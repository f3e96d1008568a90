// Package apptracker tracks whether any configured performance application
// has an open window.
package apptracker

import (
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/logger"
)

// Tracker keeps the set of open windows owned by performance applications.
// The change callback is edge triggered: it fires only when HasActiveApps
// flips. Tracker is not safe for concurrent use.
type Tracker struct {
	source   WindowSource
	apps     map[string]struct{}
	tracked  map[Window]event.Subscription
	created  event.Subscription
	onChange func(active bool)
	log      logger.Logger
}

// New returns a tracker watching source. onChange may be nil.
func New(source WindowSource, onChange func(active bool)) *Tracker {
	t := &Tracker{
		source:   source,
		apps:     make(map[string]struct{}),
		tracked:  make(map[Window]event.Subscription),
		onChange: onChange,
		log:      logger.Component("apptracker"),
	}
	t.created = source.OnWindowCreated(t.OnWindowCreated)

	return t
}

// SetPerformanceApps replaces the tracked application ids and rescans every
// open window. At most one change notification results.
func (t *Tracker) SetPerformanceApps(ids []string) {
	apps := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			apps[id] = struct{}{}
		}
	}
	t.apps = apps

	if len(t.apps) == 0 && len(t.tracked) == 0 {
		return
	}

	wasActive := t.HasActiveApps()

	for w := range t.tracked {
		t.update(w)
	}
	for _, w := range t.source.Windows() {
		t.update(w)
	}

	t.log.Debug().
		Int("apps", len(t.apps)).
		Int("tracked", len(t.tracked)).
		Msg("Rescanned windows")

	t.notify(wasActive)
}

// OnWindowCreated starts tracking w if it belongs to a performance
// application, or stops tracking it if its application no longer is one.
func (t *Tracker) OnWindowCreated(w Window) {
	if len(t.apps) == 0 && len(t.tracked) == 0 {
		return
	}

	wasActive := t.HasActiveApps()
	t.update(w)
	t.notify(wasActive)
}

// HasActiveApps reports whether any performance application window is open.
func (t *Tracker) HasActiveApps() bool {
	return len(t.tracked) > 0
}

// Close releases every subscription held by the tracker.
func (t *Tracker) Close() {
	if t.created != nil {
		t.created.Close()
		t.created = nil
	}
	for w, sub := range t.tracked {
		if sub != nil {
			sub.Close()
		}
		delete(t.tracked, w)
	}
	t.onChange = nil
}

func (t *Tracker) update(w Window) {
	id, ok := t.source.AppID(w)
	_, isPerf := t.apps[id]
	isPerf = ok && isPerf

	sub, tracked := t.tracked[w]
	switch {
	case isPerf && !tracked:
		// The source may report the window closed before registration returns.
		t.tracked[w] = nil
		sub := t.source.OnWindowClosed(w, t.onWindowClosed)
		if _, ok := t.tracked[w]; !ok {
			sub.Close()
			t.log.Debug().Str("app", id).Str("window", w.Title()).Msg("Window closed before tracking")
			return
		}
		t.tracked[w] = sub
		t.log.Debug().Str("app", id).Str("window", w.Title()).Msg("Tracking window")
	case !isPerf && tracked:
		sub.Close()
		delete(t.tracked, w)
		t.log.Debug().Str("window", w.Title()).Msg("Stopped tracking window")
	}
}

func (t *Tracker) onWindowClosed(w Window) {
	sub, ok := t.tracked[w]
	if !ok {
		return
	}
	if sub == nil {
		delete(t.tracked, w)
		return
	}

	wasActive := t.HasActiveApps()
	sub.Close()
	delete(t.tracked, w)
	t.notify(wasActive)
}

func (t *Tracker) notify(wasActive bool) {
	active := t.HasActiveApps()
	if active == wasActive || t.onChange == nil {
		return
	}
	t.log.Debug().Bool("active", active).Msg("Performance application activity changed")
	t.onChange(active)
}
