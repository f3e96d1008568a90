// Package transition gates profile switch requests.
//
// The Engine remembers the profile it last asked for and whether the system
// confirmed it. A new request is only allowed when a condition axis changed
// or nothing is committed, so a profile the user picked by hand survives
// until the power situation actually changes. An observed profile that the
// engine did not ask for is classified as a user change.
package transition

import "codeberg.org/mutker/autoprofiled/internal/power"

// UserChangeFunc receives a profile the user selected out of band together
// with the conditions it was selected under.
type UserChangeFunc func(profile string, axes power.Axes)

// Engine is the profile transition state machine. It is not safe for
// concurrent use; the session drives it from a single goroutine.
type Engine struct {
	effective string
	requested string
	committed string

	axes    power.Axes
	hasAxes bool

	onUserChange UserChangeFunc
}

// NewEngine returns an empty engine. onUserChange may be nil.
func NewEngine(onUserChange UserChangeFunc) *Engine {
	return &Engine{onUserChange: onUserChange}
}

// Report records the profile observed as active and the conditions at the
// time of the observation. An empty profile means the controller is gone and
// resets the engine.
func (e *Engine) Report(effective string, axes power.Axes) {
	if effective == "" {
		e.Reset()
		return
	}

	previous := e.effective
	e.effective = effective
	e.axes = axes
	e.hasAxes = true

	if e.requested != "" && e.committed == "" && effective == e.requested {
		e.committed = effective
		return
	}

	// The first observation after a reset only seeds the history.
	if previous == "" || previous == effective {
		return
	}

	// Adopt the user's choice so the next unrelated signal does not revert it.
	e.requested = effective
	e.committed = effective

	if axes.LowBattery || axes.PerfApps {
		return
	}
	if e.onUserChange != nil {
		e.onUserChange(effective, axes)
	}
}

// Request asks whether configured may be applied under axes. When it returns
// true the caller should switch to configured unless NeedsWrite reports
// otherwise.
func (e *Engine) Request(configured string, axes power.Axes) bool {
	allowed := !e.hasAxes || e.axes != axes || e.committed == ""
	if !allowed {
		return false
	}

	e.requested = configured
	e.committed = ""
	e.axes = axes
	e.hasAxes = true

	// Already active: no signal will confirm it, so commit now.
	if configured != "" && configured == e.effective {
		e.committed = configured
	}

	return true
}

// NeedsWrite reports whether the outstanding request still has to be sent to
// the controller.
func (e *Engine) NeedsWrite() bool {
	return e.requested != "" && e.committed == ""
}

// Reset clears all history, forcing the next Request to be allowed.
func (e *Engine) Reset() {
	e.effective = ""
	e.requested = ""
	e.committed = ""
	e.axes = power.Axes{}
	e.hasAxes = false
}

// Effective returns the last observed active profile.
func (e *Engine) Effective() string { return e.effective }

// Requested returns the profile most recently requested.
func (e *Engine) Requested() string { return e.requested }

// Committed returns the confirmed profile, empty while unconfirmed.
func (e *Engine) Committed() string { return e.committed }

// Axes returns the last recorded condition axes.
func (e *Engine) Axes() power.Axes { return e.axes }
