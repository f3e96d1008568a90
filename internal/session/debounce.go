package session

import "time"

// DefaultDebounceDelay is how long a lap-detected signal must persist before
// the profile decision is reopened.
const DefaultDebounceDelay = 5 * time.Second

// debouncer holds at most one pending lap-detected timer. It is driven from
// the session loop; expiry is posted back into the loop.
type debouncer struct {
	clock Clock
	delay time.Duration
	post  func(func())
	fire  func()

	timer Timer
	gen   uint64
}

// start cancels any pending timer and schedules a fresh one.
func (d *debouncer) start() {
	d.cancel()

	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.post(func() {
			// A timer stopped after it already fired must not act.
			if d.timer == nil || d.gen != gen {
				return
			}
			d.timer = nil
			d.gen++
			d.fire()
		})
	})
}

func (d *debouncer) cancel() {
	if d.timer == nil {
		return
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
}

func (d *debouncer) pending() bool {
	return d.timer != nil
}
