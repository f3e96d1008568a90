package apptracker

import "codeberg.org/mutker/autoprofiled/internal/event"

// Window is an application window, or anything standing in for one. Values
// must be comparable; they are used as map keys.
type Window interface {
	Title() string
}

// WindowSource reports application windows and their lifecycle.
type WindowSource interface {
	// Windows returns every currently open window
	Windows() []Window

	// AppID resolves the application owning w. ok is false when the owner
	// cannot be resolved.
	AppID(w Window) (id string, ok bool)

	// OnWindowCreated registers fn for windows opened from now on
	OnWindowCreated(fn func(Window)) event.Subscription

	// OnWindowClosed registers fn to run once when w closes
	OnWindowClosed(w Window, fn func(Window)) event.Subscription
}
