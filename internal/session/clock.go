package session

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
