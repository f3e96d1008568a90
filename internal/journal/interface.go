package journal

import (
	"context"
	"time"
)

// Recorder is the transition journal used by the daemon.
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// Repository defines the interface for journal storage
type Repository interface {
	Record(entry *Entry) error
	Recent(n int) ([]Entry, error)
	Close() error
}

// Source tells who caused a transition.
type Source string

const (
	SourceAuto  Source = "auto"
	SourceUser  Source = "user"
	SourceReset Source = "reset"
)

func (s Source) IsValid() bool {
	switch s {
	case SourceAuto, SourceUser, SourceReset:
		return true
	default:
		return false
	}
}

// Entry is one recorded profile transition together with the conditions
// that were in effect.
type Entry struct {
	Timestamp  time.Time
	Profile    string
	Previous   string
	Source     Source
	OnBattery  bool
	LowBattery bool
	PerfApps   bool
}
