// Package procwatch reports running processes as windows so performance
// applications can be tracked without a compositor. Each process is one
// window, identified by its pid and start time; its application id is the
// base name of its executable, or its command name when the executable is
// not readable.
package procwatch

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/apptracker"
	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"github.com/prometheus/procfs"
)

const (
	DefaultRoot     = procfs.DefaultMountPoint
	DefaultInterval = 2 * time.Second

	ErrScanFailed = errors.ErrorCode("procwatch_scan_failed")
)

// Process is a running process. It implements apptracker.Window.
type Process struct {
	PID   int
	Start uint64
	Comm  string
}

func (p Process) Title() string {
	return p.Comm + "[" + strconv.Itoa(p.PID) + "]"
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithRoot reads processes from root instead of /proc.
func WithRoot(root string) Option {
	return func(w *Watcher) { w.root = root }
}

// WithInterval sets the scan interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

// Watcher polls the process table. It is safe for concurrent use; events
// are delivered on the scanning goroutine.
type Watcher struct {
	root     string
	interval time.Duration

	mu      sync.RWMutex
	procs   map[Process]string
	created *event.Hub[apptracker.Window]
	closed  map[Process]*event.Hub[apptracker.Window]

	log logger.Logger
}

// New returns a Watcher. Nothing is read until Scan or Run.
func New(opts ...Option) *Watcher {
	w := &Watcher{
		root:     DefaultRoot,
		interval: DefaultInterval,
		procs:    make(map[Process]string),
		created:  event.NewHub[apptracker.Window](),
		closed:   make(map[Process]*event.Hub[apptracker.Window]),
		log:      logger.Component("procwatch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Windows returns every process seen by the last scan.
func (w *Watcher) Windows() []apptracker.Window {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]apptracker.Window, 0, len(w.procs))
	for p := range w.procs {
		out = append(out, p)
	}
	return out
}

// AppID returns the application id of a process seen by the last scan.
func (w *Watcher) AppID(win apptracker.Window) (string, bool) {
	p, ok := win.(Process)
	if !ok {
		return "", false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	id, ok := w.procs[p]
	return id, ok && id != ""
}

// OnWindowCreated registers fn for processes started after the last scan.
func (w *Watcher) OnWindowCreated(fn func(apptracker.Window)) event.Subscription {
	return w.created.Subscribe(fn)
}

// OnWindowClosed registers fn to run when win exits. fn runs immediately
// when win is already gone.
func (w *Watcher) OnWindowClosed(win apptracker.Window, fn func(apptracker.Window)) event.Subscription {
	p, ok := win.(Process)
	if !ok {
		return event.Nop
	}

	w.mu.Lock()
	if _, running := w.procs[p]; !running {
		w.mu.Unlock()
		fn(p)
		return event.Nop
	}
	h, ok := w.closed[p]
	if !ok {
		h = event.NewHub[apptracker.Window]()
		w.closed[p] = h
	}
	w.mu.Unlock()

	return h.Subscribe(fn)
}

// Run scans until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Scan(); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Scan(); err != nil {
				w.log.Warn().Err(err).Msg("Process scan failed")
			}
		}
	}
}

// Scan reads the process table and emits created and closed events for the
// difference to the previous scan.
func (w *Watcher) Scan() error {
	errFactory := errors.New()

	fs, err := procfs.NewFS(w.root)
	if err != nil {
		return errFactory.Wrap(ErrScanFailed, err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return errFactory.Wrap(ErrScanFailed, err)
	}

	current := make(map[Process]string, len(procs))
	for _, proc := range procs {
		p, id, ok := w.read(proc)
		if ok {
			current[p] = id
		}
	}

	w.mu.Lock()
	var started, exited []Process
	for p := range current {
		if _, ok := w.procs[p]; !ok {
			started = append(started, p)
		}
	}
	exitHubs := make(map[Process]*event.Hub[apptracker.Window])
	for p := range w.procs {
		if _, ok := current[p]; !ok {
			exited = append(exited, p)
			if h, ok := w.closed[p]; ok {
				exitHubs[p] = h
				delete(w.closed, p)
			}
		}
	}
	w.procs = current
	w.mu.Unlock()

	for _, p := range exited {
		exitHubs[p].Publish(p)
	}
	for _, p := range started {
		w.created.Publish(p)
	}

	if len(started) > 0 || len(exited) > 0 {
		w.log.Debug().
			Int("started", len(started)).
			Int("exited", len(exited)).
			Int("running", len(current)).
			Msg("Process table changed")
	}

	return nil
}

// read returns the identity and application id of proc. ok is false when
// the process vanished or its stat file is malformed.
func (w *Watcher) read(proc procfs.Proc) (Process, string, bool) {
	stat, err := proc.Stat()
	if err != nil {
		return Process{}, "", false
	}

	p := Process{PID: proc.PID, Start: stat.Starttime, Comm: stat.Comm}

	id := stat.Comm
	if exe, err := proc.Executable(); err == nil && exe != "" {
		// Replaced binaries are reported as "<path> (deleted)".
		exe = strings.TrimSuffix(exe, " (deleted)")
		if base := filepath.Base(exe); base != "." && base != "/" {
			id = base
		}
	}

	return p, id, true
}
