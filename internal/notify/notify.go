// Package notify shows desktop notifications through
// org.freedesktop.Notifications on the session bus.
package notify

import (
	"sync"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	method     = busName + ".Notify"

	DefaultAppName = "Auto Power Profiles"
	defaultIcon    = "dialog-warning-symbolic"

	urgencyNormal = byte(1)
	expireDefault = int32(-1)

	ErrNotify = errors.ErrorCode("notify_failed")
)

// Option configures a Notifier.
type Option func(*Notifier)

// WithObject sends notifications to obj instead of the session bus
// notification daemon.
func WithObject(obj dbus.BusObject) Option {
	return func(n *Notifier) { n.obj = obj }
}

// WithAppName sets the application name shown with each notification.
func WithAppName(name string) Option {
	return func(n *Notifier) { n.appName = name }
}

// Notifier sends notifications. A later notification of the same kind
// replaces the earlier one on screen. It is safe for concurrent use.
type Notifier struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string
	ids     map[string]uint32
	log     logger.Logger
}

// New returns a Notifier. The session bus is connected on first use.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		appName: DefaultAppName,
		ids:     make(map[string]uint32),
		log:     logger.Component("notify"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify shows summary and body, replacing the previous notification of the
// same kind.
func (n *Notifier) Notify(kind, summary, body string) error {
	errFactory := errors.New()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.obj == nil {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return errFactory.Wrap(ErrNotify, err)
		}
		n.conn = conn
		n.obj = conn.Object(busName, objectPath)
	}

	hints := map[string]dbus.Variant{
		"urgency":        dbus.MakeVariant(urgencyNormal),
		"x-autoprofiled": dbus.MakeVariant(kind),
	}

	var id uint32
	err := n.obj.Call(method, 0,
		n.appName, n.ids[kind], defaultIcon, summary, body,
		[]string{}, hints, expireDefault,
	).Store(&id)
	if err != nil {
		return errFactory.Wrap(ErrNotify, err)
	}
	n.ids[kind] = id

	n.log.Debug().Str("kind", kind).Uint32("id", id).Msg("Notification sent")
	return nil
}

// Close releases the session bus connection.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn, n.obj = nil, nil
	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}
