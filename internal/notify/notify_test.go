package notify_test

import (
	"testing"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/notify"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	args   []interface{}
}

type fakeObject struct {
	dbus.BusObject
	calls  []call
	nextID uint32
	err    error
}

func (o *fakeObject) Call(method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	o.calls = append(o.calls, call{method, args})
	if o.err != nil {
		return &dbus.Call{Err: o.err}
	}
	o.nextID++
	return &dbus.Call{Body: []interface{}{o.nextID}}
}

func TestNotify(t *testing.T) {
	obj := &fakeObject{}
	n := notify.New(notify.WithObject(obj), notify.WithAppName("test"))

	require.NoError(t, n.Notify("service-unavailable", "Summary", "Body"))
	require.Len(t, obj.calls, 1)

	c := obj.calls[0]
	assert.Equal(t, "org.freedesktop.Notifications.Notify", c.method)
	require.Len(t, c.args, 8)
	assert.Equal(t, "test", c.args[0])
	assert.Equal(t, uint32(0), c.args[1])
	assert.Equal(t, "Summary", c.args[3])
	assert.Equal(t, "Body", c.args[4])
	assert.Equal(t, int32(-1), c.args[7])
}

func TestNotifyReplacesSameKind(t *testing.T) {
	obj := &fakeObject{}
	n := notify.New(notify.WithObject(obj))

	require.NoError(t, n.Notify("a", "first", ""))
	require.NoError(t, n.Notify("b", "other", ""))
	require.NoError(t, n.Notify("a", "second", ""))

	require.Len(t, obj.calls, 3)
	assert.Equal(t, uint32(0), obj.calls[1].args[1])
	assert.Equal(t, uint32(1), obj.calls[2].args[1], "replaces the first notification of kind a")
}

func TestNotifyError(t *testing.T) {
	obj := &fakeObject{err: assert.AnError}
	n := notify.New(notify.WithObject(obj))

	err := n.Notify("a", "summary", "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, notify.ErrNotify))
	assert.NoError(t, n.Close())
}
