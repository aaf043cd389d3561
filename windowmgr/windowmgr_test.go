package windowmgr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openalo "github.com/JonyBepary/Open-ALO"
)

type recordedCall struct {
	method string
	args   []interface{}
}

// fakeObject scripts extension replies per short method name. Methods
// without a script succeed with an empty body.
type fakeObject struct {
	mu      sync.Mutex
	replies map[string]*dbus.Call
	calls   []recordedCall
}

func newFakeObject() *fakeObject {
	return &fakeObject{replies: make(map[string]*dbus.Call)}
}

func (o *fakeObject) reply(method string, body ...interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies[method] = &dbus.Call{Body: body}
}

func (o *fakeObject) fail(method string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies[method] = &dbus.Call{Err: err}
}

func (o *fakeObject) recorded() []recordedCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]recordedCall(nil), o.calls...)
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, recordedCall{method: method, args: args})

	short := method[strings.LastIndex(method, ".")+1:]
	if call, ok := o.replies[short]; ok {
		return call
	}
	return &dbus.Call{}
}

func (o *fakeObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func (o *fakeObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	panic("fakeObject: Go not scripted")
}

func (o *fakeObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	panic("fakeObject: GoWithContext not scripted")
}

func (o *fakeObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	panic("fakeObject: AddMatchSignal not scripted")
}

func (o *fakeObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	panic("fakeObject: RemoveMatchSignal not scripted")
}

func (o *fakeObject) GetProperty(p string) (dbus.Variant, error) {
	panic("fakeObject: GetProperty not scripted")
}

func (o *fakeObject) StoreProperty(p string, value interface{}) error {
	panic("fakeObject: StoreProperty not scripted")
}

func (o *fakeObject) SetProperty(p string, v interface{}) error {
	panic("fakeObject: SetProperty not scripted")
}

func (o *fakeObject) Destination() string   { return busName }
func (o *fakeObject) Path() dbus.ObjectPath { return objectPath }

func testManager(obj *fakeObject) *Manager {
	return &Manager{obj: obj, timeout: time.Second}
}

const listPayload = `[
	{"id": 101, "wm_class": "org.gnome.TextEditor", "wm_class_instance": "org.gnome.TextEditor",
	 "title": "readme.md", "pid": 4242, "window_type": 0,
	 "focus": true, "in_current_workspace": true},
	{"id": 202, "wm_class": "gnome-terminal-server", "wm_class_instance": "gnome-terminal-server",
	 "title": "vim editor.go", "pid": 4300, "window_type": 0,
	 "focus": false, "in_current_workspace": false}
]`

func TestListDecodesWindows(t *testing.T) {
	obj := newFakeObject()
	obj.reply("List", listPayload)
	m := testManager(obj)

	wins, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, wins, 2)

	assert.Equal(t, uint32(101), wins[0].ID)
	assert.Equal(t, "org.gnome.TextEditor", wins[0].WMClass)
	assert.Equal(t, "readme.md", wins[0].Title)
	assert.Equal(t, 4242, wins[0].PID)
	assert.Equal(t, TypeNormal, wins[0].WindowType)
	assert.True(t, wins[0].Focus)
	assert.True(t, wins[0].InCurrentWorkspace)
	assert.False(t, wins[1].Focus)
}

func TestListCurrentWorkspace(t *testing.T) {
	obj := newFakeObject()
	obj.reply("List", listPayload)
	m := testManager(obj)

	wins, err := m.ListCurrentWorkspace(context.Background())
	require.NoError(t, err)
	require.Len(t, wins, 1)
	assert.Equal(t, uint32(101), wins[0].ID)
}

func TestFindPrefersClassMatch(t *testing.T) {
	obj := newFakeObject()
	obj.reply("List", listPayload)
	m := testManager(obj)

	// "editor" appears in window 202's title but in window 101's
	// class; the class match must win regardless of list order.
	w, ok, err := m.Find(context.Background(), "editor")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(101), w.ID)
}

func TestFindFallsBackToTitle(t *testing.T) {
	obj := newFakeObject()
	obj.reply("List", listPayload)
	m := testManager(obj)

	w, ok, err := m.Find(context.Background(), "vim")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(202), w.ID)
}

func TestFindMissing(t *testing.T) {
	obj := newFakeObject()
	obj.reply("List", listPayload)
	m := testManager(obj)

	_, ok, err := m.Find(context.Background(), "spreadsheet")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindAll(t *testing.T) {
	obj := newFakeObject()
	obj.reply("List", listPayload)
	m := testManager(obj)

	wins, err := m.FindAll(context.Background(), "editor")
	require.NoError(t, err)
	assert.Len(t, wins, 2)
}

func TestFocused(t *testing.T) {
	obj := newFakeObject()
	obj.reply("List", listPayload)
	m := testManager(obj)

	w, ok, err := m.Focused(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(101), w.ID)
}

func TestDetailsDecodesGeometry(t *testing.T) {
	obj := newFakeObject()
	obj.reply("Details", `{"id": 101, "wm_class": "org.gnome.TextEditor",
		"x": 128, "y": 64, "width": 1200, "height": 800,
		"workspace": 2, "monitor": 1, "maximized": 3}`)
	m := testManager(obj)

	w, err := m.Details(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 128, w.X)
	assert.Equal(t, 64, w.Y)
	assert.Equal(t, 1200, w.Width)
	assert.Equal(t, 800, w.Height)
	assert.Equal(t, 2, w.Workspace)
	assert.Equal(t, 3, w.Maximized)

	calls := obj.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, iface+".Details", calls[0].method)
	assert.Equal(t, []interface{}{uint32(101)}, calls[0].args)
}

func TestTitle(t *testing.T) {
	obj := newFakeObject()
	obj.reply("GetTitle", "Mozilla Firefox")
	m := testManager(obj)

	title, err := m.Title(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, "Mozilla Firefox", title)
}

func TestCommandsSendTypedArguments(t *testing.T) {
	tests := []struct {
		name   string
		invoke func(m *Manager) error
		method string
		args   []interface{}
	}{
		{
			name:   "activate",
			invoke: func(m *Manager) error { return m.Activate(context.Background(), 7) },
			method: "Activate",
			args:   []interface{}{uint32(7)},
		},
		{
			name:   "maximize",
			invoke: func(m *Manager) error { return m.Maximize(context.Background(), 7) },
			method: "Maximize",
			args:   []interface{}{uint32(7)},
		},
		{
			name:   "minimize",
			invoke: func(m *Manager) error { return m.Minimize(context.Background(), 7) },
			method: "Minimize",
			args:   []interface{}{uint32(7)},
		},
		{
			name:   "unminimize",
			invoke: func(m *Manager) error { return m.Unminimize(context.Background(), 7) },
			method: "Unminimize",
			args:   []interface{}{uint32(7)},
		},
		{
			name:   "close",
			invoke: func(m *Manager) error { return m.CloseWindow(context.Background(), 7) },
			method: "Close",
			args:   []interface{}{uint32(7)},
		},
		{
			name:   "move",
			invoke: func(m *Manager) error { return m.Move(context.Background(), 7, -100, 50) },
			method: "Move",
			args:   []interface{}{uint32(7), int32(-100), int32(50)},
		},
		{
			name:   "resize",
			invoke: func(m *Manager) error { return m.Resize(context.Background(), 7, 800, 600) },
			method: "Resize",
			args:   []interface{}{uint32(7), uint32(800), uint32(600)},
		},
		{
			name:   "move resize",
			invoke: func(m *Manager) error { return m.MoveResize(context.Background(), 7, 10, 20, 800, 600) },
			method: "MoveResize",
			args:   []interface{}{uint32(7), int32(10), int32(20), uint32(800), uint32(600)},
		},
		{
			name:   "move to workspace",
			invoke: func(m *Manager) error { return m.MoveToWorkspace(context.Background(), 7, 2) },
			method: "MoveToWorkspace",
			args:   []interface{}{uint32(7), uint32(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := newFakeObject()
			m := testManager(obj)

			require.NoError(t, tt.invoke(m))

			calls := obj.recorded()
			require.Len(t, calls, 1)
			assert.Equal(t, iface+"."+tt.method, calls[0].method)
			assert.Equal(t, tt.args, calls[0].args)
		})
	}
}

func TestFrameRect(t *testing.T) {
	obj := newFakeObject()
	obj.reply("GetFrameRect", `{"x": 10, "y": 20, "width": 640, "height": 480}`)
	m := testManager(obj)

	r, err := m.FrameRect(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, openalo.Rect{X: 10, Y: 20, Width: 640, Height: 480}, r)
}

func TestFrameBounds(t *testing.T) {
	obj := newFakeObject()
	obj.reply("GetFrameBounds", `{"x": 0, "y": 0, "width": 1920, "height": 1080}`)
	m := testManager(obj)

	r, err := m.FrameBounds(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 1920, r.Width)
}

func TestCallFailureNamesMethod(t *testing.T) {
	cause := errors.New("no such interface")
	obj := newFakeObject()
	obj.fail("List", cause)
	m := testManager(obj)

	_, err := m.List(context.Background())
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "List")
}

func TestBadPayloadSurfaces(t *testing.T) {
	obj := newFakeObject()
	obj.reply("List", "not json at all")
	m := testManager(obj)

	_, err := m.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse payload")
}
