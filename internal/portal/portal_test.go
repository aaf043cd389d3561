package portal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonyBepary/Open-ALO/internal/clock"
)

const fakeSender = "1_42"

// fakeBus scripts the broker side of the protocol. Handlers are keyed
// by full method name; a handler receives the call and may emit the
// matching Response signal before the method reply is even returned,
// which is exactly the race the correlator has to survive.
type fakeBus struct {
	mu       sync.Mutex
	signals  chan<- *dbus.Signal
	handlers map[string]func(path dbus.ObjectPath, args []interface{}) *dbus.Call
	calls    []string
	matches  map[string]int
	removed  map[string]int
	closed   bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		handlers: make(map[string]func(dbus.ObjectPath, []interface{}) *dbus.Call),
		matches:  make(map[string]int),
		removed:  make(map[string]int),
	}
}

func (f *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: f, dest: dest, path: path}
}

func (f *fakeBus) Signal(ch chan<- *dbus.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = ch
}

func (f *fakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = nil
}

func (f *fakeBus) AddMatchSignal(options ...dbus.MatchOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[fmt.Sprint(options)]++
	return nil
}

func (f *fakeBus) RemoveMatchSignal(options ...dbus.MatchOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[fmt.Sprint(options)]++
	return nil
}

func (f *fakeBus) Names() []string { return []string{":1.42"} }

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// handle registers a scripted reply for a full method name, e.g.
// "org.freedesktop.portal.RemoteDesktop.CreateSession".
func (f *fakeBus) handle(method string, h func(path dbus.ObjectPath, args []interface{}) *dbus.Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

// respondTo scripts the usual request round-trip: reply with the
// predicted request path, then emit a Response signal carrying code
// and results on that path.
func (f *fakeBus) respondTo(method string, code uint32, results map[string]dbus.Variant) {
	f.handle(method, func(path dbus.ObjectPath, args []interface{}) *dbus.Call {
		reqPath := requestPathFor(findOptions(args))
		f.emit(reqPath, code, results)
		return &dbus.Call{Body: []interface{}{reqPath}}
	})
}

// replyOnly scripts a reply with the predicted request path and no
// Response signal, leaving the request to its deadline.
func (f *fakeBus) replyOnly(method string) {
	f.handle(method, func(path dbus.ObjectPath, args []interface{}) *dbus.Call {
		return &dbus.Call{Body: []interface{}{requestPathFor(findOptions(args))}}
	})
}

// emit delivers a Response signal for the given request path.
func (f *fakeBus) emit(path dbus.ObjectPath, code uint32, results map[string]dbus.Variant) {
	if results == nil {
		results = map[string]dbus.Variant{}
	}
	f.mu.Lock()
	ch := f.signals
	f.mu.Unlock()
	if ch == nil {
		return
	}
	ch <- &dbus.Signal{
		Sender: portalBusName,
		Path:   path,
		Name:   ifaceRequest + "." + memberResponse,
		Body:   []interface{}{code, results},
	}
}

func (f *fakeBus) dispatchCall(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	h := f.handlers[method]
	f.mu.Unlock()

	if h != nil {
		return h(path, args)
	}
	if method == ifaceSession+".Close" {
		return &dbus.Call{}
	}
	return &dbus.Call{Err: fmt.Errorf("unscripted method %s on %s", method, path)}
}

func (f *fakeBus) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeObject struct {
	bus  *fakeBus
	dest string
	path dbus.ObjectPath
}

func (o *fakeObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.bus.dispatchCall(o.path, method, args)
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.bus.dispatchCall(o.path, method, args)
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

func (o *fakeObject) Destination() string   { return o.dest }
func (o *fakeObject) Path() dbus.ObjectPath { return o.path }

// findOptions pulls the a{sv} options argument out of a call's args.
func findOptions(args []interface{}) map[string]dbus.Variant {
	for _, a := range args {
		if m, ok := a.(map[string]dbus.Variant); ok {
			return m
		}
	}
	return nil
}

// requestPathFor predicts the request path for the handle token inside
// an options map, the same way the portal side does.
func requestPathFor(options map[string]dbus.Variant) dbus.ObjectPath {
	token, _ := options["handle_token"].Value().(string)
	return dbus.ObjectPath(requestPathPrefix + fakeSender + "/" + token)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within 2s")
}

func testConn(t *testing.T, bus *fakeBus, clk clock.Clock) *Conn {
	t.Helper()
	c, err := newConn(bus, clk)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestRequestRoundTrip(t *testing.T) {
	bus := newFakeBus()
	bus.respondTo(ifaceRemoteDesktop+".CreateSession", respSuccess, map[string]dbus.Variant{
		"session_handle": dbus.MakeVariant("/org/freedesktop/portal/desktop/session/1_42/alo_1"),
	})
	c := testConn(t, bus, clock.Fake(time.Unix(1000, 0)))

	token := newToken("req")
	results, err := c.request(context.Background(), ifaceRemoteDesktop, "CreateSession", createSessionTimeout, token,
		map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
	require.NoError(t, err)
	assert.Contains(t, results, "session_handle")
}

func TestRequestSignalBeforeReply(t *testing.T) {
	// The fake emits the Response while the method call is still in
	// flight. The waiter is registered before the call goes out, so
	// the early signal must still fulfill the request.
	bus := newFakeBus()
	bus.respondTo(ifaceRemoteDesktop+".SelectDevices", respSuccess, nil)
	c := testConn(t, bus, clock.Fake(time.Unix(1000, 0)))

	token := newToken("dev")
	_, err := c.request(context.Background(), ifaceRemoteDesktop, "SelectDevices", selectDevicesTimeout, token,
		dbus.ObjectPath("/session"), map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
	require.NoError(t, err)
}

func TestRequestDeclined(t *testing.T) {
	bus := newFakeBus()
	bus.respondTo(ifaceRemoteDesktop+".SelectDevices", respDeclined, nil)
	c := testConn(t, bus, clock.Fake(time.Unix(1000, 0)))

	token := newToken("dev")
	_, err := c.request(context.Background(), ifaceRemoteDesktop, "SelectDevices", selectDevicesTimeout, token,
		dbus.ObjectPath("/session"), map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestRequestCancelledCode(t *testing.T) {
	bus := newFakeBus()
	bus.respondTo(ifaceRemoteDesktop+".Start", 2, nil)
	c := testConn(t, bus, clock.Fake(time.Unix(1000, 0)))

	token := newToken("start")
	_, err := c.request(context.Background(), ifaceRemoteDesktop, "Start", startTimeout, token,
		dbus.ObjectPath("/session"), "", map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestRequestTimesOutAtDeadline(t *testing.T) {
	bus := newFakeBus()
	bus.replyOnly(ifaceRemoteDesktop + ".Start")
	clk := clock.Fake(time.Unix(1000, 0))
	c := testConn(t, bus, clk)

	token := newToken("start")
	errc := make(chan error, 1)
	go func() {
		_, err := c.request(context.Background(), ifaceRemoteDesktop, "Start", startTimeout, token,
			dbus.ObjectPath("/session"), "", map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
		errc <- err
	}()

	clk.WaitForTimers(1)
	select {
	case err := <-errc:
		t.Fatalf("request returned before deadline: %v", err)
	default:
	}

	clk.Advance(startTimeout)
	err := <-errc
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLateResponseIsDropped(t *testing.T) {
	bus := newFakeBus()
	bus.replyOnly(ifaceRemoteDesktop + ".CreateSession")
	clk := clock.Fake(time.Unix(1000, 0))
	c := testConn(t, bus, clk)

	token := newToken("req")
	errc := make(chan error, 1)
	go func() {
		_, err := c.request(context.Background(), ifaceRemoteDesktop, "CreateSession", createSessionTimeout, token,
			map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
		errc <- err
	}()

	clk.WaitForTimers(1)
	clk.Advance(createSessionTimeout)
	require.ErrorIs(t, <-errc, ErrTimeout)

	// The completion shows up after the deadline already fired. It
	// must find no waiter and change nothing.
	late := dbus.ObjectPath(requestPathPrefix + fakeSender + "/" + token)
	bus.emit(late, respSuccess, nil)

	// The connection still serves fresh requests.
	bus.respondTo(ifaceRemoteDesktop+".CreateSession", respSuccess, nil)
	token2 := newToken("req")
	_, err := c.request(context.Background(), ifaceRemoteDesktop, "CreateSession", createSessionTimeout, token2,
		map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token2)})
	require.NoError(t, err)
}

func TestRequestRekeysToReturnedPath(t *testing.T) {
	// An older portal ignores the handle token and allocates its own
	// request path. The reply carries the real path; the waiter must
	// follow it there.
	bus := newFakeBus()
	actual := dbus.ObjectPath(requestPathPrefix + fakeSender + "/portal_chose_this")
	bus.handle(ifaceRemoteDesktop+".CreateSession", func(path dbus.ObjectPath, args []interface{}) *dbus.Call {
		return &dbus.Call{Body: []interface{}{actual}}
	})
	c := testConn(t, bus, clock.Fake(time.Unix(1000, 0)))

	token := newToken("req")
	errc := make(chan error, 1)
	go func() {
		_, err := c.request(context.Background(), ifaceRemoteDesktop, "CreateSession", createSessionTimeout, token,
			map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
		errc <- err
	}()

	waitFor(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, ok := c.waiters[actual]
		return ok
	})
	bus.emit(actual, respSuccess, nil)
	require.NoError(t, <-errc)
}

func TestRequestFailsWhenConnCloses(t *testing.T) {
	bus := newFakeBus()
	bus.replyOnly(ifaceRemoteDesktop + ".Start")
	clk := clock.Fake(time.Unix(1000, 0))
	c := testConn(t, bus, clk)

	token := newToken("start")
	errc := make(chan error, 1)
	go func() {
		_, err := c.request(context.Background(), ifaceRemoteDesktop, "Start", startTimeout, token,
			dbus.ObjectPath("/session"), "", map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
		errc <- err
	}()

	clk.WaitForTimers(1)
	c.Close()
	require.ErrorIs(t, <-errc, ErrClosed)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	bus := newFakeBus()
	c := testConn(t, bus, clock.Fake(time.Unix(1000, 0)))
	c.Close()
	c.Close()
	assert.True(t, bus.closed)
}

func TestMalformedResponseSurfaces(t *testing.T) {
	bus := newFakeBus()
	bus.handle(ifaceRemoteDesktop+".CreateSession", func(path dbus.ObjectPath, args []interface{}) *dbus.Call {
		reqPath := requestPathFor(findOptions(args))
		bus.mu.Lock()
		ch := bus.signals
		bus.mu.Unlock()
		ch <- &dbus.Signal{
			Sender: portalBusName,
			Path:   reqPath,
			Name:   ifaceRequest + "." + memberResponse,
			Body:   []interface{}{"not-a-code"},
		}
		return &dbus.Call{Body: []interface{}{reqPath}}
	})
	c := testConn(t, bus, clock.Fake(time.Unix(1000, 0)))

	token := newToken("req")
	_, err := c.request(context.Background(), ifaceRemoteDesktop, "CreateSession", createSessionTimeout, token,
		map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response body")
}

func TestMangleSender(t *testing.T) {
	tests := []struct {
		unique string
		want   string
	}{
		{":1.42", "1_42"},
		{":1.0", "1_0"},
		{":2.153", "2_153"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mangleSender(tt.unique))
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    []interface{}
		wantErr bool
	}{
		{"valid", []interface{}{uint32(0), map[string]dbus.Variant{}}, false},
		{"short body", []interface{}{uint32(0)}, true},
		{"bad code type", []interface{}{int32(0), map[string]dbus.Variant{}}, true},
		{"bad results type", []interface{}{uint32(0), "nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseResponse(tt.body)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
