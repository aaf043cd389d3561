// Package portal implements the client side of the XDG desktop portal
// remote-desktop protocol: a session bus connection with a request
// correlator that folds the portal's call-then-signal exchanges into
// blocking calls with fixed deadlines, and a session state machine
// that drives consent negotiation, input event notification, and
// screen-cast stream setup on top of it.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/JonyBepary/Open-ALO/internal/clock"
)

const (
	portalBusName    = "org.freedesktop.portal.Desktop"
	portalObjectPath = dbus.ObjectPath("/org/freedesktop/portal/desktop")

	ifaceRemoteDesktop = "org.freedesktop.portal.RemoteDesktop"
	ifaceScreenCast    = "org.freedesktop.portal.ScreenCast"
	ifaceRequest       = "org.freedesktop.portal.Request"
	ifaceSession       = "org.freedesktop.portal.Session"

	memberResponse = "Response"

	// Request objects live under this prefix, keyed by the caller's
	// mangled unique name and the handle token sent with the call.
	requestPathPrefix = "/org/freedesktop/portal/desktop/request/"
)

// Sentinel errors surfaced by the engine. Callers classify with
// errors.Is; the facade maps them onto the public error kinds.
var (
	// ErrDenied reports an explicit user decline (response code 1).
	ErrDenied = errors.New("portal: request declined by user")

	// ErrCancelled reports a non-decline failure response (code 2 or
	// any other nonzero code).
	ErrCancelled = errors.New("portal: request cancelled")

	// ErrTimeout reports that no completion signal arrived within the
	// operation's deadline.
	ErrTimeout = errors.New("portal: request timed out")

	// ErrClosed reports use of a closed connection.
	ErrClosed = errors.New("portal: connection closed")

	// ErrInactive reports an operation that requires an active session.
	ErrInactive = errors.New("portal: session not active")
)

// Bus is the slice of the D-Bus connection the engine uses. *dbus.Conn
// satisfies it; tests substitute a scripted fake.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Names() []string
	Close() error
}

// Conn owns one session bus connection, the Response dispatch
// goroutine, and the set of in-flight request waiters.
type Conn struct {
	bus     Bus
	clk     clock.Clock
	sender  string
	signals chan *dbus.Signal
	done    chan struct{}

	correlator
}

// Dial connects a private session bus connection and wires the
// Response dispatcher. The caller owns the Conn and must Close it.
func Dial(clk clock.Clock) (*Conn, error) {
	bus, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("portal: connect session bus: %w", err)
	}
	if err := bus.Auth(nil); err != nil {
		bus.Close()
		return nil, fmt.Errorf("portal: authenticate: %w", err)
	}
	if err := bus.Hello(); err != nil {
		bus.Close()
		return nil, fmt.Errorf("portal: hello: %w", err)
	}
	return newConn(bus, clk)
}

// newConn wraps an established bus connection. Split from Dial so
// tests can supply a fake Bus.
func newConn(bus Bus, clk clock.Clock) (*Conn, error) {
	names := bus.Names()
	if len(names) == 0 {
		bus.Close()
		return nil, errors.New("portal: bus connection has no unique name")
	}

	c := &Conn{
		bus:     bus,
		clk:     clk,
		sender:  mangleSender(names[0]),
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
	}
	c.correlator.init()

	bus.Signal(c.signals)
	go c.dispatch()

	slog.Debug("portal: connected", "sender", c.sender)
	return c, nil
}

// Close tears down the dispatcher and the bus connection. Pending
// requests fail with ErrClosed. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	// RemoveSignal guarantees no further sends on c.signals, so the
	// dispatcher drains and exits on the close below.
	c.bus.RemoveSignal(c.signals)
	close(c.signals)
	if err := c.bus.Close(); err != nil {
		slog.Debug("portal: bus close failed", "error", err)
	}
}

// dispatch routes Response signals to the waiter registered for the
// signal's request path. Signals with no waiter (late completions,
// foreign paths) are dropped.
func (c *Conn) dispatch() {
	for sig := range c.signals {
		if sig.Name != ifaceRequest+"."+memberResponse {
			continue
		}
		w := c.takeWaiter(sig.Path)
		if w == nil {
			slog.Debug("portal: dropping unmatched response", "path", sig.Path)
			continue
		}
		resp, err := parseResponse(sig.Body)
		if err != nil {
			slog.Warn("portal: malformed response signal", "path", sig.Path, "error", err)
			resp = response{err: err}
		}
		w.ch <- resp
	}
}

// call performs a plain method call against the portal object and
// discards the reply body. Used for the Notify* event methods, which
// complete synchronously without a Request object.
func (c *Conn) call(ctx context.Context, iface, method string, args ...interface{}) error {
	obj := c.bus.Object(portalBusName, portalObjectPath)
	if call := obj.CallWithContext(ctx, iface+"."+method, 0, args...); call.Err != nil {
		return fmt.Errorf("portal: %s: %w", method, call.Err)
	}
	return nil
}

// closeSession issues Session.Close on the session handle path.
// Best-effort: failures are logged, never returned.
func (c *Conn) closeSession(handle dbus.ObjectPath) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	obj := c.bus.Object(portalBusName, handle)
	if call := obj.CallWithContext(ctx, ifaceSession+".Close", 0); call.Err != nil {
		slog.Debug("portal: session close failed", "handle", handle, "error", call.Err)
	}
}

// Available reports whether the portal service answers on the session
// bus. Uses the process-shared connection; the probe is bounded by a
// one second deadline.
func Available(ctx context.Context) bool {
	bus, err := dbus.SessionBus()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	var xml string
	obj := bus.Object(portalBusName, portalObjectPath)
	err = obj.CallWithContext(ctx, "org.freedesktop.DBus.Introspectable.Introspect", 0).Store(&xml)
	return err == nil
}

// mangleSender turns a unique bus name into the element the portal
// uses in request paths: strip the leading colon, dots become
// underscores (":1.42" -> "1_42").
func mangleSender(unique string) string {
	return strings.ReplaceAll(strings.TrimPrefix(unique, ":"), ".", "_")
}
