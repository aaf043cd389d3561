package portal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

// response is the decoded body of a Request.Response signal.
type response struct {
	code    uint32
	results map[string]dbus.Variant
	err     error
}

// Response codes defined by the portal protocol.
const (
	respSuccess  = 0
	respDeclined = 1
)

// waiter is a one-shot rendezvous for a single in-flight request. The
// channel has capacity one and receives at most once: the dispatcher
// removes the waiter from the registry before sending, so a signal
// arriving after deregistration (timeout, cancellation) finds no
// waiter and is dropped.
type waiter struct {
	path dbus.ObjectPath
	ch   chan response
}

// correlator is the registry of in-flight waiters, embedded in Conn.
type correlator struct {
	mu      sync.Mutex
	waiters map[dbus.ObjectPath]*waiter
	closed  bool
}

func (c *correlator) init() {
	c.waiters = make(map[dbus.ObjectPath]*waiter)
}

// takeWaiter removes and returns the waiter registered for path, or
// nil if none is registered.
func (c *correlator) takeWaiter(path dbus.ObjectPath) *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.waiters[path]
	if w != nil {
		delete(c.waiters, path)
	}
	return w
}

// newToken generates a handle token: a short unique string restricted
// to the characters valid in a D-Bus path element.
func newToken(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%x", prefix, id[:6])
}

// requestPath predicts the request object path the portal will use for
// a call carrying the given handle token.
func (c *Conn) requestPath(token string) dbus.ObjectPath {
	return dbus.ObjectPath(requestPathPrefix + c.sender + "/" + token)
}

func matchRequest(path dbus.ObjectPath) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(portalBusName),
		dbus.WithMatchInterface(ifaceRequest),
		dbus.WithMatchMember(memberResponse),
		dbus.WithMatchObjectPath(path),
	}
}

// addWaiter registers a waiter for path and subscribes to its Response
// signal. Registration happens before the outbound method call so a
// completion signal can never race ahead of the waiter.
func (c *Conn) addWaiter(path dbus.ObjectPath) (*waiter, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.waiters[path]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("portal: request already pending for %s", path)
	}
	w := &waiter{path: path, ch: make(chan response, 1)}
	c.waiters[path] = w
	c.mu.Unlock()

	if err := c.bus.AddMatchSignal(matchRequest(path)...); err != nil {
		c.removeWaiter(w)
		return nil, fmt.Errorf("portal: subscribe response signal: %w", err)
	}
	return w, nil
}

// rekeyWaiter moves a registered waiter to the request path the portal
// actually returned. Older portals do not use the predictable path
// scheme, so the path from the method reply is authoritative.
func (c *Conn) rekeyWaiter(w *waiter, actual dbus.ObjectPath) error {
	if err := c.bus.AddMatchSignal(matchRequest(actual)...); err != nil {
		return fmt.Errorf("portal: subscribe response signal: %w", err)
	}

	c.mu.Lock()
	old := w.path
	delete(c.waiters, old)
	w.path = actual
	c.waiters[actual] = w
	c.mu.Unlock()

	if err := c.bus.RemoveMatchSignal(matchRequest(old)...); err != nil {
		slog.Debug("portal: remove stale match failed", "path", old, "error", err)
	}
	return nil
}

// removeWaiter deregisters w and drops its signal subscription. Safe
// to call after the dispatcher has already taken the waiter.
func (c *Conn) removeWaiter(w *waiter) {
	c.mu.Lock()
	if c.waiters[w.path] == w {
		delete(c.waiters, w.path)
	}
	path := w.path
	c.mu.Unlock()

	if err := c.bus.RemoveMatchSignal(matchRequest(path)...); err != nil {
		slog.Debug("portal: remove match failed", "path", path, "error", err)
	}
}

// request performs one portal round-trip: call the method, await the
// Response signal on the request path, enforce the deadline.
//
// The handle token must already be embedded in the options argument;
// it is passed separately so the request path can be predicted and the
// waiter registered before the call goes out. The reply's request path
// wins when it differs from the prediction.
//
// A Response arriving after the deadline has fired finds its waiter
// deregistered and is dropped by the dispatcher; the request can never
// be fulfilled twice.
func (c *Conn) request(ctx context.Context, iface, method string, timeout time.Duration, token string, args ...interface{}) (map[string]dbus.Variant, error) {
	predicted := c.requestPath(token)
	w, err := c.addWaiter(predicted)
	if err != nil {
		return nil, err
	}
	defer c.removeWaiter(w)

	started := c.clk.Now()
	obj := c.bus.Object(portalBusName, portalObjectPath)
	call := obj.CallWithContext(ctx, iface+"."+method, 0, args...)

	var actual dbus.ObjectPath
	if err := call.Store(&actual); err != nil {
		return nil, fmt.Errorf("portal: %s: %w", method, err)
	}
	if actual != "" && actual != predicted {
		slog.Debug("portal: request path differs from prediction",
			"method", method,
			"predicted", predicted,
			"actual", actual,
		)
		if err := c.rekeyWaiter(w, actual); err != nil {
			return nil, fmt.Errorf("portal: %s: %w", method, err)
		}
	}

	select {
	case resp := <-w.ch:
		if resp.err != nil {
			return nil, fmt.Errorf("portal: %s: %w", method, resp.err)
		}
		switch resp.code {
		case respSuccess:
			return resp.results, nil
		case respDeclined:
			return nil, fmt.Errorf("%s: %w", method, ErrDenied)
		default:
			return nil, fmt.Errorf("%s: %w (code %d)", method, ErrCancelled, resp.code)
		}
	case <-c.clk.After(timeout):
		slog.Warn("portal: request deadline elapsed",
			"method", method,
			"timeout", timeout,
			"waited", c.clk.Now().Sub(started),
		)
		return nil, fmt.Errorf("%s: %w after %s", method, ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("portal: %s: %w", method, ctx.Err())
	case <-c.done:
		return nil, ErrClosed
	}
}

// parseResponse decodes the (uint32, map[string]dbus.Variant) body of
// a Request.Response signal.
func parseResponse(body []interface{}) (response, error) {
	if len(body) < 2 {
		return response{}, fmt.Errorf("response body has %d fields, want 2", len(body))
	}
	code, ok := body[0].(uint32)
	if !ok {
		return response{}, fmt.Errorf("response code is %T, want uint32", body[0])
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return response{}, fmt.Errorf("response results are %T, want map[string]dbus.Variant", body[1])
	}
	return response{code: code, results: results}, nil
}
