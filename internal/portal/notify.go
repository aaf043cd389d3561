package portal

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Button state values for pointer and keyboard notifications.
const (
	stateReleased uint32 = 0
	statePressed  uint32 = 1
)

func pressState(pressed bool) uint32 {
	if pressed {
		return statePressed
	}
	return stateReleased
}

// notify guards the event methods: the session must be active and is
// addressed by handle. Notifications are plain calls, the portal sends
// no completion signal for them.
func (s *Session) notify(ctx context.Context, method string, args ...interface{}) error {
	s.mu.Lock()
	st, handle := s.state, s.handle
	s.mu.Unlock()
	if st != StateActive {
		return fmt.Errorf("%s: %w (state %s)", method, ErrInactive, st)
	}

	callArgs := append([]interface{}{handle, map[string]dbus.Variant{}}, args...)
	return s.conn.call(ctx, ifaceRemoteDesktop, method, callArgs...)
}

// NotifyPointerMotion moves the pointer to absolute coordinates x, y.
func (s *Session) NotifyPointerMotion(ctx context.Context, x, y float64) error {
	return s.notify(ctx, "NotifyPointerMotion", x, y)
}

// NotifyPointerButton presses or releases a pointer button. Buttons
// use the conventional numbering: 1 left, 2 middle, 3 right.
func (s *Session) NotifyPointerButton(ctx context.Context, button int32, pressed bool) error {
	return s.notify(ctx, "NotifyPointerButton", button, pressState(pressed))
}

// NotifyKeyboardKeysym presses or releases a key identified by its X11
// keysym.
func (s *Session) NotifyKeyboardKeysym(ctx context.Context, keysym int32, pressed bool) error {
	return s.notify(ctx, "NotifyKeyboardKeysym", keysym, pressState(pressed))
}

// NotifyKeyboardKeycode presses or releases a key identified by its
// hardware keycode. Keysym addressing is usually what callers want;
// keycodes depend on the active keyboard layout.
func (s *Session) NotifyKeyboardKeycode(ctx context.Context, keycode int32, pressed bool) error {
	return s.notify(ctx, "NotifyKeyboardKeycode", keycode, pressState(pressed))
}
