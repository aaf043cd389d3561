// Package openalo provides remote desktop control on Wayland through the
// XDG desktop portal: user-granted mouse and keyboard injection plus
// screen capture, with no elevated privileges and no X11 dependency.
//
// # Overview
//
// A Desktop owns one portal session. Initialize runs the consent
// negotiation (the compositor shows a permission dialog on the first
// run), after which input events can be dispatched and PNG frames
// pulled from a PipeWire screen-cast stream:
//
//	desk, err := openalo.New(openalo.Config{
//	    Capture: true,
//	    Persist: openalo.PersistUntilRevoked,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer desk.Close()
//
//	if err := desk.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	png, err := desk.Screenshot(ctx)
//	desk.Click(ctx, openalo.Point{X: 400, Y: 300}, openalo.ButtonLeft)
//	desk.TypeText(ctx, "hello", 0)
//
// # Permission Persistence
//
// With PersistUntilRevoked the portal's restore token is stored under
// the user config directory, so later runs reach an active session
// without showing the dialog again. PersistTransient keeps the token
// in process memory only; PersistNone always negotiates interactively.
// A stale or revoked token silently falls back to the interactive
// flow.
//
// # Frame Acquisition
//
// The capture pipeline (pipewiresrc through pngenc) starts lazily on
// the first frame request and then keeps running. Screenshot blocks
// for the next frame with a ten second deadline; Frame never blocks
// and returns the newest buffered frame, if any. Buffering depth is
// one: a newer frame always replaces an unconsumed older one.
//
// # Error Handling
//
// Failures map onto five sentinel kinds checkable with errors.Is:
// ErrPermissionDenied (the user declined a grant), ErrSessionFailed
// (negotiation or timeout), ErrCaptureFailed, ErrInputFailed, and
// ErrNotActive (operation before Initialize, or capture on an
// input-only session). The original cause stays on the chain.
//
// # Dependencies
//
// Capture needs the GStreamer and PipeWire runtime:
//
//	# Ubuntu/Debian
//	sudo apt-get install gstreamer1.0-plugins-base \
//	    gstreamer1.0-plugins-good gstreamer1.0-pipewire
//
// Input-only sessions (Capture: false) need neither. Both need a
// portal implementation on the session bus, which every mainstream
// Wayland desktop ships.
//
// # Thread Safety
//
// A Desktop serializes its own lifecycle transitions, but input and
// capture calls are meant for a single caller flow; interleave them
// from multiple goroutines and the event ordering is yours to reason
// about. Close is safe from any goroutine, any number of times.
package openalo
