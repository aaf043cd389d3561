package openalo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JonyBepary/Open-ALO/internal/portal"
)

// SessionType names the display server a desktop session runs on.
type SessionType string

const (
	SessionWayland SessionType = "wayland"
	SessionX11     SessionType = "x11"
	SessionUnknown SessionType = "unknown"
)

// DetectSessionType probes the display environment. WAYLAND_DISPLAY
// wins over DISPLAY when both are set.
func DetectSessionType() SessionType {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return SessionWayland
	}
	if os.Getenv("DISPLAY") != "" {
		return SessionX11
	}
	return SessionUnknown
}

// IsWayland reports whether the session runs on a Wayland compositor.
func IsWayland() bool {
	return os.Getenv("WAYLAND_DISPLAY") != ""
}

// PortalAvailable reports whether the XDG desktop portal answers on
// the session bus. A false result means Initialize cannot succeed.
func PortalAvailable(ctx context.Context) bool {
	return portal.Available(ctx)
}

// PipeWireAvailable reports whether the PipeWire daemon socket is
// present in the user runtime directory. Screen capture needs it;
// input-only sessions do not.
func PipeWireAvailable() bool {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = fmt.Sprintf("/run/user/%d", os.Getuid())
	}
	_, err := os.Stat(filepath.Join(dir, "pipewire-0"))
	return err == nil
}
