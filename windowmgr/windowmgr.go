// Package windowmgr manages windows on GNOME Wayland through the
// Window Calls shell extension
// (https://extensions.gnome.org/extension/4724/window-calls/).
//
// Wayland offers no general window-control protocol, so listing,
// focusing and moving windows goes through the extension's D-Bus
// interface on org.gnome.Shell. Query methods return JSON payloads
// that decode into WindowInfo; command methods return plain errors.
// The compositor applies commands asynchronously, so a successful
// call means accepted, not yet visible.
package windowmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	openalo "github.com/JonyBepary/Open-ALO"
)

const (
	busName    = "org.gnome.Shell"
	objectPath = "/org/gnome/Shell/Extensions/Windows"
	iface      = "org.gnome.Shell.Extensions.Windows"

	// DefaultTimeout bounds each extension call.
	DefaultTimeout = 5 * time.Second
)

// ErrExtensionMissing reports that the Window Calls extension is not
// installed or not enabled on the running shell.
var ErrExtensionMissing = errors.New("windowmgr: window calls extension not available")

// WindowType is the window kind as the shell reports it.
type WindowType int

const (
	TypeNormal WindowType = iota
	TypeDesktop
	TypeDock
	TypeDialog
	TypeModalDialog
	TypeToolbar
	TypeMenu
	TypeUtility
	TypeSplash
)

// WindowInfo is one window as reported by the extension. List fills
// the identity and focus fields; Details adds geometry and workspace
// placement. Absent fields decode to their zero values.
type WindowInfo struct {
	ID                 uint32     `json:"id"`
	WMClass            string     `json:"wm_class"`
	WMClassInstance    string     `json:"wm_class_instance"`
	Title              string     `json:"title"`
	PID                int        `json:"pid"`
	X                  int        `json:"x"`
	Y                  int        `json:"y"`
	Width              int        `json:"width"`
	Height             int        `json:"height"`
	Workspace          int        `json:"workspace"`
	Monitor            int        `json:"monitor"`
	FrameType          int        `json:"frame_type"`
	WindowType         WindowType `json:"window_type"`
	Focus              bool       `json:"focus"`
	InCurrentWorkspace bool       `json:"in_current_workspace"`
	Maximized          int        `json:"maximized"`
}

func (w WindowInfo) String() string {
	return fmt.Sprintf("window %d (%s) %q", w.ID, w.WMClass, w.Title)
}

// Manager drives the extension over one session bus object.
type Manager struct {
	obj     dbus.BusObject
	timeout time.Duration
}

// New connects to the session bus and pings the extension, failing
// with ErrExtensionMissing when it does not answer.
func New(ctx context.Context) (*Manager, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("windowmgr: session bus: %w", err)
	}
	m := &Manager{obj: conn.Object(busName, objectPath), timeout: DefaultTimeout}
	if _, err := m.List(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtensionMissing, err)
	}
	return m, nil
}

func (m *Manager) call(ctx context.Context, method string, out interface{}, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	call := m.obj.CallWithContext(ctx, iface+"."+method, 0, args...)
	if call.Err != nil {
		return fmt.Errorf("windowmgr: %s: %w", method, call.Err)
	}
	if out != nil {
		if err := call.Store(out); err != nil {
			return fmt.Errorf("windowmgr: %s: decode reply: %w", method, err)
		}
	}
	return nil
}

// jsonCall runs a query method whose reply is a JSON string.
func (m *Manager) jsonCall(ctx context.Context, method string, into interface{}, args ...interface{}) error {
	var raw string
	if err := m.call(ctx, method, &raw, args...); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return fmt.Errorf("windowmgr: %s: parse payload: %w", method, err)
	}
	return nil
}

// List returns every open window.
func (m *Manager) List(ctx context.Context) ([]WindowInfo, error) {
	var wins []WindowInfo
	if err := m.jsonCall(ctx, "List", &wins); err != nil {
		return nil, err
	}
	return wins, nil
}

// ListCurrentWorkspace returns the windows on the active workspace.
func (m *Manager) ListCurrentWorkspace(ctx context.Context) ([]WindowInfo, error) {
	wins, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	current := wins[:0]
	for _, w := range wins {
		if w.InCurrentWorkspace {
			current = append(current, w)
		}
	}
	return current, nil
}

// Find returns the first window matching query, case-insensitively.
// A match on WM class wins over a match on title, so a terminal
// showing "editor.go" does not shadow the editor itself.
func (m *Manager) Find(ctx context.Context, query string) (WindowInfo, bool, error) {
	wins, err := m.List(ctx)
	if err != nil {
		return WindowInfo{}, false, err
	}
	q := strings.ToLower(query)
	for _, w := range wins {
		if strings.Contains(strings.ToLower(w.WMClass), q) {
			return w, true, nil
		}
	}
	for _, w := range wins {
		if strings.Contains(strings.ToLower(w.Title), q) {
			return w, true, nil
		}
	}
	return WindowInfo{}, false, nil
}

// FindAll returns every window whose class or title matches query.
func (m *Manager) FindAll(ctx context.Context, query string) ([]WindowInfo, error) {
	wins, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var matches []WindowInfo
	for _, w := range wins {
		if strings.Contains(strings.ToLower(w.WMClass), q) ||
			strings.Contains(strings.ToLower(w.Title), q) {
			matches = append(matches, w)
		}
	}
	return matches, nil
}

// Focused returns the window holding keyboard focus, if any.
func (m *Manager) Focused(ctx context.Context) (WindowInfo, bool, error) {
	wins, err := m.List(ctx)
	if err != nil {
		return WindowInfo{}, false, err
	}
	for _, w := range wins {
		if w.Focus {
			return w, true, nil
		}
	}
	return WindowInfo{}, false, nil
}

// Details returns the full record for one window, including geometry.
func (m *Manager) Details(ctx context.Context, id uint32) (WindowInfo, error) {
	var w WindowInfo
	if err := m.jsonCall(ctx, "Details", &w, id); err != nil {
		return WindowInfo{}, err
	}
	return w, nil
}

// Title returns a window's title.
func (m *Manager) Title(ctx context.Context, id uint32) (string, error) {
	var title string
	if err := m.call(ctx, "GetTitle", &title, id); err != nil {
		return "", err
	}
	return title, nil
}

// Activate focuses a window and raises it.
func (m *Manager) Activate(ctx context.Context, id uint32) error {
	return m.call(ctx, "Activate", nil, id)
}

// Maximize maximizes a window.
func (m *Manager) Maximize(ctx context.Context, id uint32) error {
	return m.call(ctx, "Maximize", nil, id)
}

// Unmaximize restores a maximized window.
func (m *Manager) Unmaximize(ctx context.Context, id uint32) error {
	return m.call(ctx, "Unmaximize", nil, id)
}

// Minimize minimizes a window.
func (m *Manager) Minimize(ctx context.Context, id uint32) error {
	return m.call(ctx, "Minimize", nil, id)
}

// Unminimize brings a minimized window back.
func (m *Manager) Unminimize(ctx context.Context, id uint32) error {
	return m.call(ctx, "Unminimize", nil, id)
}

// CloseWindow asks a window to close. The application may still show
// an are-you-sure dialog instead of going away.
func (m *Manager) CloseWindow(ctx context.Context, id uint32) error {
	return m.call(ctx, "Close", nil, id)
}

// Move places a window at x, y. Coordinates may be negative on
// multi-monitor layouts.
func (m *Manager) Move(ctx context.Context, id uint32, x, y int32) error {
	return m.call(ctx, "Move", nil, id, x, y)
}

// Resize sets a window's size in pixels.
func (m *Manager) Resize(ctx context.Context, id uint32, width, height uint32) error {
	return m.call(ctx, "Resize", nil, id, width, height)
}

// MoveResize moves and resizes in one operation.
func (m *Manager) MoveResize(ctx context.Context, id uint32, x, y int32, width, height uint32) error {
	return m.call(ctx, "MoveResize", nil, id, x, y, width, height)
}

// MoveToWorkspace sends a window to the given workspace (0-indexed).
func (m *Manager) MoveToWorkspace(ctx context.Context, id uint32, workspace uint32) error {
	return m.call(ctx, "MoveToWorkspace", nil, id, workspace)
}

// frameRect is the JSON shape of GetFrameRect and GetFrameBounds.
type frameRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FrameRect returns the window's frame rectangle: the visible extent
// including decorations.
func (m *Manager) FrameRect(ctx context.Context, id uint32) (openalo.Rect, error) {
	var r frameRect
	if err := m.jsonCall(ctx, "GetFrameRect", &r, id); err != nil {
		return openalo.Rect{}, err
	}
	return openalo.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}

// FrameBounds returns the window's input bounds, which on shadowed
// windows extend past the frame rectangle.
func (m *Manager) FrameBounds(ctx context.Context, id uint32) (openalo.Rect, error) {
	var r frameRect
	if err := m.jsonCall(ctx, "GetFrameBounds", &r, id); err != nil {
		return openalo.Rect{}, err
	}
	return openalo.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}
