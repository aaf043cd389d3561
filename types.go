package openalo

import (
	"fmt"

	"github.com/JonyBepary/Open-ALO/internal/portal"
)

// Point is a position in screen coordinates.
type Point struct {
	X, Y int
}

func (p Point) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// Size is a width and height in pixels.
type Size struct {
	Width, Height int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X, Y, Width, Height int
}

// Center returns the rectangle's midpoint.
func (r Rect) Center() Point {
	return Point{r.X + r.Width/2, r.Y + r.Height/2}
}

// TopLeft returns the anchor corner.
func (r Rect) TopLeft() Point { return Point{r.X, r.Y} }

// BottomRight returns the corner opposite the anchor.
func (r Rect) BottomRight() Point { return Point{r.X + r.Width, r.Y + r.Height} }

// Contains reports whether p lies inside the rectangle, edges
// included.
func (r Rect) Contains(p Point) bool {
	return r.X <= p.X && p.X <= r.X+r.Width &&
		r.Y <= p.Y && p.Y <= r.Y+r.Height
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d, %d) %dx%d", r.X, r.Y, r.Width, r.Height)
}

// Mouse buttons in the conventional numbering.
const (
	ButtonLeft   = 1
	ButtonMiddle = 2
	ButtonRight  = 3
)

// Re-exports of the session engine's types, so callers configure a
// Desktop without importing internals.
type (
	// Stream describes a negotiated screen-cast stream.
	Stream = portal.Stream

	// State is a session's position in the portal lifecycle.
	State = portal.State

	// TokenStore persists restore tokens between sessions.
	TokenStore = portal.TokenStore

	// PersistMode controls how long the compositor remembers a grant.
	PersistMode = portal.PersistMode

	// DeviceType is the bitmask of input device classes to request.
	DeviceType = portal.DeviceType
)

const (
	// PersistNone forgets the grant when the session closes.
	PersistNone = portal.PersistNone
	// PersistTransient remembers the grant while the process runs.
	PersistTransient = portal.PersistTransient
	// PersistUntilRevoked remembers the grant until the user revokes
	// it from system settings.
	PersistUntilRevoked = portal.PersistUntilRevoked

	DeviceKeyboard    = portal.DeviceKeyboard
	DevicePointer     = portal.DevicePointer
	DeviceTouchscreen = portal.DeviceTouchscreen
)
