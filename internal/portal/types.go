package portal

// DeviceType is a bitmask of input device classes a session may be
// granted. Values are fixed by the portal protocol.
type DeviceType uint32

const (
	DeviceKeyboard    DeviceType = 1
	DevicePointer     DeviceType = 2
	DeviceTouchscreen DeviceType = 4
)

// SourceType is a bitmask of screen-cast source classes. Values are
// fixed by the portal protocol.
type SourceType uint32

const (
	SourceMonitor SourceType = 1
	SourceWindow  SourceType = 2
	SourceVirtual SourceType = 4
)

// CursorMode controls how the compositor presents the cursor in
// captured frames.
type CursorMode uint32

const (
	CursorHidden   CursorMode = 1
	CursorEmbedded CursorMode = 2
	CursorMetadata CursorMode = 4
)

// PersistMode controls whether the compositor remembers the grant
// across sessions.
type PersistMode uint32

const (
	// PersistNone forgets the grant when the session closes.
	PersistNone PersistMode = 0
	// PersistTransient remembers the grant while the application runs.
	PersistTransient PersistMode = 1
	// PersistUntilRevoked remembers the grant until the user revokes it.
	PersistUntilRevoked PersistMode = 2
)

// State is a session's position in the portal negotiation lifecycle.
type State int

const (
	StateUninit State = iota
	StateCreating
	StateCreated
	StateGrantingDevices
	StateDevicesGranted
	StateGrantingSources
	StateSourcesGranted
	StateStarting
	StateActive
	StateClosing
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateCreating:
		return "creating"
	case StateCreated:
		return "created"
	case StateGrantingDevices:
		return "granting-devices"
	case StateDevicesGranted:
		return "devices-granted"
	case StateGrantingSources:
		return "granting-sources"
	case StateSourcesGranted:
		return "sources-granted"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream describes one screen-cast stream negotiated by the portal: a
// PipeWire node plus the source metadata the compositor reported.
type Stream struct {
	NodeID     uint32
	Width      int
	Height     int
	SourceType SourceType
}

// TokenStore persists restore tokens between sessions. Load returns
// an empty token, not an error, when none has been saved yet.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
}
