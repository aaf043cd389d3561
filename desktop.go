package openalo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JonyBepary/Open-ALO/internal/clock"
	"github.com/JonyBepary/Open-ALO/internal/pipeline"
	"github.com/JonyBepary/Open-ALO/internal/portal"
	"github.com/JonyBepary/Open-ALO/tokenstore"
)

// Config controls how a Desktop negotiates its portal session.
type Config struct {
	// Devices is the input device bitmask to request. Zero requests
	// keyboard, pointer and touchscreen.
	Devices DeviceType

	// Capture enables screen capture alongside input. When set, the
	// session negotiates a screen-cast source and Screenshot/Frame
	// become available.
	Capture bool

	// Persist selects how the portal's restore token is kept between
	// sessions: PersistNone always renegotiates interactively,
	// PersistTransient keeps the token for the life of this process,
	// PersistUntilRevoked stores it on disk.
	Persist PersistMode

	// TokenPath overrides the restore token file location. Empty
	// means a purpose-keyed file under the user config directory.
	// Only consulted with PersistUntilRevoked.
	TokenPath string

	// Tokens overrides the token store entirely. When set, Persist
	// only controls whether a restore token is requested at all.
	Tokens TokenStore
}

func (c *Config) validate() error {
	if c.Devices&^(DeviceKeyboard|DevicePointer|DeviceTouchscreen) != 0 {
		return fmt.Errorf("openalo: unknown device bits %#x", uint32(c.Devices))
	}
	if c.Persist > PersistUntilRevoked {
		return fmt.Errorf("openalo: invalid persist mode %d", uint32(c.Persist))
	}
	return nil
}

// purpose keys the token store so input-only and capture sessions do
// not share restore tokens.
func (c *Config) purpose() string {
	if c.Capture {
		return "unified"
	}
	return "input"
}

// remoteSession is the slice of the portal session the facade drives.
type remoteSession interface {
	Start(ctx context.Context) error
	Close()
	State() State
	Active() bool
	Streams() []Stream
	NotifyPointerMotion(ctx context.Context, x, y float64) error
	NotifyPointerButton(ctx context.Context, button int32, pressed bool) error
	NotifyKeyboardKeysym(ctx context.Context, keysym int32, pressed bool) error
	NotifyKeyboardKeycode(ctx context.Context, keycode int32, pressed bool) error
}

// frameChannel is the slice of the capture pipeline the facade drives.
type frameChannel interface {
	Capture(ctx context.Context) ([]byte, error)
	Poll() ([]byte, error)
	Resolution() (width, height int, ok bool)
	Stop()
}

// Desktop is the top-level handle for remote desktop control: one
// portal session plus, when capture is enabled, one frame channel.
// Not safe for concurrent use; callers serialize their own access.
type Desktop struct {
	cfg Config
	clk clock.Clock

	connect    func(clk clock.Clock, cfg portal.SessionConfig) (remoteSession, func(), error)
	newChannel func(node uint32, clk clock.Clock) frameChannel

	mu        sync.Mutex
	session   remoteSession
	closeConn func()
	frames    frameChannel
	mem       *tokenstore.Memory
}

// New builds a Desktop from cfg. It validates the configuration but
// touches no external resource; Initialize performs the negotiation.
func New(cfg Config) (*Desktop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Desktop{
		cfg:     cfg,
		clk:     clock.Real(),
		connect: dialSession,
		newChannel: func(node uint32, clk clock.Clock) frameChannel {
			return pipeline.NewChannel(node, clk)
		},
	}, nil
}

func dialSession(clk clock.Clock, cfg portal.SessionConfig) (remoteSession, func(), error) {
	conn, err := portal.Dial(clk)
	if err != nil {
		return nil, nil, err
	}
	return portal.NewSession(conn, cfg), conn.Close, nil
}

// Initialize negotiates the portal session: consent prompts on the
// first run, silent restore on later runs when persistence is on.
// Calling it on an already active Desktop is a no-op; calling it
// after a failure or Close starts over.
func (d *Desktop) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil && d.session.Active() {
		return nil
	}
	d.teardown()

	sess, closeConn, err := d.connect(d.clk, portal.SessionConfig{
		Devices:    d.cfg.Devices,
		Screencast: d.cfg.Capture,
		Persist:    d.cfg.Persist,
		Tokens:     d.store(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionFailed, err)
	}

	if err := sess.Start(ctx); err != nil {
		sess.Close()
		closeConn()
		return classifySessionErr(err)
	}

	d.session = sess
	d.closeConn = closeConn
	if d.cfg.Capture {
		streams := sess.Streams()
		d.frames = d.newChannel(streams[0].NodeID, d.clk)
		slog.Info("openalo: session active", "node", streams[0].NodeID,
			"size", Size{streams[0].Width, streams[0].Height})
	} else {
		slog.Info("openalo: session active", "capture", false)
	}
	return nil
}

// Close releases the frame channel, then the portal session, then the
// bus connection. Never fails and may be called any number of times,
// including before Initialize.
func (d *Desktop) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardown()
}

// teardown stops everything in dependency order: the pipeline holds
// the session's granted source, so it goes first. The session object
// is kept so State still reports Closed afterwards.
func (d *Desktop) teardown() {
	if d.frames != nil {
		d.frames.Stop()
		d.frames = nil
	}
	if d.session != nil {
		d.session.Close()
	}
	if d.closeConn != nil {
		d.closeConn()
		d.closeConn = nil
	}
}

// State reports the session lifecycle state, StateUninit before the
// first Initialize.
func (d *Desktop) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return portal.StateUninit
	}
	return d.session.State()
}

// Active reports whether the session is negotiated and usable.
func (d *Desktop) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session != nil && d.session.Active()
}

// Stream returns the granted screen-cast stream descriptor, if the
// session is active with capture enabled.
func (d *Desktop) Stream() (Stream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return Stream{}, false
	}
	streams := d.session.Streams()
	if len(streams) == 0 {
		return Stream{}, false
	}
	return streams[0], true
}

// store resolves the token store for the configured persist mode. An
// explicit Tokens wins; PersistUntilRevoked uses a file under the
// user config directory; PersistTransient uses process memory, kept
// across re-initialization so a restart of the session in the same
// process can still restore.
func (d *Desktop) store() portal.TokenStore {
	if d.cfg.Tokens != nil {
		return d.cfg.Tokens
	}
	switch d.cfg.Persist {
	case PersistUntilRevoked:
		path := d.cfg.TokenPath
		if path == "" {
			var err error
			path, err = tokenstore.DefaultPath(d.cfg.purpose())
			if err != nil {
				slog.Warn("openalo: no token path, session will not persist", "error", err)
				return nil
			}
		}
		return tokenstore.NewFile(path)
	case PersistTransient:
		if d.mem == nil {
			d.mem = tokenstore.NewMemory()
		}
		return d.mem
	}
	return nil
}

// activeSession returns the session for an input or capture call,
// or the precondition error when there is none.
func (d *Desktop) activeSession() (remoteSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil || !d.session.Active() {
		return nil, ErrNotActive
	}
	return d.session, nil
}

// classifySessionErr maps a session negotiation failure onto the
// public error kinds. Grant-step failures and explicit user declines
// are permission problems; everything else is a session failure.
func classifySessionErr(err error) error {
	var step *portal.StepError
	if errors.As(err, &step) {
		switch step.Step {
		case portal.StepSelectDevices, portal.StepSelectSources:
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	if errors.Is(err, portal.ErrDenied) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %w", ErrSessionFailed, err)
}
