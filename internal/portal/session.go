package portal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// Fixed per-step deadlines. Steps that can raise a consent dialog
// wait longer than ones that run inside an already-open dialog.
const (
	createSessionTimeout = 30 * time.Second
	selectDevicesTimeout = 30 * time.Second
	selectSourcesTimeout = 15 * time.Second
	startTimeout         = 30 * time.Second
)

// Negotiation step names carried by StepError.
const (
	StepCreateSession = "create-session"
	StepSelectDevices = "select-devices"
	StepSelectSources = "select-sources"
	StepStart         = "start"
)

// StepError reports which negotiation step failed. Callers classify
// failures by step: grant steps map to permission problems, the rest
// to session problems.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// SessionConfig selects the capabilities a session negotiates.
type SessionConfig struct {
	// Devices is the input device bitmask to request. Zero means
	// keyboard, pointer and touchscreen.
	Devices DeviceType

	// Screencast adds the source-grant step so the session carries
	// capture streams when it starts.
	Screencast bool

	// Sources is the screen-cast source bitmask. Zero means monitor.
	Sources SourceType

	// Cursor controls cursor rendering in captured frames. Zero means
	// embedded.
	Cursor CursorMode

	// Persist asks the compositor to remember the grant. With a
	// Tokens store attached, a saved restore token is tried before
	// any interactive prompt and freshly issued tokens are saved.
	Persist PersistMode

	// Tokens persists restore tokens between sessions. Nil disables
	// restoration and harvest regardless of Persist.
	Tokens TokenStore
}

func (c *SessionConfig) defaults() {
	if c.Devices == 0 {
		c.Devices = DeviceKeyboard | DevicePointer | DeviceTouchscreen
	}
	if c.Sources == 0 {
		c.Sources = SourceMonitor
	}
	if c.Cursor == 0 {
		c.Cursor = CursorEmbedded
	}
}

// Session drives one portal session through its lifecycle: create,
// grant devices, optionally grant capture sources, start, close. Setup
// is strictly sequential; at most one request is in flight per session.
type Session struct {
	conn *Conn
	cfg  SessionConfig

	mu      sync.Mutex
	state   State
	handle  dbus.ObjectPath
	streams []Stream
}

// NewSession prepares a session over conn. Nothing touches the bus
// until Start.
func NewSession(conn *Conn, cfg SessionConfig) *Session {
	cfg.defaults()
	return &Session{conn: conn, cfg: cfg}
}

// State reports the session's position in the lifecycle.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session has completed negotiation and
// can accept input notifications and capture.
func (s *Session) Active() bool { return s.State() == StateActive }

// Handle returns the session's object path, empty before creation.
func (s *Session) Handle() dbus.ObjectPath {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Streams returns the capture streams negotiated at start. Empty for
// input-only sessions.
func (s *Session) Streams() []Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stream, len(s.streams))
	copy(out, s.streams)
	return out
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	slog.Debug("portal: session state", "from", prev, "to", st)
}

// Start negotiates the session to ACTIVE.
//
// With persistence enabled and a saved restore token available, the
// token is presented at session creation and the grant steps are
// skipped entirely; the user sees no prompt. Any failure on that path
// is absorbed and the full interactive flow runs instead.
//
// Interactive failures come back as a *StepError naming the step, with
// ErrDenied, ErrCancelled or ErrTimeout in its chain.
func (s *Session) Start(ctx context.Context) error {
	if st := s.State(); st != StateUninit {
		return fmt.Errorf("portal: session already started (state %s)", st)
	}

	if s.cfg.Persist > PersistNone {
		if token := s.loadToken(); token != "" {
			if err := s.restore(ctx, token); err == nil {
				slog.Info("portal: session restored from saved token")
				return nil
			} else {
				slog.Info("portal: restore failed, falling back to interactive grant", "error", err)
				s.reset()
			}
		}
	}
	return s.interactive(ctx)
}

// restore runs the abbreviated flow: create the session presenting the
// saved token, then start it. Grant steps covered by the token are not
// re-issued. Errors are returned plainly; Start absorbs them.
func (s *Session) restore(ctx context.Context, token string) error {
	if err := s.createSession(ctx, token); err != nil {
		return err
	}
	if err := s.startSession(ctx); err != nil {
		return err
	}
	return nil
}

// interactive runs the full consent flow.
func (s *Session) interactive(ctx context.Context) error {
	if err := s.createSession(ctx, ""); err != nil {
		return &StepError{Step: StepCreateSession, Err: err}
	}
	if err := s.selectDevices(ctx); err != nil {
		return &StepError{Step: StepSelectDevices, Err: err}
	}
	if s.cfg.Screencast {
		if err := s.selectSources(ctx); err != nil {
			return &StepError{Step: StepSelectSources, Err: err}
		}
	}
	if err := s.startSession(ctx); err != nil {
		return &StepError{Step: StepStart, Err: err}
	}
	return nil
}

func (s *Session) createSession(ctx context.Context, restoreToken string) error {
	s.setState(StateCreating)

	handleToken := newToken("req")
	sessionToken := newToken("alo")
	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(handleToken),
		"session_handle_token": dbus.MakeVariant(sessionToken),
	}
	if restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(restoreToken)
		options["persist_mode"] = dbus.MakeVariant(uint32(s.cfg.Persist))
	}

	results, err := s.conn.request(ctx, ifaceRemoteDesktop, "CreateSession", createSessionTimeout, handleToken, options)
	if err != nil {
		return err
	}

	handle, err := sessionHandle(results)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	s.setState(StateCreated)
	slog.Debug("portal: session created", "handle", handle)
	return nil
}

func (s *Session) selectDevices(ctx context.Context) error {
	s.setState(StateGrantingDevices)

	handleToken := newToken("dev")
	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(uint32(s.cfg.Devices)),
		"handle_token": dbus.MakeVariant(handleToken),
	}
	if s.cfg.Persist > PersistNone {
		options["persist_mode"] = dbus.MakeVariant(uint32(s.cfg.Persist))
		if token := s.loadToken(); token != "" {
			options["restore_token"] = dbus.MakeVariant(token)
		}
	}

	results, err := s.conn.request(ctx, ifaceRemoteDesktop, "SelectDevices", selectDevicesTimeout, handleToken, s.Handle(), options)
	if err != nil {
		return err
	}

	s.harvestToken(results)
	s.setState(StateDevicesGranted)
	return nil
}

// selectSources grants capture sources. The call goes to the
// screen-cast interface but operates on the remote-desktop session,
// which is what makes the combined input+capture grant a single
// consent dialog.
func (s *Session) selectSources(ctx context.Context) error {
	s.setState(StateGrantingSources)

	handleToken := newToken("src")
	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(uint32(s.cfg.Sources)),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(s.cfg.Cursor)),
		"handle_token": dbus.MakeVariant(handleToken),
	}

	_, err := s.conn.request(ctx, ifaceScreenCast, "SelectSources", selectSourcesTimeout, handleToken, s.Handle(), options)
	if err != nil {
		return err
	}

	s.setState(StateSourcesGranted)
	return nil
}

func (s *Session) startSession(ctx context.Context) error {
	s.setState(StateStarting)

	handleToken := newToken("start")
	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(handleToken),
	}

	results, err := s.conn.request(ctx, ifaceRemoteDesktop, "Start", startTimeout, handleToken, s.Handle(), "", options)
	if err != nil {
		return err
	}

	s.harvestToken(results)

	if s.cfg.Screencast {
		streams, err := parseStreams(results)
		if err != nil {
			return err
		}
		if len(streams) == 0 {
			return fmt.Errorf("portal: session started without streams")
		}
		s.mu.Lock()
		s.streams = streams
		s.mu.Unlock()
		slog.Info("portal: capture stream negotiated",
			"node", streams[0].NodeID,
			"width", streams[0].Width,
			"height", streams[0].Height,
		)
	}

	s.setState(StateActive)
	return nil
}

// Close releases the session. The broker-side close is best effort;
// local state is cleared unconditionally. Callable from any state, any
// number of times.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	handle := s.handle
	s.handle = ""
	s.streams = nil
	s.mu.Unlock()

	if handle != "" {
		s.conn.closeSession(handle)
	}
	s.setState(StateClosed)
}

// reset clears a half-built session so the interactive flow can run
// from scratch after a failed restore.
func (s *Session) reset() {
	s.mu.Lock()
	handle := s.handle
	s.handle = ""
	s.streams = nil
	s.state = StateUninit
	s.mu.Unlock()

	if handle != "" {
		s.conn.closeSession(handle)
	}
}

// loadToken reads the saved restore token. Absent or failing stores
// read as "no token".
func (s *Session) loadToken() string {
	if s.cfg.Tokens == nil {
		return ""
	}
	token, err := s.cfg.Tokens.Load()
	if err != nil {
		slog.Debug("portal: token load failed", "error", err)
		return ""
	}
	return token
}

// harvestToken saves a freshly issued restore token if the response
// carries one. Save failures are logged and dropped; the running
// session does not depend on the token reaching storage.
func (s *Session) harvestToken(results map[string]dbus.Variant) {
	if s.cfg.Persist == PersistNone || s.cfg.Tokens == nil {
		return
	}
	v, ok := results["restore_token"]
	if !ok {
		return
	}
	token, ok := v.Value().(string)
	if !ok || token == "" {
		return
	}
	if err := s.cfg.Tokens.Save(token); err != nil {
		slog.Warn("portal: token save failed", "error", err)
		return
	}
	slog.Debug("portal: restore token saved")
}

// sessionHandle extracts the session object path from CreateSession
// results. Compositors send it as a string; accept a path too.
func sessionHandle(results map[string]dbus.Variant) (dbus.ObjectPath, error) {
	v, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("portal: response carries no session handle")
	}
	switch h := v.Value().(type) {
	case string:
		if h == "" {
			return "", fmt.Errorf("portal: response carries empty session handle")
		}
		return dbus.ObjectPath(h), nil
	case dbus.ObjectPath:
		return h, nil
	default:
		return "", fmt.Errorf("portal: session handle is %T, want string", v.Value())
	}
}

// parseStreams decodes the streams field of Start results: an array of
// (node, properties) pairs describing the negotiated PipeWire streams.
func parseStreams(results map[string]dbus.Variant) ([]Stream, error) {
	v, ok := results["streams"]
	if !ok {
		return nil, nil
	}

	var raw [][]interface{}
	switch rv := v.Value().(type) {
	case [][]interface{}:
		raw = rv
	case []interface{}:
		for _, e := range rv {
			pair, ok := e.([]interface{})
			if !ok {
				return nil, fmt.Errorf("portal: stream entry is %T, want struct", e)
			}
			raw = append(raw, pair)
		}
	default:
		return nil, fmt.Errorf("portal: streams field is %T, want array of structs", v.Value())
	}

	streams := make([]Stream, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("portal: stream struct has %d fields, want 2", len(pair))
		}
		node, ok := toUint32(pair[0])
		if !ok {
			return nil, fmt.Errorf("portal: stream node is %T, want uint32", pair[0])
		}
		st := Stream{NodeID: node}

		props, _ := pair[1].(map[string]dbus.Variant)
		if sz, ok := props["size"]; ok {
			if dims, ok := sz.Value().([]interface{}); ok && len(dims) == 2 {
				if w, ok := toInt(dims[0]); ok {
					st.Width = w
				}
				if h, ok := toInt(dims[1]); ok {
					st.Height = h
				}
			}
		}
		if kind, ok := props["source_type"]; ok {
			if u, ok := toUint32(kind.Value()); ok {
				st.SourceType = SourceType(u)
			}
		}
		streams = append(streams, st)
	}
	return streams, nil
}

func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case int32:
		return uint32(n), true
	case uint64:
		return uint32(n), true
	case int:
		return uint32(n), true
	default:
		return 0, false
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int32:
		return int(n), true
	case uint32:
		return int(n), true
	case int64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
