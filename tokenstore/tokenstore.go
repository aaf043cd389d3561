// Package tokenstore persists portal restore tokens between sessions.
//
// A restore token lets a previously granted permission be reacquired
// without prompting the user again. Stores are deliberately forgiving:
// a missing, corrupt or outdated record reads as "no saved token",
// never as an error, and a failed write leaves the running session
// untouched.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const schemaVersion = 1

// record is the on-disk token format.
type record struct {
	RestoreToken string  `json:"restore_token"`
	Timestamp    float64 `json:"timestamp"`
	Version      int     `json:"version"`
}

// File stores one restore token as a small JSON file.
type File struct {
	path string
}

// NewFile returns a store backed by the given file path.
func NewFile(path string) *File {
	return &File{path: path}
}

// DefaultPath places a purpose-keyed token file under the user's
// configuration directory, e.g. ~/.config/open-alo/unified_token.json.
func DefaultPath(purpose string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("tokenstore: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "open-alo", purpose+"_token.json"), nil
}

// Load reads the saved token. An absent file, unparseable content or a
// schema version mismatch all read as no token.
func (f *File) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("tokenstore: read %s: %w", f.path, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Debug("tokenstore: discarding unparseable token file", "path", f.path, "error", err)
		return "", nil
	}
	if rec.Version != schemaVersion {
		slog.Debug("tokenstore: discarding token with unknown schema",
			"path", f.path, "version", rec.Version)
		return "", nil
	}
	return rec.RestoreToken, nil
}

// Save writes the token, creating parent directories as needed. The
// file is user-readable only.
func (f *File) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("tokenstore: create %s: %w", filepath.Dir(f.path), err)
	}

	data, err := json.Marshal(record{
		RestoreToken: token,
		Timestamp:    float64(time.Now().Unix()),
		Version:      schemaVersion,
	})
	if err != nil {
		return fmt.Errorf("tokenstore: encode token: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("tokenstore: write %s: %w", f.path, err)
	}
	return nil
}

// Memory holds a restore token for the lifetime of the process. It
// backs the persistence mode where the grant outlives the session but
// not the application.
type Memory struct {
	mu    sync.Mutex
	token string
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory { return &Memory{} }

// Load returns the stored token, empty if none was saved.
func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

// Save replaces the stored token.
func (m *Memory) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}
