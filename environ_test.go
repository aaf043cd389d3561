package openalo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectSessionType(t *testing.T) {
	t.Run("wayland wins", func(t *testing.T) {
		t.Setenv("WAYLAND_DISPLAY", "wayland-0")
		t.Setenv("DISPLAY", ":0")
		assert.Equal(t, SessionWayland, DetectSessionType())
		assert.True(t, IsWayland())
	})

	t.Run("x11 fallback", func(t *testing.T) {
		t.Setenv("WAYLAND_DISPLAY", "")
		t.Setenv("DISPLAY", ":0")
		assert.Equal(t, SessionX11, DetectSessionType())
		assert.False(t, IsWayland())
	})

	t.Run("headless", func(t *testing.T) {
		t.Setenv("WAYLAND_DISPLAY", "")
		t.Setenv("DISPLAY", "")
		assert.Equal(t, SessionUnknown, DetectSessionType())
	})
}

func TestPipeWireAvailable(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	assert.False(t, PipeWireAvailable())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipewire-0"), nil, 0o600))
	assert.True(t, PipeWireAvailable())
}
