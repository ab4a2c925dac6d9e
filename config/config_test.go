package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/tracehost/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60, cfg.Display.FrameRate)
	assert.Equal(t, time.Second/60, cfg.Display.FrameInterval())
	assert.False(t, cfg.Runtime.Threads)
}

func TestParse(t *testing.T) {
	data := []byte(`
guest:
  path: viewer.wasm
  font_size: "16"
runtime:
  threads: true
  memory_limit_pages: 4096
  strict_imports: "true"
loader:
  chunk_size: 65536
  timeout: 5s
display:
  width: 800
log:
  level: debug
  encoding: json
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "viewer.wasm", cfg.Guest.Path)
	assert.Equal(t, float32(16), cfg.Guest.FontSize)
	assert.Equal(t, float32(1), cfg.Guest.PixelRatio, "default kept")
	assert.True(t, cfg.Runtime.Threads)
	assert.True(t, cfg.Runtime.StrictImports)
	assert.Equal(t, uint32(4096), cfg.Runtime.MemoryLimitPages)
	assert.Equal(t, 65536, cfg.Loader.ChunkSize)
	assert.Equal(t, 4, cfg.Loader.Prefetch, "default kept")
	assert.Equal(t, 5*time.Second, cfg.Loader.Timeout)
	assert.Equal(t, 800, cfg.Display.Width)
	assert.Equal(t, 720, cfg.Display.Height)
	assert.Equal(t, "json", cfg.Log.Encoding)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "guest: [unclosed"},
		{"unknown key", "guest:\n  colour: red\n"},
		{"bad duration", "loader:\n  timeout: soon\n"},
		{"zero chunk", "loader:\n  chunk_size: 0\n"},
		{"negative prefetch", "loader:\n  prefetch: -1\n"},
		{"bad frame rate", "display:\n  frame_rate: 0\n"},
		{"too many pages", "runtime:\n  memory_limit_pages: 70000\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad encoding", "log:\n  encoding: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, errors.PhaseConfig, e.Phase)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ztrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("display:\n  frame_rate: 30\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Display.FrameRate)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, errors.KindIO, errors.KindOf(err))
}

func TestLogConfig_Build(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	logger, err := LogConfig{Level: "warn", Encoding: "json"}.Build(path)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)

	_, err = LogConfig{Level: "nope"}.Build()
	assert.Error(t, err)
}
