package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
log:
  level: debug
worker:
  binary: /usr/local/bin/mediasoup-worker
  log_tags: [info, ice, dtls]
  rtc_min_port: 40000
  rtc_max_port: 40100
router:
  media_codecs:
    - kind: audio
      mimeType: audio/opus
      clockRate: 48000
      channels: 2
      parameters:
        useinbandfec: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, "warn", cfg.Worker.LogLevel)

	settings := cfg.Worker.ProcessSettings()
	assert.Equal(t, "/usr/local/bin/mediasoup-worker", settings.Binary)
	assert.Equal(t, []string{"info", "ice", "dtls"}, settings.LogTags)
	assert.EqualValues(t, 40000, settings.RtcMinPort)
	assert.EqualValues(t, 40100, settings.RtcMaxPort)

	codecs, err := cfg.Router.MediaCodecsJSON()
	require.NoError(t, err)
	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(codecs, &parsed))
	require.Len(t, parsed, 1)
	assert.Equal(t, "audio/opus", parsed[0]["mimeType"])
	assert.Equal(t, map[string]any{"useinbandfec": float64(1)}, parsed[0]["parameters"])
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "http: [\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad worker log level", "worker:\n  log_level: info\n"},
		{"inverted port range", "worker:\n  rtc_min_port: 5000\n  rtc_max_port: 4000\n"},
		{"half dtls", "worker:\n  dtls_certificate_file: /tmp/cert.pem\n"},
		{"empty binary", "worker:\n  binary: \"\"\n"},
		{"empty addr", "http:\n  addr: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
