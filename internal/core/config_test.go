package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8080
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.HTTPPort)
	assert.Equal(t, "ffmpeg", config.Transcoder.FFmpegPath)
	assert.Equal(t, "tcp", config.Transcoder.RTSPTransport)
	assert.Equal(t, 9100, config.Broadcast.BasePort)
	assert.Equal(t, 640, config.Broadcast.DefaultWidth)
	assert.Equal(t, 480, config.Broadcast.DefaultHeight)
	assert.Equal(t, "1000k", config.Broadcast.VideoBitrate)
	assert.Equal(t, 2, config.HLS.SegmentSeconds)
	assert.Equal(t, 6, config.HLS.WindowSize)
	assert.Equal(t, "data/streams.db", config.Database.Path)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfigExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
  production: true
transcoder:
  ffmpeg_path: /usr/local/bin/ffmpeg
  rtsp_transport: udp
broadcast:
  base_port: 10000
  default_width: 1280
  default_height: 720
hls:
  output_root: /var/lib/streams
  segment_seconds: 4
  window_size: 10
metrics:
  enabled: true
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, config.Server.Production)
	assert.Equal(t, "/usr/local/bin/ffmpeg", config.Transcoder.FFmpegPath)
	assert.Equal(t, "udp", config.Transcoder.RTSPTransport)
	assert.Equal(t, 10000, config.Broadcast.BasePort)
	assert.Equal(t, 1280, config.Broadcast.DefaultWidth)
	assert.Equal(t, "/var/lib/streams", config.HLS.OutputRoot)
	assert.Equal(t, 4, config.HLS.SegmentSeconds)
	assert.True(t, config.Metrics.Enabled)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("HTTP_PORT", "8888")
	t.Setenv("BROADCAST_BASE_PORT", "12000")
	t.Setenv("HLS_OUTPUT_ROOT", "/srv/hls")
	t.Setenv("DATABASE_PATH", "/srv/streams.db")

	path := writeConfig(t, `
server:
  http_port: 8080
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", config.Transcoder.FFmpegPath)
	assert.Equal(t, 8888, config.Server.HTTPPort)
	assert.Equal(t, 12000, config.Broadcast.BasePort)
	assert.Equal(t, "/srv/hls", config.HLS.OutputRoot)
	assert.Equal(t, "/srv/streams.db", config.Database.Path)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing http port", func(c *Config) { c.Server.HTTPPort = 0 }, true},
		{"http port out of range", func(c *Config) { c.Server.HTTPPort = 70000 }, true},
		{"bad base port", func(c *Config) { c.Broadcast.BasePort = -1 }, true},
		{"zero segment seconds", func(c *Config) { c.HLS.SegmentSeconds = 0 }, true},
		{"zero window size", func(c *Config) { c.HLS.WindowSize = 0 }, true},
		{"bad transport", func(c *Config) { c.Transcoder.RTSPTransport = "http" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			config.Server.HTTPPort = 8080
			config.applyDefaults()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
