package core

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	HLS        HLSConfig        `yaml:"hls"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	HTTPPort   int  `yaml:"http_port"`
	Production bool `yaml:"production"`
}

type TranscoderConfig struct {
	FFmpegPath    string `yaml:"ffmpeg_path"`
	RTSPTransport string `yaml:"rtsp_transport"` // tcp or udp
}

type BroadcastConfig struct {
	BasePort      int    `yaml:"base_port"`
	DefaultWidth  int    `yaml:"default_width"`
	DefaultHeight int    `yaml:"default_height"`
	VideoBitrate  string `yaml:"video_bitrate"` // e.g. 1000k
	FrameRate     int    `yaml:"frame_rate"`
	ClientQueue   int    `yaml:"client_queue"` // frames buffered per client
}

type HLSConfig struct {
	OutputRoot     string `yaml:"output_root"`
	SegmentSeconds int    `yaml:"segment_seconds"`
	WindowSize     int    `yaml:"window_size"` // segments kept in the playlist
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig reads the YAML config file, applies environment overrides
// and validates the result. A .env file in the working directory is
// loaded first if present; missing .env is not an error.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Transcoder.FFmpegPath == "" {
		c.Transcoder.FFmpegPath = "ffmpeg"
	}
	if c.Transcoder.RTSPTransport == "" {
		c.Transcoder.RTSPTransport = "tcp"
	}
	if c.Broadcast.BasePort == 0 {
		c.Broadcast.BasePort = 9100
	}
	if c.Broadcast.DefaultWidth == 0 {
		c.Broadcast.DefaultWidth = 640
	}
	if c.Broadcast.DefaultHeight == 0 {
		c.Broadcast.DefaultHeight = 480
	}
	if c.Broadcast.VideoBitrate == "" {
		c.Broadcast.VideoBitrate = "1000k"
	}
	if c.Broadcast.FrameRate == 0 {
		c.Broadcast.FrameRate = 25
	}
	if c.Broadcast.ClientQueue == 0 {
		c.Broadcast.ClientQueue = 64
	}
	if c.HLS.OutputRoot == "" {
		c.HLS.OutputRoot = "streams"
	}
	if c.HLS.SegmentSeconds == 0 {
		c.HLS.SegmentSeconds = 2
	}
	if c.HLS.WindowSize == 0 {
		c.HLS.WindowSize = 6
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/streams.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnv overrides selected keys from the environment so deployments
// can tweak paths and ports without editing the YAML file.
func (c *Config) applyEnv() {
	c.Transcoder.FFmpegPath = getEnv("FFMPEG_PATH", c.Transcoder.FFmpegPath)
	c.Server.HTTPPort = getEnvInt("HTTP_PORT", c.Server.HTTPPort)
	c.Broadcast.BasePort = getEnvInt("BROADCAST_BASE_PORT", c.Broadcast.BasePort)
	c.HLS.OutputRoot = getEnv("HLS_OUTPUT_ROOT", c.HLS.OutputRoot)
	c.Database.Path = getEnv("DATABASE_PATH", c.Database.Path)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Broadcast.BasePort <= 0 || c.Broadcast.BasePort > 65535 {
		return fmt.Errorf("invalid broadcast base_port: %d", c.Broadcast.BasePort)
	}

	if c.HLS.SegmentSeconds <= 0 {
		return fmt.Errorf("segment_seconds must be positive")
	}

	if c.HLS.WindowSize <= 0 {
		return fmt.Errorf("window_size must be positive")
	}

	if c.Transcoder.RTSPTransport != "tcp" && c.Transcoder.RTSPTransport != "udp" {
		return fmt.Errorf("invalid rtsp_transport: %s", c.Transcoder.RTSPTransport)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
