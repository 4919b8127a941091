// Package config loads the server configuration from YAML.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Wyydra/ya-sfu/internal/adapter/driven/worker/process"
)

type Config struct {
	HTTP   HTTPConfig   `yaml:"http"`
	Log    LogConfig    `yaml:"log"`
	Worker WorkerConfig `yaml:"worker"`
	Router RouterConfig `yaml:"router"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Console switches to human readable output.
	Console bool `yaml:"console"`
}

type WorkerConfig struct {
	Binary              string   `yaml:"binary"`
	Version             string   `yaml:"version"`
	LogLevel            string   `yaml:"log_level"`
	LogTags             []string `yaml:"log_tags"`
	RtcMinPort          uint16   `yaml:"rtc_min_port"`
	RtcMaxPort          uint16   `yaml:"rtc_max_port"`
	DtlsCertificateFile string   `yaml:"dtls_certificate_file"`
	DtlsPrivateKeyFile  string   `yaml:"dtls_private_key_file"`
	// StartTimeout bounds the wait for the worker's running notification.
	StartTimeout time.Duration `yaml:"start_timeout"`
}

type RouterConfig struct {
	// MediaCodecs are handed to the worker unchanged.
	MediaCodecs []map[string]any `yaml:"media_codecs"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Worker: WorkerConfig{
			Binary:       "mediasoup-worker",
			Version:      "3.14.0",
			LogLevel:     "warn",
			RtcMinPort:   10000,
			RtcMaxPort:   59999,
			StartTimeout: 10 * time.Second,
		},
		Router: RouterConfig{
			MediaCodecs: []map[string]any{
				{"kind": "audio", "mimeType": "audio/opus", "clockRate": 48000, "channels": 2},
				{"kind": "video", "mimeType": "video/VP8", "clockRate": 90000},
			},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var workerLogLevels = map[string]bool{"debug": true, "warn": true, "error": true, "none": true}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid http shutdown_timeout: %v (must be positive)", c.HTTP.ShutdownTimeout)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Worker.Binary == "" {
		return errors.New("worker binary is required")
	}
	if !workerLogLevels[c.Worker.LogLevel] {
		return fmt.Errorf("invalid worker log_level: %q (must be one of debug, warn, error, none)", c.Worker.LogLevel)
	}
	if c.Worker.RtcMinPort > c.Worker.RtcMaxPort {
		return fmt.Errorf("invalid rtc port range: %d-%d", c.Worker.RtcMinPort, c.Worker.RtcMaxPort)
	}
	if (c.Worker.DtlsCertificateFile == "") != (c.Worker.DtlsPrivateKeyFile == "") {
		return errors.New("dtls_certificate_file and dtls_private_key_file must be set together")
	}
	if c.Worker.StartTimeout <= 0 {
		return fmt.Errorf("invalid worker start_timeout: %v (must be positive)", c.Worker.StartTimeout)
	}
	if _, err := c.Router.MediaCodecsJSON(); err != nil {
		return fmt.Errorf("invalid router media_codecs: %w", err)
	}
	return nil
}

// LogLevel returns the parsed log level. Validate has checked it.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func (c WorkerConfig) ProcessSettings() process.Settings {
	return process.Settings{
		Binary:              c.Binary,
		Version:             c.Version,
		LogLevel:            c.LogLevel,
		LogTags:             c.LogTags,
		RtcMinPort:          c.RtcMinPort,
		RtcMaxPort:          c.RtcMaxPort,
		DtlsCertificateFile: c.DtlsCertificateFile,
		DtlsPrivateKeyFile:  c.DtlsPrivateKeyFile,
	}
}

func (c RouterConfig) MediaCodecsJSON() (json.RawMessage, error) {
	if len(c.MediaCodecs) == 0 {
		return nil, nil
	}
	return json.Marshal(c.MediaCodecs)
}
