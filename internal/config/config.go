// Package config provides the configuration schema, loader, and classifier
// registry for the hush silence detection service.
package config

import (
	"log/slog"

	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/silence"
)

// LogLevel controls log verbosity for the hush server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the matching [slog.Level]. Unknown and empty levels map
// to [slog.LevelInfo].
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for hush.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Detector  DetectorConfig  `yaml:"detector"`
	Stream    StreamConfig    `yaml:"stream"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the hush server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DetectorConfig holds the analysis settings shared by batch analysis and
// streaming sessions.
type DetectorConfig struct {
	// Classifier selects the registered silence classifier ("energy", "peak").
	Classifier string `yaml:"classifier"`

	// ThresholdDB is the silence threshold in dB, in [-120, 0].
	ThresholdDB float64 `yaml:"threshold_db"`

	// StepSize is the number of frames per analysed block.
	StepSize int `yaml:"step_size"`

	// BlockSize is the host analysis window. 0 means StepSize.
	BlockSize int `yaml:"block_size"`

	// RefineFirstBlock locates signal onset inside a non-silent first block
	// instead of reporting it at the block start.
	RefineFirstBlock bool `yaml:"refine_first_block"`
}

// Silence returns the detector configuration for a stream of the given
// format.
func (d DetectorConfig) Silence(sampleRate float64, channels int) silence.Config {
	return silence.Config{
		SampleRate:  sampleRate,
		Channels:    channels,
		StepSize:    d.StepSize,
		BlockSize:   d.BlockSize,
		ThresholdDB: d.ThresholdDB,
	}
}

// StreamConfig holds the defaults and limits for WebSocket streaming
// sessions. Clients may override the format per session.
type StreamConfig struct {
	// Encoding is the default payload encoding of binary audio frames.
	Encoding audio.Encoding `yaml:"encoding"`

	// SampleRate is the default sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the default number of interleaved channels.
	Channels int `yaml:"channels"`

	// MaxSessions caps concurrently open sessions. 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`
}

// Format returns the default stream format.
func (s StreamConfig) Format() audio.Format {
	return audio.Format{SampleRate: s.SampleRate, Channels: s.Channels}
}

// TelemetryConfig configures the OpenTelemetry providers.
type TelemetryConfig struct {
	// ServiceName is the service name reported in telemetry.
	ServiceName string `yaml:"service_name"`
}
