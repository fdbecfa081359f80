package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/silence"
)

// ValidClassifierNames lists the classifiers hush ships with.
// Used by [Validate] to warn about unrecognised classifier names.
var ValidClassifierNames = []string{"energy", "peak"}

// Default returns the configuration used when no file is given. Every value
// omitted from a loaded file keeps its default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Detector: DetectorConfig{
			Classifier:  "energy",
			ThresholdDB: silence.DefaultThresholdDB,
			StepSize:    silence.PreferredStepSize,
			BlockSize:   silence.PreferredBlockSize,
		},
		Stream: StreamConfig{
			Encoding:    audio.EncodingFloat32LE,
			SampleRate:  48000,
			Channels:    1,
			MaxSessions: 64,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "hush",
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Detector
	det := cfg.Detector
	if det.Classifier == "" {
		errs = append(errs, errors.New("detector.classifier is required"))
	} else {
		validateClassifierName(det.Classifier)
	}
	if det.ThresholdDB < silence.MinThresholdDB || det.ThresholdDB > silence.MaxThresholdDB {
		errs = append(errs, fmt.Errorf("detector.threshold_db %.1f is out of range [%.0f, %.0f]", det.ThresholdDB, silence.MinThresholdDB, silence.MaxThresholdDB))
	}
	if det.StepSize < silence.MinStepSize || det.StepSize > silence.MaxStepSize {
		errs = append(errs, fmt.Errorf("detector.step_size %d is out of range [%d, %d]", det.StepSize, silence.MinStepSize, silence.MaxStepSize))
	}
	if det.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("detector.block_size %d must not be negative", det.BlockSize))
	}
	if det.BlockSize > 0 && det.BlockSize < det.StepSize {
		slog.Warn("detector.block_size is smaller than step_size; only step_size frames of each block are analysed",
			"block_size", det.BlockSize,
			"step_size", det.StepSize,
		)
	}

	// Stream
	st := cfg.Stream
	if !st.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("stream.encoding %q is invalid; valid values: pcm_f32le, pcm_s16le, mulaw, alaw", st.Encoding))
	}
	if st.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("stream.sample_rate %d must be positive", st.SampleRate))
	}
	if st.Channels < 1 || st.Channels > silence.MaxChannels {
		errs = append(errs, fmt.Errorf("stream.channels %d is out of range [1, %d]", st.Channels, silence.MaxChannels))
	}
	if st.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("stream.max_sessions %d must not be negative", st.MaxSessions))
	}

	return errors.Join(errs...)
}

// validateClassifierName logs a warning if name is not one of
// [ValidClassifierNames]. Unknown names may still resolve through a
// [Registry] populated by the embedding program.
func validateClassifierName(name string) {
	if slices.Contains(ValidClassifierNames, name) {
		return
	}
	slog.Warn("unknown classifier name; may be a typo or a custom classifier",
		"name", name,
		"known", ValidClassifierNames,
	)
}
