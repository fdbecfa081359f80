package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/hush/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.DetectorChanged || d.ThresholdChanged {
		t.Errorf("unexpected detector change: %+v", d)
	}
}

func TestDiff_ThresholdOnly(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Detector.ThresholdDB = -50

	d := config.Diff(old, new)
	if !d.ThresholdChanged || d.NewThresholdDB != -50 {
		t.Errorf("expected threshold change to -50, got %+v", d)
	}
	if d.DetectorChanged {
		t.Error("threshold alone must not count as a detector change")
	}
}

func TestDiff_DetectorAndStream(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Detector.StepSize = 512
	new.Stream.MaxSessions = 2

	d := config.Diff(old, new)
	if !d.DetectorChanged {
		t.Error("expected DetectorChanged=true")
	}
	if !d.StreamChanged {
		t.Error("expected StreamChanged=true")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":9999"
	new.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
	new.Telemetry.ServiceName = "other"

	d := config.Diff(old, new)
	for _, want := range []string{"server.listen_addr", "server.tls", "telemetry"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}

	// Equal TLS settings behind distinct pointers are not a change.
	same := config.Default()
	same.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
	twin := config.Default()
	twin.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
	if d := config.Diff(same, twin); !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}
