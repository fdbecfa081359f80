package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// Hot-reloadable.
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	ThresholdChanged bool
	NewThresholdDB   float64

	// DetectorChanged is true if classifier, step size, block size or
	// first-block refinement changed. Applies to sessions started afterwards.
	DetectorChanged bool

	// StreamChanged is true if any stream default or limit changed. Applies
	// to sessions started afterwards.
	StreamChanged bool

	// RestartRequired lists settings that only take effect after a restart.
	RestartRequired []string
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ThresholdChanged && !d.DetectorChanged &&
		!d.StreamChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Detector
	if old.Detector.ThresholdDB != new.Detector.ThresholdDB {
		d.ThresholdChanged = true
		d.NewThresholdDB = new.Detector.ThresholdDB
	}
	od, nd := old.Detector, new.Detector
	od.ThresholdDB, nd.ThresholdDB = 0, 0
	d.DetectorChanged = od != nd

	d.StreamChanged = old.Stream != new.Stream

	// Restart-only settings.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
