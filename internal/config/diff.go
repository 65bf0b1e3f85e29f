package config

// ConfigDiff describes what changed between two configs.
// Only log_level can be applied without a restart; the remaining flags let
// the caller warn that a restart is needed to pick the change up.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired is true when a field that cannot be hot-reloaded
	// changed (network addresses, engine settings, stream parameters or
	// the store DSN).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Everything below is bound at startup. Sessions capture their stream
	// parameters when created and listeners bind their addresses once.
	serverStatic := old.Server
	serverStatic.LogLevel = new.Server.LogLevel
	if serverStatic != new.Server {
		d.RestartRequired = true
	}
	if old.Engine != new.Engine {
		d.RestartRequired = true
	}
	if old.Stream != new.Stream {
		d.RestartRequired = true
	}
	if old.Store != new.Store {
		d.RestartRequired = true
	}

	return d
}
