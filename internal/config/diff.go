package config

import "reflect"

// ConfigDiff describes which sections changed between two configs. The
// watcher hands it to the reload callback so callers can apply safe changes
// (log level, interview defaults) live and log a restart hint for the rest.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level differs. The new level
	// can be applied to the running slog handler without restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ServerChanged is true when listen address, TLS, or origin patterns
	// differ. Applying these requires a restart.
	ServerChanged bool

	// ProvidersChanged is true when any provider entry differs. Provider
	// clients are built once at startup, so this requires a restart.
	ProvidersChanged bool

	// StorageChanged is true when the PostgreSQL or Redis settings differ.
	// Requires a restart.
	StorageChanged bool

	// InterviewChanged is true when the session defaults differ. The new
	// defaults apply to sessions created after the reload.
	InterviewChanged bool
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ServerChanged || d.ProvidersChanged ||
		d.StorageChanged || d.InterviewChanged
}

// Diff compares old and new configs section by section.
func Diff(old, new *Config) ConfigDiff {
	if old == nil {
		old = &Config{}
	}
	if new == nil {
		new = &Config{}
	}

	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Compare the server section with log level masked out so a pure level
	// change does not flag a restart.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	d.ServerChanged = !reflect.DeepEqual(oldServer, newServer)

	d.ProvidersChanged = !reflect.DeepEqual(old.Providers, new.Providers)
	d.StorageChanged = old.Storage != new.Storage
	d.InterviewChanged = old.Interview != new.Interview

	return d
}
