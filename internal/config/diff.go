package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are split from those that only take effect after a
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when the per-session settings differ. The new
	// settings apply to the next session.
	SessionChanged bool

	// RestartRequired names the changed settings that cannot be applied to a
	// running process.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SessionChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.SessionConfig() != new.SessionConfig() {
		d.SessionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if !equalProvider(old.Provider, new.Provider) {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	if !slices.EqualFunc(old.Fallbacks, new.Fallbacks, equalProvider) {
		d.RestartRequired = append(d.RestartRequired, "fallbacks")
	}
	if old.Audio.Device != new.Audio.Device {
		d.RestartRequired = append(d.RestartRequired, "audio.device")
	}
	if old.Voice.Greeting != new.Voice.Greeting {
		d.RestartRequired = append(d.RestartRequired, "voice.greeting")
	}
	if old.Site.InitialPage != new.Site.InitialPage {
		d.RestartRequired = append(d.RestartRequired, "site.initial_page")
	}
	if old.Breaker != new.Breaker {
		d.RestartRequired = append(d.RestartRequired, "breaker")
	}

	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name &&
		a.APIKey == b.APIKey &&
		a.BaseURL == b.BaseURL &&
		a.Model == b.Model &&
		reflect.DeepEqual(a.Options, b.Options)
}
