package history

import "time"

// Config holds the thresholds of one Manager. The zero Config means
// DefaultConfig; otherwise every field is taken as given, zero included, and
// only negative values fall back to the default.
type Config struct {
	SessionTimeout       time.Duration
	MinSessionDuration   time.Duration
	MinTextChangeRatio   float64
	MinStructureChanges  int
	VersionWindow        time.Duration
	MaxVersionsPerWindow int
	Debounce             time.Duration
	MinEditCount         int
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout:       60 * time.Second,
		MinSessionDuration:   10 * time.Second,
		MinTextChangeRatio:   0.15,
		MinStructureChanges:  1,
		VersionWindow:        5 * time.Minute,
		MaxVersionsPerWindow: 5,
		Debounce:             2 * time.Second,
		MinEditCount:         3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c == (Config{}) {
		return d
	}
	if c.SessionTimeout < 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.MinSessionDuration < 0 {
		c.MinSessionDuration = d.MinSessionDuration
	}
	if c.MinTextChangeRatio < 0 {
		c.MinTextChangeRatio = d.MinTextChangeRatio
	}
	if c.MinStructureChanges < 0 {
		c.MinStructureChanges = d.MinStructureChanges
	}
	if c.VersionWindow < 0 {
		c.VersionWindow = d.VersionWindow
	}
	if c.MaxVersionsPerWindow < 0 {
		c.MaxVersionsPerWindow = d.MaxVersionsPerWindow
	}
	if c.Debounce < 0 {
		c.Debounce = d.Debounce
	}
	if c.MinEditCount < 0 {
		c.MinEditCount = d.MinEditCount
	}
	return c
}
