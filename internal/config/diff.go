package config

import (
	"reflect"
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonasChanged is true when the effective persona list differs.
	PersonasChanged bool
	PersonaChanges  []PersonaDiff

	GapChanged bool
	NewGap     time.Duration

	// RestartRequired lists top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// PersonaDiff describes what changed for one persona id.
type PersonaDiff struct {
	ID      string
	Added   bool
	Removed bool
	Changed bool
}

// Diff compares old and new configs. Personas, the log level and the
// playback gap are applied live; everything else is reported in
// RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.PersonaChanges = diffPersonas(old.Personas, new.Personas)
	d.PersonasChanged = len(d.PersonaChanges) > 0

	if old.Speech.Gap != new.Speech.Gap {
		d.GapChanged = true
		d.NewGap = new.Speech.Gap
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldSpeech, newSpeech := old.Speech, new.Speech
	oldSpeech.Gap, newSpeech.Gap = 0, 0
	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"generation", old.Generation, new.Generation},
		{"speech", oldSpeech, newSpeech},
		{"debate", old.Debate, new.Debate},
		{"personas.default_voice", old.Personas.DefaultVoice, new.Personas.DefaultVoice},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

// diffPersonas compares the effective persona lists, sorted by id.
func diffPersonas(old, new PersonasConfig) []PersonaDiff {
	oldList, newList := old.List(), new.List()
	oldByID := make(map[string]int, len(oldList))
	for i, p := range oldList {
		oldByID[p.ID] = i
	}
	newByID := make(map[string]int, len(newList))
	for i, p := range newList {
		newByID[p.ID] = i
	}

	var out []PersonaDiff
	for id, i := range oldByID {
		j, ok := newByID[id]
		switch {
		case !ok:
			out = append(out, PersonaDiff{ID: id, Removed: true})
		case !reflect.DeepEqual(oldList[i], newList[j]):
			out = append(out, PersonaDiff{ID: id, Changed: true})
		}
	}
	for id := range newByID {
		if _, ok := oldByID[id]; !ok {
			out = append(out, PersonaDiff{ID: id, Added: true})
		}
	}
	slices.SortFunc(out, func(a, b PersonaDiff) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
