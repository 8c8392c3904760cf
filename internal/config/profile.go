package config

import "time"

// Built-in profile names.
const (
	ProfileDefault = "default"
	ProfilePhone   = "phone"
)

// ProfileConfig is a named bundle of per-channel limits. Zero values inherit
// from the default profile; a negative budget disables that context segment.
type ProfileConfig struct {
	ToolTimeout           time.Duration `yaml:"tool_timeout"`
	ResultMaxChars        int           `yaml:"result_max_chars"`
	MemoryChars           int           `yaml:"memory_chars"`
	SummaryChars          int           `yaml:"summary_chars"`
	SituationChars        int           `yaml:"situation_chars"`
	LogTail               int           `yaml:"log_tail"`
	LogEntryChars         int           `yaml:"log_entry_chars"`
	LogCap                int           `yaml:"log_cap"`
	CheckpointEvery       int           `yaml:"checkpoint_every"`
	InjectDeferredResults *bool         `yaml:"inject_deferred_results"`
}

// DefaultProfiles returns the built-in profiles. "phone" suits constrained
// telephony sessions that are sensitive to injected turns.
func DefaultProfiles() map[string]ProfileConfig {
	return map[string]ProfileConfig{
		ProfileDefault: {
			ToolTimeout:           8 * time.Second,
			ResultMaxChars:        4000,
			MemoryChars:           4000,
			SummaryChars:          1500,
			SituationChars:        1500,
			LogTail:               20,
			LogEntryChars:         300,
			LogCap:                60,
			CheckpointEvery:       3,
			InjectDeferredResults: boolPtr(true),
		},
		ProfilePhone: {
			ToolTimeout:           4 * time.Second,
			ResultMaxChars:        1000,
			MemoryChars:           400,
			SummaryChars:          600,
			SituationChars:        500,
			LogTail:               6,
			LogEntryChars:         200,
			LogCap:                40,
			CheckpointEvery:       2,
			InjectDeferredResults: boolPtr(false),
		},
	}
}

func (p ProfileConfig) withDefaults(base ProfileConfig) ProfileConfig {
	if p.ToolTimeout == 0 {
		p.ToolTimeout = base.ToolTimeout
	}
	if p.ResultMaxChars == 0 {
		p.ResultMaxChars = base.ResultMaxChars
	}
	if p.MemoryChars == 0 {
		p.MemoryChars = base.MemoryChars
	}
	if p.SummaryChars == 0 {
		p.SummaryChars = base.SummaryChars
	}
	if p.SituationChars == 0 {
		p.SituationChars = base.SituationChars
	}
	if p.LogTail == 0 {
		p.LogTail = base.LogTail
	}
	if p.LogEntryChars == 0 {
		p.LogEntryChars = base.LogEntryChars
	}
	if p.LogCap == 0 {
		p.LogCap = base.LogCap
	}
	if p.CheckpointEvery == 0 {
		p.CheckpointEvery = base.CheckpointEvery
	}
	if p.InjectDeferredResults == nil {
		p.InjectDeferredResults = base.InjectDeferredResults
	}
	return p
}

// Budget clamps a configured budget: negative values disable the segment.
func Budget(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
