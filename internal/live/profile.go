package live

import (
	"github.com/haasonsaas/livelink/internal/config"
	"github.com/haasonsaas/livelink/internal/dispatch"
	"github.com/haasonsaas/livelink/internal/instructions"
)

// Profile is the resolved per-channel limit bundle a session runs with.
type Profile struct {
	Name            string
	Dispatch        dispatch.Policy
	Budget          instructions.Budget
	LogCap          int
	CheckpointEvery int
}

// ProfileFromConfig resolves a configured profile.
func ProfileFromConfig(name string, p config.ProfileConfig) Profile {
	return Profile{
		Name: name,
		Dispatch: dispatch.Policy{
			ToolTimeout:    p.ToolTimeout,
			ResultMaxChars: config.Budget(p.ResultMaxChars),
			InjectDeferred: config.Enabled(p.InjectDeferredResults),
		},
		Budget: instructions.Budget{
			MemoryChars:    config.Budget(p.MemoryChars),
			SummaryChars:   config.Budget(p.SummaryChars),
			SituationChars: config.Budget(p.SituationChars),
			LogTail:        config.Budget(p.LogTail),
			LogEntryChars:  config.Budget(p.LogEntryChars),
		},
		LogCap:          p.LogCap,
		CheckpointEvery: p.CheckpointEvery,
	}
}
