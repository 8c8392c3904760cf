package live

import (
	"testing"
	"time"

	"github.com/haasonsaas/livelink/internal/config"
)

func TestProfileFromConfig(t *testing.T) {
	profiles := config.DefaultProfiles()

	phone := ProfileFromConfig(config.ProfilePhone, profiles[config.ProfilePhone])
	def := ProfileFromConfig(config.ProfileDefault, profiles[config.ProfileDefault])

	if phone.Dispatch.InjectDeferred {
		t.Fatal("phone profile should not inject deferred results")
	}
	if !def.Dispatch.InjectDeferred {
		t.Fatal("default profile should inject deferred results")
	}
	if phone.Dispatch.ToolTimeout >= def.Dispatch.ToolTimeout {
		t.Fatalf("phone tool timeout %s should be tighter than default %s", phone.Dispatch.ToolTimeout, def.Dispatch.ToolTimeout)
	}
	if phone.Budget.MemoryChars >= def.Budget.MemoryChars || phone.Budget.LogTail >= def.Budget.LogTail {
		t.Fatalf("phone budget should be smaller: phone=%+v default=%+v", phone.Budget, def.Budget)
	}
}

func TestProfileNegativeBudgetDisablesSegment(t *testing.T) {
	p := ProfileFromConfig("custom", config.ProfileConfig{
		ToolTimeout:    2 * time.Second,
		ResultMaxChars: -1,
		MemoryChars:    -1,
		LogTail:        5,
	})
	if p.Dispatch.ResultMaxChars != 0 {
		t.Fatalf("result cap = %d, want 0 (unlimited)", p.Dispatch.ResultMaxChars)
	}
	if p.Budget.MemoryChars != 0 || p.Budget.LogTail != 5 {
		t.Fatalf("unexpected budget %+v", p.Budget)
	}
	if p.Dispatch.InjectDeferred {
		t.Fatal("unset inject flag should be off")
	}
}
