package capabilities

import (
	"path"
	"strings"
)

// Allowlist is a PermissionChecker driven by glob patterns on capability names.
//
// Evaluation order: Deny wins, then AdminOnly requires an admin caller (or a
// user listed in AdminUsers), then Allow (empty means everything).
type Allowlist struct {
	Allow      []string
	Deny       []string
	AdminOnly  []string
	AdminUsers []string
}

// IsPermitted reports whether caller may run the named capability. A nil
// Allowlist permits nothing.
func (a *Allowlist) IsPermitted(name string, caller Caller) bool {
	if a == nil {
		return false
	}
	if matchAny(a.Deny, name) {
		return false
	}
	if matchAny(a.AdminOnly, name) && !a.isAdmin(caller) {
		return false
	}
	if len(a.Allow) == 0 {
		return true
	}
	return matchAny(a.Allow, name)
}

func (a *Allowlist) isAdmin(caller Caller) bool {
	if caller.Admin {
		return true
	}
	for _, id := range a.AdminUsers {
		if id != "" && id == caller.UserID {
			return true
		}
	}
	return false
}

// DenyAll is a PermissionChecker that refuses everything.
type DenyAll struct{}

func (DenyAll) IsPermitted(string, Caller) bool { return false }

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == name {
			return true
		}
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
