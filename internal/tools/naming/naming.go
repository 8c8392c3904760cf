// Package naming maps internal capability names to wire-safe tool names.
//
// Capability names may carry structural separators such as dots
// (e.g. "calendar.create_event"). Tool names sent to the live service are
// restricted to letters, digits and underscores, so each dot becomes a double
// underscore and any other run of unsupported characters becomes a single
// underscore:
//
//	calendar.create_event  ->  calendar__create_event
//	mcp:files.read-file    ->  mcp_files__read_file
//
// A ToolNameMap is built once per connection generation from the capability
// snapshot and stays immutable for the life of that connection.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MaxWireNameLength is the maximum length for wire tool names.
const MaxWireNameLength = 64

// ToolNameMap is a bidirectional wire name <-> capability name table.
type ToolNameMap struct {
	byWire       map[string]string
	byCapability map[string]string
}

// CollisionError reports two capabilities competing for one wire name.
// Build resolves collisions by suffixing a hash; the error is informational.
type CollisionError struct {
	WireName string
	New      string
	Existing string
}

func (e CollisionError) Error() string {
	return fmt.Sprintf("tool name collision on %q: %s conflicts with %s", e.WireName, e.New, e.Existing)
}

// Build creates a map for the given capability names. Names are processed in
// sorted order so the result is deterministic. Duplicate capability names are
// ignored; wire collisions are disambiguated and returned as CollisionErrors.
func Build(capabilityNames []string) (*ToolNameMap, []CollisionError) {
	names := append([]string(nil), capabilityNames...)
	sort.Strings(names)

	m := &ToolNameMap{
		byWire:       make(map[string]string, len(names)),
		byCapability: make(map[string]string, len(names)),
	}
	var collisions []CollisionError
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := m.byCapability[name]; ok {
			continue
		}
		wire := WireName(name)
		if existing, ok := m.byWire[wire]; ok {
			collisions = append(collisions, CollisionError{WireName: wire, New: name, Existing: existing})
			wire = withHashSuffix(wire, name)
		}
		m.byWire[wire] = name
		m.byCapability[name] = wire
	}
	return m, collisions
}

// Capability returns the capability name for a wire name. Unmapped names fall
// back to ReverseName; ok reports whether the table had an entry.
func (m *ToolNameMap) Capability(wire string) (name string, ok bool) {
	if m != nil {
		if name, ok := m.byWire[wire]; ok {
			return name, true
		}
	}
	return ReverseName(wire), false
}

// Wire returns the wire name for a capability name, transforming names that
// were not part of the snapshot.
func (m *ToolNameMap) Wire(capability string) string {
	if m != nil {
		if wire, ok := m.byCapability[capability]; ok {
			return wire
		}
	}
	return WireName(capability)
}

// Len returns the number of entries.
func (m *ToolNameMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byWire)
}

// WireNames returns the wire names in sorted order.
func (m *ToolNameMap) WireNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.byWire))
	for wire := range m.byWire {
		out = append(out, wire)
	}
	sort.Strings(out)
	return out
}

var unsafeRun = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// WireName converts a capability name to its wire-safe form.
func WireName(name string) string {
	segments := strings.Split(name, ".")
	for i, segment := range segments {
		segments[i] = strings.Trim(unsafeRun.ReplaceAllString(segment, "_"), "_")
	}
	wire := strings.Join(segments, "__")
	if strings.Trim(wire, "_") == "" {
		wire = "tool"
	}
	if len(wire) > MaxWireNameLength {
		wire = withHashSuffix(wire[:MaxWireNameLength], name)
	}
	return wire
}

// ReverseName is the deterministic fallback for unmapped wire names: every
// double underscore becomes a dot.
func ReverseName(wire string) string {
	return strings.ReplaceAll(wire, "__", ".")
}

func withHashSuffix(base, seed string) string {
	h := sha256.Sum256([]byte(seed))
	suffix := "_" + hex.EncodeToString(h[:])[:8]
	if len(base)+len(suffix) > MaxWireNameLength {
		base = base[:MaxWireNameLength-len(suffix)]
	}
	return base + suffix
}
