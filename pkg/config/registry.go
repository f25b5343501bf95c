package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// RegistryEntry is one group's summary in registry.json: enough to
// enumerate groups on startup without scanning every group.yaml.
type RegistryEntry struct {
	GroupID string               `json:"group_id"`
	Title   string               `json:"title"`
	Scopes  []string             `json:"scopes,omitempty"`
	State   contracts.GroupState `json:"state"`
}

// Registry is the runtime home's top-level index of known groups.
type Registry struct {
	Groups []RegistryEntry `json:"groups"`
}

func registryPath(runtimeHome string) string {
	return filepath.Join(runtimeHome, "registry.json")
}

// LoadRegistry reads registry.json, falling back to an empty Registry if
// it is missing or corrupt (the caller is expected to then rebuild it from
// a directory scan of groups/, mirroring the ledger's own
// truncate-and-recover posture for its own files).
func LoadRegistry(runtimeHome string) (Registry, bool) {
	raw, err := os.ReadFile(registryPath(runtimeHome))
	if err != nil {
		return Registry{}, false
	}
	var reg Registry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return Registry{}, false
	}
	return reg, true
}

// SaveRegistry writes registry.json atomically.
func SaveRegistry(runtimeHome string, reg Registry) error {
	sort.Slice(reg.Groups, func(i, j int) bool { return reg.Groups[i].GroupID < reg.Groups[j].GroupID })
	raw, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	path := registryPath(runtimeHome)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return os.Rename(tmp, path)
}

// Upsert adds or replaces entry by GroupID, returning the updated Registry.
func (r Registry) Upsert(entry RegistryEntry) Registry {
	for i, e := range r.Groups {
		if e.GroupID == entry.GroupID {
			r.Groups[i] = entry
			return r
		}
	}
	r.Groups = append(r.Groups, entry)
	return r
}

// Remove drops groupID from the registry, returning the updated Registry.
func (r Registry) Remove(groupID string) Registry {
	out := r.Groups[:0]
	for _, e := range r.Groups {
		if e.GroupID != groupID {
			out = append(out, e)
		}
	}
	r.Groups = out
	return r
}
