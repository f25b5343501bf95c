package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// ActorDocument is one actor entry of a group's group.yaml. Private env
// (secrets) never appears here: it lives under
// <runtime_home>/groups/<id>/state/secrets/<actor_id>.env, outside the
// ledger and outside this document; secret values never appear in
// events, exports, or reads.
type ActorDocument struct {
	ActorID string               `yaml:"actor_id"`
	Role    contracts.Role       `yaml:"role"`
	Runtime string               `yaml:"runtime"`
	Runner  contracts.RunnerKind `yaml:"runner"`
	Command []string             `yaml:"command,omitempty"`
	Profile string               `yaml:"profile,omitempty"`
	Enabled bool                 `yaml:"enabled"`
	// EnvKeys lists the names (never the values) of env vars this actor
	// expects to be populated from its secrets file. Carried here so a
	// blueprint export can tell an operator what to re-supply.
	EnvKeys []string `yaml:"env_keys,omitempty"`
}

// ScopeDocument mirrors contracts.Scope for the on-disk group.yaml.
type ScopeDocument struct {
	ScopeKey string `yaml:"scope_key"`
	Path     string `yaml:"path"`
}

// IMBinding records which IM platform/channel a group is bridged to, if
// any; the binding key itself is issued and consumed by pkg/imbridge and
// never persisted here.
type IMBinding struct {
	Platform string `yaml:"platform,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// GroupDocument is the group.yaml shape: the non-ledger, human-editable
// view of a group's static configuration. The ledger remains authoritative
// for everything this document also happens to describe (actors, scopes,
// settings, automation) — group.yaml is a convenience snapshot written
// whenever those change, and a seed when a group is first created or
// restored from a blueprint. A fsnotify watch on this file lets an operator
// hand-edit it and have the daemon pick up the change.
type GroupDocument struct {
	GroupID    string                  `yaml:"group_id"`
	Title      string                  `yaml:"title"`
	Topic      string                  `yaml:"topic,omitempty"`
	Scopes     []ScopeDocument         `yaml:"scopes,omitempty"`
	Actors     []ActorDocument         `yaml:"actors,omitempty"`
	Settings   contracts.GroupSettings `yaml:"settings"`
	Automation contracts.Ruleset       `yaml:"automation"`
	IM         *IMBinding              `yaml:"im,omitempty"`
}

func groupDocPath(runtimeHome, groupID string) string {
	return filepath.Join(runtimeHome, "groups", groupID, "group.yaml")
}

// LoadGroupDocument reads group.yaml for groupID.
func LoadGroupDocument(runtimeHome, groupID string) (GroupDocument, error) {
	path := groupDocPath(runtimeHome, groupID)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return GroupDocument{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	if err != nil {
		return GroupDocument{}, err
	}
	raw = ExpandEnv(raw)
	var doc GroupDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return GroupDocument{}, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}
	return doc, nil
}

// SaveGroupDocument writes group.yaml atomically (write-temp, rename),
// matching the durability discipline the ledger store uses for its own
// files.
func SaveGroupDocument(runtimeHome string, doc GroupDocument) error {
	path := groupDocPath(runtimeHome, doc.GroupID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create group dir: %w", err)
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal group document: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write group document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install group document: %w", err)
	}
	return nil
}

// SecretsPath returns the path to an actor's private env file, a
// key=value file outside the ledger and outside group.yaml.
func SecretsPath(runtimeHome, groupID, actorID string) string {
	return filepath.Join(runtimeHome, "groups", groupID, "state", "secrets", actorID+".env")
}

// LoadSecrets reads an actor's private env file via godotenv's parser,
// returning an empty map if the file does not exist (an actor with no
// secrets is the common case).
func LoadSecrets(runtimeHome, groupID, actorID string) (map[string]string, error) {
	path := SecretsPath(runtimeHome, groupID, actorID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	return godotenv.Read(path)
}
