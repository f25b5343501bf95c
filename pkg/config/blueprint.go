package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// BlueprintVersion is the current blueprint document schema version.
const BlueprintVersion = 1

// Blueprint is a ledger-excluding, exportable snapshot of a group's
// actors, settings, and automation ruleset: importing one into a fresh
// group reproduces the same actor/settings/automation configuration,
// excluding secrets and ledger history.
type Blueprint struct {
	V          int                     `yaml:"v"`
	Title      string                  `yaml:"title"`
	Topic      string                  `yaml:"topic,omitempty"`
	Actors     []ActorDocument         `yaml:"actors"`
	Settings   contracts.GroupSettings `yaml:"settings"`
	Automation contracts.Ruleset       `yaml:"automation"`
}

// ExportBlueprint renders doc as a Blueprint: scopes, ledger history, and
// secret values are deliberately excluded; ActorDocument.EnvKeys carries
// only the names an operator must re-supply after import.
func ExportBlueprint(doc GroupDocument) Blueprint {
	return Blueprint{
		V:          BlueprintVersion,
		Title:      doc.Title,
		Topic:      doc.Topic,
		Actors:     doc.Actors,
		Settings:   doc.Settings,
		Automation: doc.Automation,
	}
}

// MarshalBlueprint serializes a Blueprint to YAML bytes.
func MarshalBlueprint(bp Blueprint) ([]byte, error) {
	return yaml.Marshal(bp)
}

// UnmarshalBlueprint parses YAML bytes into a Blueprint.
func UnmarshalBlueprint(raw []byte) (Blueprint, error) {
	var bp Blueprint
	if err := yaml.Unmarshal(ExpandEnv(raw), &bp); err != nil {
		return Blueprint{}, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return bp, nil
}

// ApplyBlueprint seeds a fresh GroupDocument's actors/settings/automation
// from bp, for import_blueprint into a newly created (empty) group. The
// ruleset's Version is reset to 0 so the first subsequent
// automation_update starts a fresh optimistic-concurrency sequence for
// the new group.
func ApplyBlueprint(doc GroupDocument, bp Blueprint) GroupDocument {
	doc.Actors = bp.Actors
	doc.Settings = bp.Settings
	doc.Automation = bp.Automation
	doc.Automation.Version = 0
	return doc
}
