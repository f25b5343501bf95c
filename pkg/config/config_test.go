package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

func TestLoadGlobalDefaultsWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadGlobal(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.RuntimeHome)
	assert.Equal(t, LogLevelInfo, cfg.LogLevel)
	assert.Equal(t, "unix", cfg.IPCBind)
	assert.Equal(t, filepath.Join(dir, "daemon", "socket"), cfg.IPCAddress)
}

func TestLoadGlobalFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := []byte("developer_mode: true\nlog_level: DEBUG\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), raw, 0o644))

	cfg, err := LoadGlobal(dir)
	require.NoError(t, err)
	assert.True(t, cfg.DeveloperMode)
	assert.Equal(t, LogLevelDebug, cfg.LogLevel)
}

func TestGroupDocumentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := GroupDocument{
		GroupID: "g1",
		Title:   "Build",
		Scopes:  []ScopeDocument{{ScopeKey: "repo", Path: "/tmp/repo"}},
		Actors: []ActorDocument{{
			ActorID: "foreman-1", Role: contracts.RoleForeman,
			Runtime: "claude", Runner: contracts.RunnerPTY,
			Command: []string{"claude"}, Enabled: true,
		}},
		Settings: contracts.DefaultGroupSettings(),
	}
	require.NoError(t, SaveGroupDocument(dir, doc))

	got, err := LoadGroupDocument(dir, "g1")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	require.Len(t, got.Actors, 1)
	assert.Equal(t, "foreman-1", got.Actors[0].ActorID)
	assert.Equal(t, contracts.RoleForeman, got.Actors[0].Role)
}

func TestRegistryUpsertRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	reg, ok := LoadRegistry(dir)
	assert.False(t, ok)

	reg = reg.Upsert(RegistryEntry{GroupID: "g1", Title: "One", State: contracts.GroupActive})
	reg = reg.Upsert(RegistryEntry{GroupID: "g2", Title: "Two", State: contracts.GroupActive})
	require.NoError(t, SaveRegistry(dir, reg))

	loaded, ok := LoadRegistry(dir)
	require.True(t, ok)
	require.Len(t, loaded.Groups, 2)

	loaded = loaded.Remove("g1")
	require.NoError(t, SaveRegistry(dir, loaded))
	loaded, ok = LoadRegistry(dir)
	require.True(t, ok)
	require.Len(t, loaded.Groups, 1)
	assert.Equal(t, "g2", loaded.Groups[0].GroupID)
}

func TestRegistryUpsertReplacesByGroupID(t *testing.T) {
	var reg Registry
	reg = reg.Upsert(RegistryEntry{GroupID: "g1", Title: "old"})
	reg = reg.Upsert(RegistryEntry{GroupID: "g1", Title: "new"})
	require.Len(t, reg.Groups, 1)
	assert.Equal(t, "new", reg.Groups[0].Title)
}

func TestBlueprintRoundTripExcludesScopes(t *testing.T) {
	doc := GroupDocument{
		GroupID: "g1",
		Title:   "Build",
		Scopes:  []ScopeDocument{{ScopeKey: "repo", Path: "/tmp/repo"}},
		Actors: []ActorDocument{{
			ActorID: "peer-1", Role: contracts.RolePeer,
			Runtime: "codex", Runner: contracts.RunnerHeadless,
			Enabled: true, EnvKeys: []string{"API_KEY"},
		}},
		Settings: contracts.DefaultGroupSettings(),
		Automation: contracts.Ruleset{
			Rules: []contracts.Rule{{
				ID: "r1", Enabled: true,
				Trigger: contracts.Trigger{Kind: contracts.TriggerEverySeconds, EverySeconds: 60},
				Action:  contracts.RuleAction{Kind: contracts.ActionNotify, NotifyText: "tick"},
			}},
			Version: 7,
		},
	}

	raw, err := MarshalBlueprint(ExportBlueprint(doc))
	require.NoError(t, err)

	bp, err := UnmarshalBlueprint(raw)
	require.NoError(t, err)
	require.Len(t, bp.Actors, 1)
	assert.Equal(t, []string{"API_KEY"}, bp.Actors[0].EnvKeys)

	fresh := ApplyBlueprint(GroupDocument{GroupID: "g2", Title: "Copy"}, bp)
	assert.Empty(t, fresh.Scopes, "blueprints never carry scopes")
	assert.Equal(t, doc.Actors, fresh.Actors)
	assert.Equal(t, doc.Settings, fresh.Settings)
	require.Len(t, fresh.Automation.Rules, 1)
	assert.Equal(t, 0, fresh.Automation.Version, "imported ruleset restarts its version sequence")
}

func TestExpandEnvSubstitutesVariables(t *testing.T) {
	t.Setenv("CCCC_TEST_HOME", "/srv/cccc")
	out := ExpandEnv([]byte("path: ${CCCC_TEST_HOME}/data"))
	assert.Equal(t, "path: /srv/cccc/data", string(out))
}
