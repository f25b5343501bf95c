package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LogLevel is the granularity of the daemon's structured logging.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelDebug LogLevel = "DEBUG"
)

// TerminalTranscriptConfig bounds how much PTY output the runner
// supervisor retains per actor, independent of any single group's
// transcript-visibility setting.
type TerminalTranscriptConfig struct {
	PerActorBytes int `yaml:"per_actor_bytes"`
}

// TerminalUIConfig controls local terminal-facing ports (out of scope for
// the daemon itself, but the daemon owns the setting so every port reads
// the same value).
type TerminalUIConfig struct {
	ScrollbackLines int `yaml:"scrollback_lines"`
}

// Global is the daemon-wide configuration rooted at the runtime home
// (default ~/.cccc).
type Global struct {
	RuntimeHome string `yaml:"-"`

	DeveloperMode bool     `yaml:"developer_mode"`
	LogLevel      LogLevel `yaml:"log_level"`

	TerminalTranscript TerminalTranscriptConfig `yaml:"terminal_transcript"`
	TerminalUI         TerminalUIConfig         `yaml:"terminal_ui"`

	// AuthToken is the bearer token required on ipc connections bound
	// outside localhost. Empty means no token is required (only
	// safe for a loopback-only bind).
	AuthToken string `yaml:"-"`

	// IPCBind is "unix" (default) or "tcp"; IPCAddress is the socket path
	// or host:port correspondingly.
	IPCBind    string `yaml:"ipc_bind"`
	IPCAddress string `yaml:"ipc_address"`

	// BlobMirrorBucket optionally mirrors blobs to S3; empty disables it.
	BlobMirrorBucket string `yaml:"-"`
}

// DefaultGlobal returns the documented defaults, before any file or env
// overlay is applied.
func DefaultGlobal(runtimeHome string) Global {
	return Global{
		RuntimeHome:   runtimeHome,
		DeveloperMode: false,
		LogLevel:      LogLevelInfo,
		TerminalTranscript: TerminalTranscriptConfig{
			PerActorBytes: 64 * 1024,
		},
		TerminalUI: TerminalUIConfig{
			ScrollbackLines: 10000,
		},
		IPCBind:    "unix",
		IPCAddress: filepath.Join(runtimeHome, "daemon", "socket"),
	}
}

// LoadGlobal loads the global config for runtimeHome: defaults, then
// <runtimeHome>/config.yaml if present, then environment overrides
// (after loading <runtimeHome>/.env via godotenv, so a .env is in effect
// before os.Getenv is consulted).
func LoadGlobal(runtimeHome string) (Global, error) {
	cfg := DefaultGlobal(runtimeHome)

	envPath := filepath.Join(runtimeHome, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("no .env file loaded for runtime home", "path", envPath, "err", err)
	}

	path := filepath.Join(runtimeHome, "config.yaml")
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw = ExpandEnv(raw)
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Global{}, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
		}
		cfg.RuntimeHome = runtimeHome
	case os.IsNotExist(err):
		// defaults stand; config.yaml is optional.
	default:
		return Global{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides layers CCCC_* environment variables on top of the
// file-loaded config, the outermost tier of the defaults -> file -> env
// chain.
func applyEnvOverrides(cfg *Global) {
	if v := os.Getenv("CCCC_DEVELOPER_MODE"); v != "" {
		cfg.DeveloperMode = v == "1" || v == "true"
	}
	if v := os.Getenv("CCCC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = LogLevel(v)
	}
	if v := os.Getenv("CCCC_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("CCCC_IPC_BIND"); v != "" {
		cfg.IPCBind = v
	}
	if v := os.Getenv("CCCC_IPC_ADDRESS"); v != "" {
		cfg.IPCAddress = v
	}
	if v := os.Getenv("CCCC_BLOB_MIRROR_BUCKET"); v != "" {
		cfg.BlobMirrorBucket = v
	}
}
