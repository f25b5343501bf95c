package runner

import (
	"context"
	"time"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// LifecycleState is one node of the per-actor state machine:
// stopped -> starting -> running -> stopping -> stopped, with crashed
// a terminal variant of stopped.
type LifecycleState string

const (
	StateStopped  LifecycleState = "stopped"
	StateStarting LifecycleState = "starting"
	StateRunning  LifecycleState = "running"
	StateStopping LifecycleState = "stopping"
	StateCrashed  LifecycleState = "crashed"
)

// HeadlessStatus is the liveness status a headless actor reports via its
// own heartbeat/poll traffic.
type HeadlessStatus string

const (
	HeadlessOnline  HeadlessStatus = "online"
	HeadlessBusy    HeadlessStatus = "busy"
	HeadlessOffline HeadlessStatus = "offline"
)

// Status is a point-in-time snapshot of a runner's health, returned by
// Runner.Status and surfaced over ipc.
type Status struct {
	ActorID   string
	Runner    contracts.RunnerKind
	Lifecycle LifecycleState
	PID       int            // 0 for headless
	Headless  HeadlessStatus // zero value for PTY runners
	StartedAt time.Time
	LastError string

	// LastOutputAt is the last time the runner observed activity: PTY
	// transcript bytes for a PTY runner, or a heartbeat for headless. Zero
	// if the runner has never produced output. The delivery engine's
	// actor-idle nudge reads this.
	LastOutputAt time.Time
}

// Runner is the behavior a managed actor process exposes to the
// Supervisor, regardless of variant.
type Runner interface {
	// Start launches (or, for headless, begins tracking) the actor.
	Start(ctx context.Context) error
	// Stop requests a graceful stop, killing the process if it has not
	// exited within timeout. No-op for an already-stopped runner.
	Stop(ctx context.Context, timeout time.Duration) error
	// Inject delivers rendered text to a running PTY actor. Returns
	// ErrNotInjectable for a headless runner or a non-running PTY runner.
	Inject(ctx context.Context, text string) error
	// Status reports the runner's current lifecycle and health.
	Status() Status
	// TranscriptTail returns up to n bytes of the most recent transcript
	// output (PTY only; empty for headless).
	TranscriptTail(n int) []byte
}

// ErrNotInjectable is returned by Inject when the target cannot accept
// injected text (headless, or a PTY runner not currently running).
var ErrNotInjectable = contracts.NewDomainError(contracts.CodeActorNotRunning, "actor is not accepting injected text", nil)
