package runner

import (
	"context"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// HeadlessRunner tracks a headless actor: there is no child process to
// supervise, only a liveness signal the actor itself reports by polling
// its inbox over MCP. Start/Stop here only flip the lifecycle bookkeeping
// the rest of the daemon keys off of (enabled/disabled, start/stop
// events); there is nothing to spawn or kill.
type HeadlessRunner struct {
	actorID string

	mu            sync.Mutex
	state         LifecycleState
	headless      HeadlessStatus
	startedAt     time.Time
	lastHeartbeat time.Time
}

// NewHeadlessRunner constructs a HeadlessRunner for actorID.
func NewHeadlessRunner(actorID string) *HeadlessRunner {
	return &HeadlessRunner{actorID: actorID, state: StateStopped, headless: HeadlessOffline}
}

func (r *HeadlessRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return contracts.NewDomainError(contracts.CodeActorAlreadyRunning, "actor already running", map[string]interface{}{"actor_id": r.actorID})
	}
	r.state = StateRunning
	r.headless = HeadlessOnline
	r.startedAt = time.Now()
	r.lastHeartbeat = time.Now()
	return nil
}

func (r *HeadlessRunner) Stop(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateStopped
	r.headless = HeadlessOffline
	return nil
}

// Inject is always ErrNotInjectable: headless actors discover messages by
// polling their inbox, never by injected text.
func (r *HeadlessRunner) Inject(ctx context.Context, text string) error {
	return ErrNotInjectable
}

func (r *HeadlessRunner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		ActorID:      r.actorID,
		Runner:       contracts.RunnerHeadless,
		Lifecycle:    r.state,
		Headless:     r.heartbeatStatus(),
		StartedAt:    r.startedAt,
		LastOutputAt: r.lastHeartbeat,
	}
}

func (r *HeadlessRunner) TranscriptTail(n int) []byte { return nil }

// Heartbeat records an inbox poll or explicit liveness ping from the
// actor, used by the actor-idle nudge policy and by liveness display.
func (r *HeadlessRunner) Heartbeat(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastHeartbeat = time.Now()
	if busy {
		r.headless = HeadlessBusy
	} else {
		r.headless = HeadlessOnline
	}
}

// heartbeatIdleThreshold is how long without a heartbeat before a running
// headless actor is reported offline.
const heartbeatIdleThreshold = 120 * time.Second

func (r *HeadlessRunner) heartbeatStatus() HeadlessStatus {
	if r.state != StateRunning {
		return HeadlessOffline
	}
	if time.Since(r.lastHeartbeat) > heartbeatIdleThreshold {
		return HeadlessOffline
	}
	return r.headless
}
