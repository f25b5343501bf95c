package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/metrics"
)

// Appender is the narrow slice of ledger.Store the supervisor needs:
// emitting actor.start/stop/restart events. Kept as an interface so
// pkg/runner never imports pkg/ledger directly.
type Appender interface {
	Append(groupID string, kind contracts.Kind, by, scopeKey string, data interface{}) (contracts.Event, error)
}

// RestartDrainTimeout bounds how long a restart waits for graceful exit
// before killing the process.
const RestartDrainTimeout = 10 * time.Second

type key struct {
	groupID string
	actorID string
}

// Supervisor owns every actor's Runner for the life of the daemon process.
// One Supervisor serves every group; actors are keyed by (group_id,
// actor_id).
type Supervisor struct {
	runtimeHome string
	appender    Appender
	metrics     *metrics.Collectors

	mu      sync.RWMutex
	runners map[key]Runner
}

// New constructs a Supervisor. runtimeHome is used for pid files under
// runtimeHome/pids/<group_id>/<actor_id>.pid, which AdoptOrphans scans at
// startup.
func New(runtimeHome string, appender Appender) *Supervisor {
	return &Supervisor{runtimeHome: runtimeHome, appender: appender, runners: make(map[key]Runner)}
}

// SetMetrics attaches the daemon's collectors; the supervisor keeps the
// per-actor runner health gauge current. Nil-safe.
func (s *Supervisor) SetMetrics(m *metrics.Collectors) { s.metrics = m }

func (s *Supervisor) recordHealth(groupID, actorID string, running bool) {
	if s.metrics == nil {
		return
	}
	v := 0.0
	if running {
		v = 1.0
	}
	s.metrics.WorkerHealth.WithLabelValues(groupID, actorID).Set(v)
}

func (s *Supervisor) pidFile(groupID, actorID string) string {
	return filepath.Join(s.runtimeHome, "pids", groupID, actorID+".pid")
}

// Register creates (but does not start) the Runner for an actor just added
// via actor.add. Calling Register twice for the same actor replaces the
// prior Runner only if it is not currently running.
func (s *Supervisor) Register(groupID string, add contracts.ActorAdd) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{groupID, add.ActorID}
	if existing, ok := s.runners[k]; ok && existing.Status().Lifecycle == StateRunning {
		return contracts.NewDomainError(contracts.CodeActorAlreadyRunning, "actor already running, cannot re-register", nil)
	}

	switch add.Runner {
	case contracts.RunnerPTY:
		if err := os.MkdirAll(filepath.Dir(s.pidFile(groupID, add.ActorID)), 0o755); err != nil {
			return fmt.Errorf("create pid dir: %w", err)
		}
		s.runners[k] = NewPTYRunner(add.ActorID, add.Command, nil, s.pidFile(groupID, add.ActorID))
	case contracts.RunnerHeadless:
		s.runners[k] = NewHeadlessRunner(add.ActorID)
	default:
		return contracts.NewValidationError("runner", "unknown runner kind")
	}
	return nil
}

// AdoptOrphans scans runtimeHome/pids for pid files left by a previous
// daemon process. A pid that is still alive is logged and its pid file is
// kept; no runner is created or marked running for it, so the process is
// not adopted into the supervisor. Stale pid files (process no longer
// alive) are removed.
func (s *Supervisor) AdoptOrphans() {
	root := filepath.Join(s.runtimeHome, "pids")
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, groupEntry := range entries {
		if !groupEntry.IsDir() {
			continue
		}
		groupID := groupEntry.Name()
		groupDir := filepath.Join(root, groupID)
		files, err := os.ReadDir(groupDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), ".pid") {
				continue
			}
			actorID := strings.TrimSuffix(f.Name(), ".pid")
			path := filepath.Join(groupDir, f.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
			if err != nil || !processAlive(pid) {
				os.Remove(path)
				continue
			}
			slog.Info("adopting still-running actor process", "group_id", groupID, "actor_id", actorID, "pid", pid)
			// The live process is only logged: it is not attached to a
			// runner or a pty handle.
		}
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscallSignal0()) == nil
}

// Start transitions actorID to starting then running, appending an
// actor.start event on success.
func (s *Supervisor) Start(ctx context.Context, groupID, actorID, by string) error {
	r := s.get(groupID, actorID)
	if r == nil {
		return contracts.NewDomainError(contracts.CodeNoSuchActor, "no such actor", map[string]interface{}{"actor_id": actorID})
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	s.recordHealth(groupID, actorID, true)
	_, err := s.appender.Append(groupID, contracts.KindActorStart, by, "", contracts.ActorLifecycle{ActorID: actorID})
	return err
}

// Stop transitions actorID through stopping back to stopped, appending an
// actor.stop event on success.
func (s *Supervisor) Stop(ctx context.Context, groupID, actorID, by, reason string) error {
	r := s.get(groupID, actorID)
	if r == nil {
		return contracts.NewDomainError(contracts.CodeNoSuchActor, "no such actor", map[string]interface{}{"actor_id": actorID})
	}
	if err := r.Stop(ctx, RestartDrainTimeout); err != nil {
		return err
	}
	s.recordHealth(groupID, actorID, false)
	_, err := s.appender.Append(groupID, contracts.KindActorStop, by, "", contracts.ActorLifecycle{ActorID: actorID, Reason: reason})
	return err
}

// Restart stops (graceful drain, then kill) and starts actorID, appending
// an actor.restart event. Start failures leave the actor crashed; they are
// not retried automatically.
func (s *Supervisor) Restart(ctx context.Context, groupID, actorID, by, reason string) error {
	r := s.get(groupID, actorID)
	if r == nil {
		return contracts.NewDomainError(contracts.CodeNoSuchActor, "no such actor", map[string]interface{}{"actor_id": actorID})
	}
	if err := r.Stop(ctx, RestartDrainTimeout); err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		s.recordHealth(groupID, actorID, false)
		return err
	}
	s.recordHealth(groupID, actorID, true)
	_, err := s.appender.Append(groupID, contracts.KindActorRestart, by, "", contracts.ActorLifecycle{ActorID: actorID, Reason: reason})
	return err
}

// Remove stops actorID if running and drops its Runner, appending an
// actor.remove event.
func (s *Supervisor) Remove(ctx context.Context, groupID, actorID, by string) error {
	r := s.get(groupID, actorID)
	if r != nil {
		_ = r.Stop(ctx, RestartDrainTimeout)
	}
	s.mu.Lock()
	delete(s.runners, key{groupID, actorID})
	s.mu.Unlock()
	s.recordHealth(groupID, actorID, false)
	_, err := s.appender.Append(groupID, contracts.KindActorRemove, by, "", contracts.ActorRemove{ActorID: actorID})
	return err
}

// Inject delivers rendered text to a running PTY actor via its Runner.
func (s *Supervisor) Inject(ctx context.Context, groupID, actorID, text string) error {
	r := s.get(groupID, actorID)
	if r == nil {
		return contracts.NewDomainError(contracts.CodeNoSuchActor, "no such actor", nil)
	}
	return r.Inject(ctx, text)
}

// Status reports the current Status for one actor, or ok=false if unknown.
func (s *Supervisor) Status(groupID, actorID string) (Status, bool) {
	r := s.get(groupID, actorID)
	if r == nil {
		return Status{}, false
	}
	return r.Status(), true
}

// TranscriptTail returns a PTY actor's recent output; empty for headless or
// unknown actors.
func (s *Supervisor) TranscriptTail(groupID, actorID string, n int) []byte {
	r := s.get(groupID, actorID)
	if r == nil {
		return nil
	}
	return r.TranscriptTail(n)
}

func (s *Supervisor) get(groupID, actorID string) Runner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runners[key{groupID, actorID}]
}

// Shutdown gracefully stops every managed actor, used during daemon
// shutdown.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.RLock()
	runners := make([]Runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			_ = r.Stop(ctx, RestartDrainTimeout)
		}(r)
	}
	wg.Wait()
}
