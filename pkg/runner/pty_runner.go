package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/sony/gobreaker"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// transcriptCap bounds the rolling transcript kept per PTY actor. The
// transcript is never written to the ledger; it lives only in this
// ring buffer for the duration of the process.
const transcriptCap = 64 * 1024

// PTYRunner spawns an agent command attached to a pseudo-terminal. A
// gobreaker.CircuitBreaker wraps injection attempts so a repeatedly
// crashing actor stops being hammered with nudge-driven injections — the
// breaker opens, Inject fails fast, and the caller (the delivery engine)
// sees that as a normal ErrNotInjectable rather than retrying into a dead
// process.
type PTYRunner struct {
	actorID string
	command []string
	env     map[string]string

	mu        sync.Mutex
	cmd       *exec.Cmd
	pty       *os.File
	state        LifecycleState
	startedAt    time.Time
	lastErr      string
	lastOutputAt time.Time
	transcript   *ringBuffer

	breaker *gobreaker.CircuitBreaker
	pidFile string
}

// NewPTYRunner constructs a PTYRunner for actorID. pidFile, if non-empty,
// is written with the child's pid while running so a restarted daemon can
// adopt a still-alive process.
func NewPTYRunner(actorID string, command []string, env map[string]string, pidFile string) *PTYRunner {
	r := &PTYRunner{
		actorID:    actorID,
		command:    command,
		env:        env,
		state:      StateStopped,
		transcript: newRingBuffer(transcriptCap),
		pidFile:    pidFile,
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pty-inject-" + actorID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return r
}

func (r *PTYRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRunning || r.state == StateStarting {
		return contracts.NewDomainError(contracts.CodeActorAlreadyRunning, "actor already running", map[string]interface{}{"actor_id": r.actorID})
	}
	r.state = StateStarting

	if len(r.command) == 0 {
		r.state = StateCrashed
		r.lastErr = "empty command"
		return contracts.NewDomainError(contracts.CodeInvalidPayload, "actor has no command configured", nil)
	}

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range r.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	f, err := pty.Start(cmd)
	if err != nil {
		r.state = StateCrashed
		r.lastErr = err.Error()
		return contracts.NewDomainError(contracts.CodeIOError, fmt.Sprintf("start pty: %v", err), nil)
	}

	r.cmd = cmd
	r.pty = f
	r.state = StateRunning
	r.startedAt = time.Now()
	r.lastErr = ""

	if r.pidFile != "" {
		_ = os.WriteFile(r.pidFile, []byte(fmt.Sprintf("%d", cmd.Process.Pid)), 0o644)
	}

	go r.pump()
	go r.awaitExit()
	return nil
}

// pump copies pty output into the rolling transcript buffer.
func (r *PTYRunner) pump() {
	buf := make([]byte, 4096)
	for {
		r.mu.Lock()
		f := r.pty
		r.mu.Unlock()
		if f == nil {
			return
		}
		n, err := f.Read(buf)
		if n > 0 {
			r.mu.Lock()
			r.transcript.Write(buf[:n])
			r.lastOutputAt = time.Now()
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// awaitExit observes process exit and transitions the runner to crashed if
// it exited while still expected to be running.
func (r *PTYRunner) awaitExit() {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil {
		return
	}
	err := cmd.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		r.state = StateCrashed
		if err != nil {
			r.lastErr = err.Error()
		}
	}
	if r.pidFile != "" {
		_ = os.Remove(r.pidFile)
	}
}

func (r *PTYRunner) Stop(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopping
	cmd := r.cmd
	f := r.pty
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		r.mu.Lock()
		r.state = StateStopped
		r.mu.Unlock()
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}

	if f != nil {
		_ = f.Close()
	}

	r.mu.Lock()
	r.state = StateStopped
	r.pty = nil
	r.mu.Unlock()

	if r.pidFile != "" {
		_ = os.Remove(r.pidFile)
	}
	return nil
}

func (r *PTYRunner) Inject(ctx context.Context, text string) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		r.mu.Lock()
		f := r.pty
		state := r.state
		r.mu.Unlock()
		if state != StateRunning || f == nil {
			return nil, ErrNotInjectable
		}
		if _, err := f.WriteString(text); err != nil {
			return nil, err
		}
		_, err := f.WriteString("\n")
		return nil, err
	})
	if err != nil {
		if err == ErrNotInjectable || err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return ErrNotInjectable
		}
		return contracts.NewDomainError(contracts.CodeIOError, fmt.Sprintf("inject: %v", err), nil)
	}
	return nil
}

func (r *PTYRunner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid := 0
	if r.cmd != nil && r.cmd.Process != nil {
		pid = r.cmd.Process.Pid
	}
	return Status{
		ActorID:      r.actorID,
		Runner:       contracts.RunnerPTY,
		Lifecycle:    r.state,
		PID:          pid,
		StartedAt:    r.startedAt,
		LastError:    r.lastErr,
		LastOutputAt: r.lastOutputAt,
	}
}

func (r *PTYRunner) TranscriptTail(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript.Tail(n)
}

// ringBuffer is a fixed-capacity byte ring used for the transcript tail.
type ringBuffer struct {
	buf   []byte
	start int
	len   int
}

func newRingBuffer(cap int) *ringBuffer {
	return &ringBuffer{buf: make([]byte, cap)}
}

func (r *ringBuffer) Write(p []byte) {
	cap := len(r.buf)
	if len(p) >= cap {
		copy(r.buf, p[len(p)-cap:])
		r.start = 0
		r.len = cap
		return
	}
	for _, b := range p {
		idx := (r.start + r.len) % cap
		r.buf[idx] = b
		if r.len < cap {
			r.len++
		} else {
			r.start = (r.start + 1) % cap
		}
	}
}

func (r *ringBuffer) Tail(n int) []byte {
	if n <= 0 || n > r.len {
		n = r.len
	}
	out := make([]byte, n)
	cap := len(r.buf)
	begin := (r.start + r.len - n + cap) % cap
	for i := 0; i < n; i++ {
		out[i] = r.buf[(begin+i)%cap]
	}
	return out
}
