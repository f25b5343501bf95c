package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/metrics"
	"github.com/cccc-dev/cccc/pkg/runner"
)

// TickInterval is the heartbeat period for nudge evaluation and rule
// scheduling.
const TickInterval = time.Second

// Appender is the narrow slice of ledger.Store the engine needs: appending
// derived events (system.notify, automation-fired chat.message/
// group.set_state/group.automation_update, auto-mark chat.read). Kept as an
// interface, mirroring pkg/runner.Appender, so pkg/delivery never imports
// pkg/ledger directly.
type Appender interface {
	Append(groupID string, kind contracts.Kind, by, scopeKey string, data interface{}) (contracts.Event, error)
}

// ActorController is the narrow slice of runner.Supervisor the engine needs
// for injection, auto-wake, and actor_control rule actions.
type ActorController interface {
	Start(ctx context.Context, groupID, actorID, by string) error
	Stop(ctx context.Context, groupID, actorID, by, reason string) error
	Restart(ctx context.Context, groupID, actorID, by, reason string) error
	Inject(ctx context.Context, groupID, actorID, text string) error
	Status(groupID, actorID string) (runner.Status, bool)
}

// Notifier is the bus's publish side, forwarded to after the engine has
// applied an event to the kernel projection.
type Notifier interface {
	Publish(groupID string, evt contracts.Event)
}

type actorKey struct {
	groupID string
	actorID string
}

// Engine is the Delivery & Automation Engine. It implements ledger.Publisher
// so it can sit directly in the ledger store's commit path.
type Engine struct {
	kernel   *kernel.Kernel
	ledger   Appender
	actors   ActorController
	notifier Notifier
	metrics  *metrics.Collectors

	mu              sync.Mutex
	limiters        map[actorKey]*rate.Limiter
	pending         map[actorKey][]contracts.Event // queued events awaiting a throttle release
	digests         map[actorKey]*digestState
	lastChatAt      map[string]time.Time // group_id -> last chat.message commit time, for silence
	deliveredAt     map[actorKey]time.Time
	unreadSince     map[actorKey]time.Time
	obligationSince map[actorKey]map[contracts.EventID]time.Time // open reply-required obligations, by event
	ackSince        map[actorKey]map[contracts.EventID]time.Time // open attention acks, by event
	helpCounter     map[actorKey]int
	helpLastFired   map[actorKey]time.Time
	keepalive       map[actorKey]int
	compactionHint  map[string]bool // group_id -> suggestion already emitted
	ruleState       map[string]map[string]*ruleRuntime // group_id -> rule_id -> runtime
}

// New constructs an Engine. notifier is typically a *bus.Bus; it may be nil
// in tests that only exercise the delivery pipeline itself.
func New(k *kernel.Kernel, ledger Appender, actors ActorController, notifier Notifier) *Engine {
	return &Engine{
		kernel:          k,
		ledger:          ledger,
		actors:          actors,
		notifier:        notifier,
		limiters:        make(map[actorKey]*rate.Limiter),
		pending:         make(map[actorKey][]contracts.Event),
		digests:         make(map[actorKey]*digestState),
		lastChatAt:      make(map[string]time.Time),
		deliveredAt:     make(map[actorKey]time.Time),
		unreadSince:     make(map[actorKey]time.Time),
		obligationSince: make(map[actorKey]map[contracts.EventID]time.Time),
		ackSince:        make(map[actorKey]map[contracts.EventID]time.Time),
		helpCounter:     make(map[actorKey]int),
		helpLastFired:   make(map[actorKey]time.Time),
		keepalive:       make(map[actorKey]int),
		compactionHint:  make(map[string]bool),
		ruleState:       make(map[string]map[string]*ruleRuntime),
	}
}

// SetMetrics attaches the daemon's collectors; the engine updates the
// delivery-side numbers (events appended, queue depth, injection failures,
// nudges fired). Nil-safe: tests that exercise the pipeline alone skip it.
func (e *Engine) SetMetrics(m *metrics.Collectors) { e.metrics = m }

// Publish satisfies ledger.Publisher. It applies evt to the kernel
// projection, forwards it to the bus, and — for chat.message/chat.read
// commits — runs the synchronous half of the delivery pipeline.
func (e *Engine) Publish(groupID string, evt contracts.Event) {
	e.kernel.Apply(evt)
	if e.metrics != nil {
		e.metrics.EventsAppended.WithLabelValues(groupID, string(evt.Kind)).Inc()
	}

	switch evt.Kind {
	case contracts.KindChatMessage:
		e.trackChatActivity(groupID, evt)
		e.deliverChatMessage(context.Background(), groupID, evt)
	case contracts.KindChatRead:
		e.clearUnreadSince(groupID, evt)
	case contracts.KindChatAck:
		e.clearAckSince(groupID, evt)
	case contracts.KindGroupSetState, contracts.KindGroupStart:
		// Resuming from paused drains the backlog in
		// commit order immediately, rather than waiting for the next 1 Hz
		// tick to notice the state flip.
		if view := e.kernel.Group(groupID); view != nil && view.State != contracts.GroupPaused {
			e.releaseQueued(context.Background(), groupID, view)
		}
	}

	if e.notifier != nil {
		e.notifier.Publish(groupID, evt)
	}
}

// Run drives the 1 Hz heartbeat: nudge evaluation, throttle-queue release,
// and rule scheduling. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one heartbeat across every group the kernel currently holds.
// Built-in nudge policies always evaluate before user-defined rules, so a
// rule that also happens to satisfy a nudge condition this tick sees the
// nudge's event already committed.
func (e *Engine) tick(ctx context.Context) {
	for _, groupID := range e.kernel.Groups() {
		view := e.kernel.Group(groupID)
		if view == nil {
			continue
		}
		// A stopped group has no delivery, no nudges, and no automation;
		// its backlog and timers resume when it is started again.
		if view.State == contracts.GroupStopped {
			continue
		}
		e.releaseQueued(ctx, groupID, view)
		e.evaluateNudges(ctx, groupID, view)
		e.evaluateRules(ctx, groupID, view)
		e.suggestCompaction(groupID, view)
	}
}

// compactionSuggestThreshold is how many events past the last snapshot a
// group accumulates before the engine proposes (never performs) a
// compaction. The operator confirms via the ledger compact operation.
const compactionSuggestThreshold = 10000

// suggestCompaction emits a single advisory system.notify to the foreman
// once a group's uncompacted history grows past the threshold. Advisory
// only: compaction is always an explicit, confirmed operation.
func (e *Engine) suggestCompaction(groupID string, view *kernel.GroupView) {
	if view.EventsSinceSnapshot() < compactionSuggestThreshold {
		// Dropping back below the threshold means a compaction happened;
		// re-arm so the next accumulation produces a fresh suggestion.
		e.mu.Lock()
		delete(e.compactionHint, groupID)
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	already := e.compactionHint[groupID]
	e.compactionHint[groupID] = true
	e.mu.Unlock()
	if already {
		return
	}

	recipient := "user"
	if f := view.Foreman(); f != nil {
		recipient = f.ActorID
	}
	if _, err := e.ledger.Append(groupID, contracts.KindSystemNotify, "automation", "", contracts.SystemNotify{
		Reasons:   []string{contracts.ReasonCompaction},
		Recipient: recipient,
		Priority:  contracts.PriorityNormal,
	}); err != nil {
		logger(groupID).Warn("delivery: failed to append compaction suggestion", "err", err)
	}
}

func (e *Engine) limiterFor(k actorKey, minIntervalSeconds int) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	lim, ok := e.limiters[k]
	if !ok || lim == nil {
		lim = newLimiter(minIntervalSeconds)
		e.limiters[k] = lim
	}
	return lim
}

func newLimiter(minIntervalSeconds int) *rate.Limiter {
	if minIntervalSeconds <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	every := time.Duration(minIntervalSeconds) * time.Second
	return rate.NewLimiter(rate.Every(every), 1)
}

func logger(groupID string) *slog.Logger {
	return slog.With("component", "delivery", "group_id", groupID)
}
