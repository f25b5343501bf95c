package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cccc-dev/cccc/pkg/bus"
	"github.com/cccc-dev/cccc/pkg/config"
	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/delivery"
	"github.com/cccc-dev/cccc/pkg/imbridge"
	"github.com/cccc-dev/cccc/pkg/kernel"
	"github.com/cccc-dev/cccc/pkg/ledger"
	"github.com/cccc-dev/cccc/pkg/masking"
	"github.com/cccc-dev/cccc/pkg/metrics"
	"github.com/cccc-dev/cccc/pkg/runner"
)

// appenderRef breaks the construction cycle between ledger.Store (which
// must be built with its publisher already in hand) and delivery.Engine /
// runner.Supervisor (which need an Appender that happens to be that same
// Store). Both sides are handed a *appenderRef at construction time; Store
// is set into it once, immediately after ledger.New returns.
type appenderRef struct {
	store atomic.Pointer[ledger.Store]
}

func (a *appenderRef) Append(groupID string, kind contracts.Kind, by, scopeKey string, data interface{}) (contracts.Event, error) {
	return a.store.Load().Append(groupID, kind, by, scopeKey, data)
}

// Daemon owns every subsystem for one runtime home and serializes mutating
// operations per group under the single-writer discipline.
type Daemon struct {
	Config config.Global

	Ledger      *ledger.Store
	Kernel      *kernel.Kernel
	KernelCache *kernel.Cache
	Runners     *runner.Supervisor
	Engine      *delivery.Engine
	Bus         *bus.Bus
	Masker      *masking.Masker
	Metrics     *metrics.Collectors
	IM          *imbridge.Registry
	Watcher     *config.Watcher

	mu         sync.Mutex
	groupLocks map[string]*sync.Mutex
}

// New wires every subsystem together against cfg.RuntimeHome. It does not
// yet restore any group state or start any background goroutine; call
// Start for that.
func New(cfg config.Global) (*Daemon, error) {
	appender := &appenderRef{}
	m := metrics.New()
	k := kernel.New()
	b := bus.New()
	b.SetMetrics(m)
	sup := runner.New(cfg.RuntimeHome, appender)
	sup.SetMetrics(m)
	eng := delivery.New(k, appender, sup, b)
	eng.SetMetrics(m)

	store, err := ledger.New(cfg.RuntimeHome, eng, ledger.DefaultSyncPolicy)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	appender.store.Store(store)

	watcher, err := config.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start config watcher: %w", err)
	}

	cachePath := filepath.Join(cfg.RuntimeHome, "daemon", "kernel_cache.bbolt")
	kcache, err := kernel.OpenCache(cachePath)
	if err != nil {
		return nil, fmt.Errorf("open kernel cache: %w", err)
	}

	return &Daemon{
		Config:      cfg,
		Ledger:      store,
		Kernel:      k,
		KernelCache: kcache,
		Runners:     sup,
		Engine:      eng,
		Bus:         b,
		Masker:      masking.New(),
		Metrics:     m,
		IM:          imbridge.NewRegistry(),
		Watcher:     watcher,
		groupLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// lockGroup returns (and lazily creates) the mutation mutex for groupID.
// Every Daemon method that appends more than one event, or that must read
// the kernel projection and act on it atomically, holds this lock while it
// checks and appends, so those steps for a single group are processed
// strictly one at a time. Actor control and compaction release it before
// their slow step (process start/stop, ledger rewrite).
func (d *Daemon) lockGroup(groupID string) func() {
	d.mu.Lock()
	l, ok := d.groupLocks[groupID]
	if !ok {
		l = &sync.Mutex{}
		d.groupLocks[groupID] = l
	}
	d.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// readAllEvents pages through groupID's entire ledger in ascending id order.
// Store.Read paginates defensively (200-event default window); restoring a
// kernel projection needs the full history, so this loops until the ledger
// reports no further events rather than trusting a single page.
func (d *Daemon) readAllEvents(groupID string) ([]contracts.Event, error) {
	const pageSize = 5000
	var all []contracts.Event
	var after contracts.EventID
	for {
		page, err := d.Ledger.Read(groupID, ledger.Filter{After: after, Limit: pageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Events...)
		if len(page.Events) == 0 || !page.HasAfter {
			break
		}
		after = page.Events[len(page.Events)-1].ID
	}
	return all, nil
}

// Start restores every group known to the runtime home (via registry.json,
// falling back to a directory scan), scans leftover actor pid files
// (AdoptOrphans), and begins the delivery engine's
// heartbeat. Blocks on nothing; ctx governs the lifetime of the heartbeat
// goroutine only.
func (d *Daemon) Start(ctx context.Context) error {
	ids, err := d.discoverGroups()
	if err != nil {
		return fmt.Errorf("discover groups: %w", err)
	}

	for _, groupID := range ids {
		if err := d.restoreGroup(groupID); err != nil {
			slog.Warn("failed to restore group at startup", "group_id", groupID, "err", err)
			continue
		}
		if err := d.Watcher.WatchGroup(d.Config.RuntimeHome, groupID); err != nil {
			slog.Warn("failed to watch group document", "group_id", groupID, "err", err)
		}
	}

	d.Runners.AdoptOrphans()
	go d.Engine.Run(ctx)
	go d.sweepIMBindings(ctx)
	go d.Watcher.Run(d.onGroupDocChanged)
	return nil
}

// discoverGroups prefers registry.json; if it is missing or unreadable it
// falls back to scanning the groups directory. The registry file itself is
// not rewritten here.
func (d *Daemon) discoverGroups() ([]string, error) {
	if reg, ok := config.LoadRegistry(d.Config.RuntimeHome); ok {
		ids := make([]string, 0, len(reg.Groups))
		for _, e := range reg.Groups {
			ids = append(ids, e.GroupID)
		}
		return ids, nil
	}
	ids, err := d.Ledger.ListGroups()
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// restoreGroup replays groupID's full ledger into the kernel projection and
// registers its actors with the runner supervisor (without starting them;
// AdoptOrphans, called once every group is loaded, decides which are
// already running).
func (d *Daemon) restoreGroup(groupID string) error {
	events, err := d.readAllEvents(groupID)
	if err != nil {
		return err
	}
	view := d.Kernel.RebuildWithCache(d.KernelCache, groupID, events)

	for _, a := range view.Actors {
		add := contracts.ActorAdd{
			ActorID: a.ActorID,
			Role:    a.Role,
			Runtime: a.Runtime,
			Runner:  a.Runner,
			Command: a.Command,
			Profile: a.Profile,
			Enabled: a.Enabled,
		}
		if err := d.Runners.Register(groupID, add); err != nil {
			slog.Warn("failed to register restored actor", "group_id", groupID, "actor_id", a.ActorID, "err", err)
		}
	}
	return nil
}

// sweepIMBindings periodically drops expired, unredeemed IM bridge binding
// keys so the registry never grows unbounded from abandoned bindings.
func (d *Daemon) sweepIMBindings(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.IM.Sweep()
		}
	}
}

// Shutdown stops every managed actor and closes the ledger, bus, and
// config watcher. Safe to call once, after ctx (passed to Start) has been
// cancelled.
func (d *Daemon) Shutdown(ctx context.Context) {
	d.Runners.Shutdown(ctx)
	if err := d.Ledger.Close(); err != nil {
		slog.Warn("error closing ledger store", "err", err)
	}
	if err := d.Bus.Close(); err != nil {
		slog.Warn("error closing bus", "err", err)
	}
	if err := d.Watcher.Close(); err != nil {
		slog.Warn("error closing config watcher", "err", err)
	}
	if err := d.KernelCache.Close(); err != nil {
		slog.Warn("error closing kernel cache", "err", err)
	}
}
