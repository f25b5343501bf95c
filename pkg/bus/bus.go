package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cccc-dev/cccc/pkg/contracts"
	"github.com/cccc-dev/cccc/pkg/metrics"
)

// recentWindow bounds how many of a group's most recent events the bus
// keeps on hand to serve a subscribe catch-up without touching the ledger
// file at all. A window miss (request predates what's cached, or the group
// has never been seen) just falls back to a ledger read — the cache is
// purely an accelerator, never a second source of truth.
const recentWindow = 256

// deliveryBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is declared lagged rather than allowed to stall
// the publisher, mirroring ConnectionManager's "copy then release the
// lock before sending" discipline but pushed one step further: here a slow
// reader drops messages instead of blocking the writer goroutine at all.
const deliveryBuffer = 256

// Bus is a process-local publish/subscribe fabric keyed by group_id, built
// on watermill's in-memory gochannel transport. A daemon-wide topic
// ("system.notify" recipients, rule engine wakeups) is modeled as just
// another group_id topic — the bus has no special cases.
type Bus struct {
	pubsub  *gochannel.GoChannel
	logger  watermill.LoggerAdapter
	metrics *metrics.Collectors

	mu   sync.Mutex
	subs map[string][]*Subscription

	recentMu sync.Mutex
	recent   *lru.Cache[string, []contracts.Event]
}

// New constructs a Bus. The underlying transport always logs through
// watermill's no-op logger.
func New() *Bus {
	logger := watermill.NopLogger{}
	recent, err := lru.New[string, []contracts.Event](1024)
	if err != nil {
		panic(err) // unreachable: New only errors on a non-positive size
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: deliveryBuffer,
		}, logger),
		logger: logger,
		subs:   make(map[string][]*Subscription),
		recent: recent,
	}
}

// SetMetrics attaches the daemon's collectors; the bus keeps the
// subscriber gauge and lagged counter current. Nil-safe.
func (b *Bus) SetMetrics(m *metrics.Collectors) { b.metrics = m }

// Publish fans one committed event out to the group's subscribers. The
// daemon's delivery engine (the ledger store's Publisher) forwards every
// committed event here after applying it to the kernel.
func (b *Bus) Publish(groupID string, evt contracts.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return // unreachable: evt was already round-tripped through JSON to reach the ledger
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	_ = b.pubsub.Publish(groupID, msg)
	msg.Ack()

	b.recordRecent(groupID, evt)
}

func (b *Bus) recordRecent(groupID string, evt contracts.Event) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	events, _ := b.recent.Get(groupID)
	events = append(events, evt)
	if len(events) > recentWindow {
		events = events[len(events)-recentWindow:]
	}
	b.recent.Add(groupID, events)
}

// RecentSince returns every cached event for groupID strictly after after,
// and ok=true, only when the cache's window actually reaches back that
// far (after is contracts.ZeroEventID and the cache holds groupID's full
// history so far, or after matches one of the cached event ids). Any other
// case returns ok=false so the caller falls back to a ledger read.
func (b *Bus) RecentSince(groupID string, after contracts.EventID) ([]contracts.Event, bool) {
	b.recentMu.Lock()
	events, ok := b.recent.Get(groupID)
	b.recentMu.Unlock()
	if !ok || len(events) == 0 {
		return nil, false
	}

	if after == contracts.ZeroEventID {
		if len(events) == recentWindow {
			return nil, false // window may not cover the group's full history
		}
		if seq, err := events[0].ID.Seq(); err != nil || seq != 1 {
			return nil, false // cache began mid-history (e.g. after a daemon restart)
		}
		out := make([]contracts.Event, len(events))
		copy(out, events)
		return out, true
	}

	for i, evt := range events {
		if evt.ID == after {
			out := make([]contracts.Event, len(events)-i-1)
			copy(out, events[i+1:])
			return out, true
		}
	}
	return nil, false
}

// Subscription is a bounded, non-blocking view onto a group's event stream.
// Events arrives over C. If the consumer falls more than deliveryBuffer
// events behind, pending events are dropped and Lagged() reports true;
// the ipc layer surfaces this as an explicit "lagged" signal to the client,
// and the client is expected to resubscribe and replay via a ledger Read
// to recover the gap rather than trust anything buffered here.
type Subscription struct {
	C       <-chan contracts.Event
	lagged  int32
	cancel  context.CancelFunc
	bus     *Bus
	groupID string
}

// Lagged reports whether this subscription has dropped at least one event
// since the last call to ClearLagged.
func (s *Subscription) Lagged() bool { return atomic.LoadInt32(&s.lagged) == 1 }

// ClearLagged resets the lagged flag once the caller has told its client
// and expects a fresh resubscribe/catchup to follow.
func (s *Subscription) ClearLagged() { atomic.StoreInt32(&s.lagged, 0) }

// Close stops delivery and releases the subscription's goroutine.
func (s *Subscription) Close() {
	s.cancel()
	s.bus.forget(s)
}

func (b *Bus) forget(sub *Subscription) {
	b.mu.Lock()
	list := b.subs[sub.groupID]
	for i, s := range list {
		if s == sub {
			b.subs[sub.groupID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	count := len(b.subs[sub.groupID])
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.BusSubscribers.WithLabelValues(sub.groupID).Set(float64(count))
	}
}

// Subscribe opens a bounded event stream for groupID. The returned
// Subscription must be Closed by the caller when done (the ipc connection
// owning it does so when the client disconnects or unsubscribes).
func (b *Bus) Subscribe(ctx context.Context, groupID string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	raw, err := b.pubsub.Subscribe(ctx, groupID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("bus subscribe %s: %w", groupID, err)
	}

	out := make(chan contracts.Event, deliveryBuffer)
	sub := &Subscription{C: out, cancel: cancel, bus: b, groupID: groupID}

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var evt contracts.Event
				if err := json.Unmarshal(msg.Payload, &evt); err != nil {
					msg.Ack()
					continue
				}
				select {
				case out <- evt:
					msg.Ack()
				default:
					if atomic.CompareAndSwapInt32(&sub.lagged, 0, 1) && b.metrics != nil {
						b.metrics.BusLagged.WithLabelValues(groupID).Inc()
					}
					msg.Ack() // drop: the subscriber is behind, not the publisher's problem
				}
			}
		}
	}()

	b.mu.Lock()
	b.subs[groupID] = append(b.subs[groupID], sub)
	count := len(b.subs[groupID])
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.BusSubscribers.WithLabelValues(groupID).Set(float64(count))
	}
	return sub, nil
}

// SubscriberCount reports how many live subscriptions exist for groupID,
// used by daemon-level metrics and by tests that poll instead of sleeping.
func (b *Bus) SubscriberCount(groupID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[groupID])
}

// Close shuts down the underlying transport. Safe to call once during
// daemon shutdown; every live Subscription's goroutine exits because its
// raw channel closes.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
