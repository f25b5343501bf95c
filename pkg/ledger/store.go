package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// Publisher is the notification sink a Store fans a freshly committed event
// out to. The daemon wires the delivery engine in as the Publisher, and the
// engine forwards each event on to the bus; ledger imports neither.
type Publisher interface {
	Publish(groupID string, evt contracts.Event)
}

// SyncPolicy controls how aggressively a group ledger fsyncs.
type SyncPolicy struct {
	// Interval is the maximum time a non-obligating append may sit
	// unsynced before a background syncer flushes it.
	Interval time.Duration
}

// DefaultSyncPolicy fsyncs at least once a second, and always synchronously
// before acking an event that carries an obligation or a lifecycle change.
var DefaultSyncPolicy = SyncPolicy{Interval: time.Second}

// Store is the daemon's append-only event log plus content-addressed blob
// store, scoped to one runtime home. It is the sole mutator of on-disk
// group state: one *groupLedger per group_id, guarded by its own mutex, so
// appends to different groups never contend.
type Store struct {
	groupsDir string
	blobs     *BlobStore
	publisher Publisher
	sync      SyncPolicy

	mu     sync.Mutex
	ledger map[string]*groupLedger
}

// New opens a Store rooted at runtimeHome (the ~/.cccc directory). It does
// not eagerly open any group; groups are opened lazily via Open or Append.
func New(runtimeHome string, publisher Publisher, sync SyncPolicy) (*Store, error) {
	groupsDir := filepath.Join(runtimeHome, "groups")
	if err := os.MkdirAll(groupsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create groups dir: %w", err)
	}
	blobs, err := newBlobStore(runtimeHome)
	if err != nil {
		return nil, err
	}
	return &Store{
		groupsDir: groupsDir,
		blobs:     blobs,
		publisher: publisher,
		sync:      sync,
		ledger:    make(map[string]*groupLedger),
	}, nil
}

// Blobs exposes the blob store for callers outside the append path (e.g.
// the IPC layer serving get_blob).
func (s *Store) Blobs() *BlobStore { return s.blobs }

// groupDir returns the on-disk directory for a group: groups/<group_id>/.
func (s *Store) groupDir(groupID string) string {
	return filepath.Join(s.groupsDir, groupID)
}

// groupLedger owns one group's ledger.jsonl. Every mutation of this struct
// — append, compact, recovery — happens while mu is held; readers obtain
// their own *os.File handle via os.Open so they never contend with the
// writer and never see a partial line (os.Open + sequential read only ever
// observes bytes already fsynced at the time the writer's append returned).
type groupLedger struct {
	mu       sync.Mutex
	path     string
	file     *os.File // append handle, O_APPEND
	seq      uint64   // last assigned sequence number
	unsynced int32    // writes since last fsync (atomic)
	lockFile *os.File // advisory single-writer lock

	// pubQueue holds committed events not yet handed to the publisher, in
	// commit order; publishing marks that some goroutine is currently
	// draining it. Publishing happens outside mu (see drainPublish) so a
	// publisher callback that appends derived events — auto-wake
	// actor.start, auto-mark chat.read, nudges — re-enters Append without
	// deadlocking on the lock its own trigger still held.
	pubQueue   []contracts.Event
	publishing bool
}

// Open returns the groupLedger for groupID, opening and (if necessary)
// recovering it from disk on first use. Returns CodeNoSuchGroup if the
// group directory does not exist and create is false.
func (s *Store) open(groupID string, create bool) (*groupLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gl, ok := s.ledger[groupID]; ok {
		return gl, nil
	}

	dir := s.groupDir(groupID)
	if _, err := os.Stat(dir); err != nil {
		if !create {
			return nil, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
		}
		if err := os.MkdirAll(filepath.Join(dir, "state", "blobs"), 0o755); err != nil {
			return nil, fmt.Errorf("create group dir: %w", err)
		}
	}

	lockPath := filepath.Join(dir, ".writer.lock")
	lockFile, err := acquireWriterLock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("acquire writer lock for group %s: %w", groupID, err)
	}

	path := filepath.Join(dir, "ledger.jsonl")
	lastSeq, recovered, err := recoverTail(path)
	if err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("recover ledger tail: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("open ledger for append: %w", err)
	}

	gl := &groupLedger{path: path, file: f, seq: lastSeq, lockFile: lockFile}
	s.ledger[groupID] = gl

	if recovered {
		// Emit the recovery marker directly against gl rather than going
		// back through Append/open (which would deadlock on s.mu). Commit
		// only — s.mu is still held here, so the marker is queued and
		// published by the caller's drain once the store lock is released.
		if _, err := s.appendLocked(gl, groupID, contracts.KindLedgerRecovered, "system", "", map[string]interface{}{
			"truncated_at_seq": lastSeq,
		}); err != nil {
			slog.Warn("failed to append ledger.recovered marker", "group_id", groupID, "err", err)
		}
	}
	return gl, nil
}

// acquireWriterLock takes a best-effort, single-host advisory lock: an
// exclusive-create marker file. This is not a kernel flock — on a single
// daemon process (the design this ships for) it is sufficient to catch the
// common mistake of starting a second daemon against the same runtime home;
// it does not protect against a second *machine* writing the same NFS path.
func acquireWriterLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("writer lock %s already held (is another daemon running against this runtime home?)", path)
		}
		return nil, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

func (gl *groupLedger) releaseLock() {
	if gl.lockFile != nil {
		path := gl.lockFile.Name()
		gl.lockFile.Close()
		os.Remove(path)
	}
}

// recoverTail scans an existing ledger file for a truncated final line
// (the signature of a crash mid-append) and, if found, truncates the file
// to the last well-formed record boundary. It returns the sequence number
// of the last well-formed event (0 if the file is empty or does not yet
// exist).
func recoverTail(path string) (lastSeq uint64, recovered bool, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	var validEnd int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	var offset int64
	truncated := false
	for scanner.Scan() {
		line := scanner.Bytes()
		var evt contracts.Event
		if decErr := json.Unmarshal(line, &evt); decErr != nil {
			truncated = true
			break
		}
		if seq, seqErr := evt.ID.Seq(); seqErr == nil {
			lastSeq = seq
		}
		offset += int64(len(line)) + 1
		validEnd = offset
	}
	if scanErr := scanner.Err(); scanErr != nil {
		truncated = true
	}

	if truncated {
		slog.Warn("ledger tail truncated after crash recovery", "path", path, "valid_end_offset", validEnd)
		if truncErr := os.Truncate(path, validEnd); truncErr != nil {
			return 0, false, fmt.Errorf("truncate corrupted tail: %w", truncErr)
		}
		return lastSeq, true, nil
	}
	return lastSeq, false, nil
}

// Append validates data against kind's contract, assigns the next id and
// timestamp, writes one JSON line, fsyncs per policy, and publishes the
// committed event. Fails atomically: on any error before the write is
// durable, no event is assigned and nothing is published.
func (s *Store) Append(groupID string, kind contracts.Kind, by, scopeKey string, data interface{}) (contracts.Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return contracts.Event{}, contracts.NewDomainError(contracts.CodeInvalidPayload, err.Error(), nil)
	}
	if err := contracts.ValidatePayload(kind, raw); err != nil {
		return contracts.Event{}, contracts.NewDomainError(contracts.CodeInvalidPayload, err.Error(), nil)
	}

	gl, err := s.open(groupID, kind == contracts.KindGroupCreate)
	if err != nil {
		return contracts.Event{}, err
	}
	return s.appendRaw(gl, groupID, kind, scopeKey, by, raw)
}

// appendLocked commits an event whose data is still a Go value, without
// draining the publish queue — used by crash recovery, which runs with
// s.mu held and must leave publishing to its caller.
func (s *Store) appendLocked(gl *groupLedger, groupID string, kind contracts.Kind, by, scopeKey string, data interface{}) (contracts.Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return contracts.Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return s.commitLine(gl, groupID, kind, scopeKey, by, raw)
}

// appendRaw commits one event and then drains the publish queue. Append
// funnels through here; the crash-recovery marker commits via appendLocked
// and leaves the drain to whichever caller releases the store lock.
func (s *Store) appendRaw(gl *groupLedger, groupID string, kind contracts.Kind, scopeKey, by string, raw json.RawMessage) (contracts.Event, error) {
	evt, err := s.commitLine(gl, groupID, kind, scopeKey, by, raw)
	if err != nil {
		return contracts.Event{}, err
	}
	s.drainPublish(gl, groupID)
	return evt, nil
}

// commitLine performs the durable half of an append under gl.mu: assign the
// next sequence number, write one line, fsync per policy, and enqueue the
// event for publishing. It never calls the publisher itself.
func (s *Store) commitLine(gl *groupLedger, groupID string, kind contracts.Kind, scopeKey, by string, raw json.RawMessage) (contracts.Event, error) {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	seq := gl.seq + 1
	evt := contracts.Event{
		V:        contracts.EventEnvelopeVersion,
		ID:       contracts.NewEventID(seq),
		TS:       time.Now().UTC(),
		Kind:     kind,
		GroupID:  groupID,
		ScopeKey: scopeKey,
		By:       by,
		Data:     raw,
	}

	line, err := json.Marshal(evt)
	if err != nil {
		return contracts.Event{}, contracts.NewDomainError(contracts.CodeInternalError, err.Error(), nil)
	}
	line = append(line, '\n')

	if _, err := gl.file.Write(line); err != nil {
		return contracts.Event{}, contracts.NewDomainError(contracts.CodeIOError, fmt.Sprintf("append: %v", err), nil)
	}

	mustSync := requiresDurability(kind, evt)
	if mustSync || atomic.AddInt32(&gl.unsynced, 1) == 1 {
		if err := gl.file.Sync(); err != nil {
			return contracts.Event{}, contracts.NewDomainError(contracts.CodeIOError, fmt.Sprintf("fsync: %v", err), nil)
		}
		atomic.StoreInt32(&gl.unsynced, 0)
	}

	// Only advance the in-memory sequence once the write (and, if
	// required, the fsync) has succeeded — a failed append never
	// advances state and is never published.
	gl.seq = seq

	if s.publisher != nil {
		gl.pubQueue = append(gl.pubQueue, evt)
	}
	return evt, nil
}

// drainPublish hands queued events to the publisher in commit order, with
// gl.mu released around every callback. Exactly one goroutine drains at a
// time: a publisher callback whose derived work re-enters Append (the
// delivery engine auto-waking an actor, auto-marking a read) finds
// publishing already set, enqueues, and returns — the outer drain loop
// then publishes the derived event right after the one that triggered it,
// on the same goroutine, before the outer Append returns. An Append racing
// on another goroutine may return before the active drainer gets to its
// event; the event is durable on disk at that point, and per-group
// mutation serialization in the daemon keeps user-visible read-your-writes
// intact.
func (s *Store) drainPublish(gl *groupLedger, groupID string) {
	if s.publisher == nil {
		return
	}
	gl.mu.Lock()
	if gl.publishing {
		gl.mu.Unlock()
		return
	}
	gl.publishing = true
	for len(gl.pubQueue) > 0 {
		evt := gl.pubQueue[0]
		gl.pubQueue = gl.pubQueue[1:]
		gl.mu.Unlock()
		s.publisher.Publish(groupID, evt)
		gl.mu.Lock()
	}
	gl.publishing = false
	gl.mu.Unlock()
}

// requiresDurability reports whether evt must be fsynced before Append
// returns success: events that carry obligations or lifecycle changes are
// always synced before the caller sees ok.
func requiresDurability(kind contracts.Kind, evt contracts.Event) bool {
	switch kind {
	case contracts.KindGroupCreate, contracts.KindGroupSetState, contracts.KindGroupStart,
		contracts.KindGroupStop, contracts.KindActorAdd, contracts.KindActorStart,
		contracts.KindActorStop, contracts.KindActorRestart, contracts.KindActorRemove,
		contracts.KindSnapshot, contracts.KindLedgerRecovered:
		return true
	case contracts.KindChatMessage:
		var m contracts.ChatMessage
		_ = evt.Decode(&m)
		return m.ReplyRequired || m.Priority == contracts.PriorityAttention
	default:
		return false
	}
}

// Close releases every open group ledger's resources (file handle and
// writer lock). Safe to call once during daemon shutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, gl := range s.ledger {
		gl.mu.Lock()
		if err := gl.file.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := gl.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		gl.releaseLock()
		gl.mu.Unlock()
		delete(s.ledger, id)
	}
	return firstErr
}

// groupIDFromPath extracts a group_id from a groups/<id>/ledger.jsonl path.
func groupIDFromPath(path string) string {
	return filepath.Base(filepath.Dir(path))
}

// ListGroups scans the runtime home's groups directory for group ids,
// sorted lexically, used as the registry.json fallback path.
func (s *Store) ListGroups() ([]string, error) {
	entries, err := os.ReadDir(s.groupsDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// seqToID converts a sequence number to its EventID.
func seqToID(seq uint64) contracts.EventID { return contracts.NewEventID(seq) }

// parseSeq parses a decimal sequence number from a string for use in
// query filters that accept bare numbers as well as EventIDs.
func parseSeq(s string) (uint64, error) {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
