package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// Compact replaces every event up to and including upTo with a single synthetic
// snapshot event carrying snapshotPayload. The snapshot is assigned upTo's
// own sequence number, so cursors and acks recorded against events that
// still exist continue to resolve correctly; anything referencing a
// compacted event now resolves against the snapshot instead. Compaction is
// never automatic — it only runs when an operator or a confirmed rule
// action requests it.
func (s *Store) Compact(groupID string, upTo contracts.EventID, snapshotPayload interface{}) error {
	gl, err := s.open(groupID, false)
	if err != nil {
		return err
	}

	gl.mu.Lock()
	defer gl.mu.Unlock()

	page, readErr := s.readAllLocked(gl)
	if readErr != nil {
		return readErr
	}

	cut := -1
	for i, e := range page {
		if e.ID == upTo {
			cut = i
			break
		}
	}
	if cut < 0 {
		return contracts.NewDomainError(contracts.CodeInvalidPayload, "compact: up_to event id not found", map[string]interface{}{"up_to": string(upTo)})
	}

	raw, err := json.Marshal(snapshotPayload)
	if err != nil {
		return fmt.Errorf("marshal snapshot payload: %w", err)
	}
	snap := contracts.Event{
		V:       contracts.EventEnvelopeVersion,
		ID:      upTo,
		TS:      page[cut].TS,
		Kind:    contracts.KindSnapshot,
		GroupID: groupID,
		By:      "system",
		Data:    raw,
	}

	tail := page[cut+1:]
	tmpPath := gl.path + ".compact.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open compaction tmp file: %w", err)
	}

	writeLine := func(e contracts.Event) error {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		line = append(line, '\n')
		_, err = tmp.Write(line)
		return err
	}

	if err := writeLine(snap); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot line: %w", err)
	}
	for _, e := range tail {
		if err := writeLine(e); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write tail line: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync compaction tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close compaction tmp file: %w", err)
	}

	// Swap the live append handle onto the freshly written file before the
	// rename lands, so a concurrent Append blocked on gl.mu never writes
	// through a stale descriptor once we unblock it.
	if err := gl.file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close old ledger handle: %w", err)
	}
	if err := os.Rename(tmpPath, gl.path); err != nil {
		return fmt.Errorf("install compacted ledger: %w", err)
	}
	f, err := os.OpenFile(gl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen compacted ledger for append: %w", err)
	}
	gl.file = f
	return nil
}

// readAllLocked reads every event currently on disk for gl. Caller must
// hold gl.mu; used by Compact, which needs a consistent view of the file it
// is about to rewrite.
func (s *Store) readAllLocked(gl *groupLedger) ([]contracts.Event, error) {
	f, err := os.Open(gl.path)
	if err != nil {
		return nil, contracts.NewDomainError(contracts.CodeIOError, err.Error(), nil)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var out []contracts.Event
	for dec.More() {
		var e contracts.Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		out = append(out, e)
	}
	return out, nil
}
