package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// Filter scopes a Read call: callers either page forward from After, page backward from
// Before, or center on Around with BeforeCount/AfterCount events either
// side of it. Kinds, if non-empty, restricts to that set.
type Filter struct {
	Kinds       []contracts.Kind
	After       contracts.EventID
	Before      contracts.EventID
	Around      contracts.EventID
	BeforeCount int
	AfterCount  int
	Limit       int
	Contains    string // case-insensitive substring match against decoded text fields
}

func (f Filter) kindAllowed(k contracts.Kind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, want := range f.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Page is the result of a Read: the matching events in ascending id order,
// plus whether more events exist on either side of the returned window.
type Page struct {
	Events    []contracts.Event
	HasBefore bool
	HasAfter  bool
}

// Read scans groupID's ledger file end to end and applies filter in memory.
// The ledger is append-only and, for any group a human is actively working
// in, small enough that a full scan per query is simpler and more robust
// than maintaining a separate index; the kernel's bbolt-backed projection
// is where hot-path lookups (unread counts, obligations) actually live.
func (s *Store) Read(groupID string, filter Filter) (Page, error) {
	// Opening the group first runs tail recovery if a crash left a partial
	// final line, so a cold daemon's very first Read already sees the
	// truncated, well-formed ledger (plus its ledger.recovered marker,
	// published here once the store lock is back out of the picture).
	gl, err := s.open(groupID, false)
	if err != nil {
		return Page{}, err
	}
	s.drainPublish(gl, groupID)

	path := fmt.Sprintf("%s/ledger.jsonl", s.groupDir(groupID))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Page{}, contracts.NewDomainError(contracts.CodeNoSuchGroup, "no such group", map[string]interface{}{"group_id": groupID})
	}
	if err != nil {
		return Page{}, contracts.NewDomainError(contracts.CodeIOError, err.Error(), nil)
	}
	defer f.Close()

	var all []contracts.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var evt contracts.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			continue // a concurrent writer mid-append; the next Read will see it whole
		}
		if !filter.kindAllowed(evt.Kind) {
			continue
		}
		if filter.Contains != "" && !matchesText(evt, filter.Contains) {
			continue
		}
		all = append(all, evt)
	}
	if err := scanner.Err(); err != nil {
		return Page{}, contracts.NewDomainError(contracts.CodeIOError, err.Error(), nil)
	}

	return paginate(all, filter), nil
}

func matchesText(evt contracts.Event, needle string) bool {
	needle = strings.ToLower(needle)
	switch evt.Kind {
	case contracts.KindChatMessage:
		var m contracts.ChatMessage
		if err := evt.Decode(&m); err == nil {
			return strings.Contains(strings.ToLower(m.Text), needle)
		}
	}
	return strings.Contains(strings.ToLower(string(evt.Data)), needle)
}

func paginate(all []contracts.Event, filter Filter) Page {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	switch {
	case filter.Around != contracts.ZeroEventID:
		idx := indexOf(all, filter.Around)
		if idx < 0 {
			return Page{}
		}
		before := filter.BeforeCount
		after := filter.AfterCount
		start := idx - before
		hasBefore := start > 0
		if start < 0 {
			start = 0
		}
		end := idx + after + 1
		hasAfter := end < len(all)
		if end > len(all) {
			end = len(all)
		}
		return Page{Events: all[start:end], HasBefore: hasBefore, HasAfter: hasAfter}

	case filter.Before != contracts.ZeroEventID:
		idx := indexOf(all, filter.Before)
		if idx < 0 {
			idx = len(all)
		}
		start := idx - limit
		hasBefore := start > 0
		if start < 0 {
			start = 0
		}
		return Page{Events: all[start:idx], HasBefore: hasBefore, HasAfter: idx < len(all)}

	default: // After, possibly ZeroEventID meaning "from the start"
		idx := 0
		if filter.After != contracts.ZeroEventID {
			idx = indexOf(all, filter.After) + 1
			if idx <= 0 {
				idx = len(all)
			}
		}
		end := idx + limit
		hasAfter := end < len(all)
		if end > len(all) {
			end = len(all)
		}
		return Page{Events: all[idx:end], HasBefore: idx > 0, HasAfter: hasAfter}
	}
}

func indexOf(all []contracts.Event, id contracts.EventID) int {
	for i, e := range all {
		if e.ID == id {
			return i
		}
	}
	return -1
}
