package ledger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

type fakePublisher struct {
	events []contracts.Event
}

func (p *fakePublisher) Publish(groupID string, evt contracts.Event) {
	p.events = append(p.events, evt)
}

func newTestStore(t *testing.T) (*Store, *fakePublisher) {
	t.Helper()
	dir := t.TempDir()
	pub := &fakePublisher{}
	store, err := New(dir, pub, DefaultSyncPolicy)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, pub
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	store, pub := newTestStore(t)

	evt1, err := store.Append("g1", contracts.KindGroupCreate, "user", "", contracts.GroupCreate{GroupID: "g1", Title: "Test"})
	require.NoError(t, err)
	assert.Equal(t, contracts.NewEventID(1), evt1.ID)

	evt2, err := store.Append("g1", contracts.KindChatMessage, "user", "", contracts.ChatMessage{
		Text:   "hello",
		Format: contracts.FormatPlain,
		To:     []string{contracts.ToAll},
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.NewEventID(2), evt2.ID)
	assert.True(t, evt1.ID.Less(evt2.ID))

	require.Len(t, pub.events, 2)
}

func TestAppendRejectsInvalidPayload(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Append("g1", contracts.KindChatMessage, "user", "", contracts.ChatMessage{})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeInvalidPayload, contracts.ErrCode(err))
}

func TestAppendToMissingGroupWithoutCreateFails(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Append("missing", contracts.KindChatMessage, "user", "", contracts.ChatMessage{
		Text: "hi", Format: contracts.FormatPlain, To: []string{contracts.ToAll},
	})
	require.Error(t, err)
	assert.Equal(t, contracts.CodeNoSuchGroup, contracts.ErrCode(err))
}

func TestReadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Append("g1", contracts.KindGroupCreate, "user", "", contracts.GroupCreate{GroupID: "g1", Title: "Test"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := store.Append("g1", contracts.KindChatMessage, "user", "", contracts.ChatMessage{
			Text: "msg", Format: contracts.FormatPlain, To: []string{contracts.ToAll},
		})
		require.NoError(t, err)
	}

	page, err := store.Read("g1", Filter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Events, 3)
	assert.False(t, page.HasBefore)
	assert.True(t, page.HasAfter)
}

func TestReadFiltersByKind(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Append("g1", contracts.KindGroupCreate, "user", "", contracts.GroupCreate{GroupID: "g1", Title: "Test"})
	require.NoError(t, err)
	_, err = store.Append("g1", contracts.KindChatMessage, "user", "", contracts.ChatMessage{
		Text: "hi", Format: contracts.FormatPlain, To: []string{contracts.ToAll},
	})
	require.NoError(t, err)

	page, err := store.Read("g1", Filter{Kinds: []contracts.Kind{contracts.KindChatMessage}})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, contracts.KindChatMessage, page.Events[0].Kind)
}

func TestCrashRecoveryTruncatesPartialLine(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	store, err := New(dir, pub, DefaultSyncPolicy)
	require.NoError(t, err)

	_, err = store.Append("g1", contracts.KindGroupCreate, "user", "", contracts.GroupCreate{GroupID: "g1", Title: "Test"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	path := dir + "/groups/g1/ledger.jsonl"
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"v":1,"id":"00000000000000000002","kind":"chat.mess`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	store2, err := New(dir, pub, DefaultSyncPolicy)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store2.Close() })

	page, err := store2.Read("g1", Filter{})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, contracts.KindLedgerRecovered, page.Events[1].Kind)
}

func TestBlobPutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	blob, err := store.Blobs().Put("g1", []byte("attachment bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, blob.SHA256)

	data, err := store.Blobs().Get(nil, "g1", blob.SHA256)
	require.NoError(t, err)
	assert.Equal(t, "attachment bytes", string(data))
}

func TestCompactReplacesPriorEventsWithSnapshot(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Append("g1", contracts.KindGroupCreate, "user", "", contracts.GroupCreate{GroupID: "g1", Title: "Test"})
	require.NoError(t, err)
	var lastID contracts.EventID
	for i := 0; i < 3; i++ {
		evt, err := store.Append("g1", contracts.KindChatMessage, "user", "", contracts.ChatMessage{
			Text: "msg", Format: contracts.FormatPlain, To: []string{contracts.ToAll},
		})
		require.NoError(t, err)
		lastID = evt.ID
	}
	tail, err := store.Append("g1", contracts.KindChatMessage, "user", "", contracts.ChatMessage{
		Text: "after cut", Format: contracts.FormatPlain, To: []string{contracts.ToAll},
	})
	require.NoError(t, err)

	require.NoError(t, store.Compact("g1", lastID, map[string]interface{}{"summary": "condensed"}))

	page, err := store.Read("g1", Filter{})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, contracts.KindSnapshot, page.Events[0].Kind)
	assert.Equal(t, lastID, page.Events[0].ID)
	assert.Equal(t, tail.ID, page.Events[1].ID)
}
