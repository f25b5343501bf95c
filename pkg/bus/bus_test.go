package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

func TestPublishSubscribeDeliversEvent(t *testing.T) {
	b := New()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "g1")
	require.NoError(t, err)
	defer sub.Close()

	evt, err := contracts.NewEvent(contracts.KindChatMessage, "g1", "", "user", contracts.ChatMessage{
		Text: "hi", Format: contracts.FormatPlain, To: []string{contracts.ToAll},
	})
	require.NoError(t, err)
	evt.ID = contracts.NewEventID(1)
	b.Publish("g1", evt)

	select {
	case got := <-sub.C:
		assert.Equal(t, evt.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribersAreIsolatedByGroup(t *testing.T) {
	b := New()
	defer b.Close()

	subA, err := b.Subscribe(context.Background(), "a")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := b.Subscribe(context.Background(), "b")
	require.NoError(t, err)
	defer subB.Close()

	evt, err := contracts.NewEvent(contracts.KindChatMessage, "a", "", "user", contracts.ChatMessage{
		Text: "for a", Format: contracts.FormatPlain, To: []string{contracts.ToAll},
	})
	require.NoError(t, err)
	b.Publish("a", evt)

	select {
	case got := <-subA.C:
		assert.Equal(t, "a", got.GroupID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event on group a")
	}

	select {
	case <-subB.C:
		t.Fatal("group b should not receive group a's event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseRemovesSubscriptionFromRegistry(t *testing.T) {
	b := New()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("g1"))

	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount("g1"))
}
