package daemontest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

func TestHarnessGroupLifecycleOverIPC(t *testing.T) {
	h := New(t)
	c, err := h.Dial()
	require.NoError(t, err)
	defer c.Close()

	user := contracts.Principal{Kind: contracts.PrincipalUser}

	_, err = c.Do(user, "group.create", map[string]string{
		"group_id": "g1", "title": "Test Group", "topic": "testing",
	})
	require.NoError(t, err)

	raw, err := c.Do(user, "group.get", map[string]string{"group_id": "g1"})
	require.NoError(t, err)
	var view struct {
		Title string `json:"Title"`
		State string `json:"State"`
	}
	require.NoError(t, json.Unmarshal(raw, &view))
	require.Equal(t, "Test Group", view.Title)
	require.Equal(t, string(contracts.GroupActive), view.State)

	_, err = c.Do(user, "actor.add", map[string]interface{}{
		"group_id": "g1",
		"actor": map[string]interface{}{
			"actor_id": "foreman-1",
			"role":     "foreman",
			"runtime":  "custom",
			"runner":   "headless",
			"command":  []string{"true"},
			"enabled":  true,
		},
	})
	require.NoError(t, err)

	id, events, err := c.Subscribe("g1", contracts.ZeroEventID)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	foreman := contracts.Principal{Kind: contracts.PrincipalForeman, ActorID: "foreman-1"}
	_, err = c.Do(foreman, "message.send", map[string]interface{}{
		"group_id": "g1",
		"message":  map[string]interface{}{"text": "hello", "format": "plain"},
	})
	require.NoError(t, err)

	select {
	case evt := <-events:
		require.Equal(t, string(contracts.KindGroupCreate), string(evt.Event.Kind))
	default:
		t.Fatal("expected at least one catch-up event")
	}
}
